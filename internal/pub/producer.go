package pub

import "context"

// Publisher defines the interface for publishing events to a topic.
// Failures are reported to a PublishErrorHandler and never returned.
type Publisher interface {
	// Publish publishes one event and returns the number the service accepted.
	Publish(ctx context.Context, req PublishRequest) int

	// PublishBatch publishes events in a single call and returns the number
	// the service accepted, or 0 on failure.
	PublishBatch(ctx context.Context, reqs ...PublishRequest) int
}

// PublishErrorHandler receives a failed publish together with the
// requests that were rejected.
type PublishErrorHandler interface {
	OnPublishError(err error, reqs []PublishRequest)
}

// PublishErrorHandlerFunc adapts a function to the PublishErrorHandler interface.
type PublishErrorHandlerFunc func(err error, reqs []PublishRequest)

// OnPublishError calls f.
func (f PublishErrorHandlerFunc) OnPublishError(err error, reqs []PublishRequest) {
	f(err, reqs)
}
