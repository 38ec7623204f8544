package pub

import (
	"context"

	"github.com/google/uuid"
)

// Consumer defines the read/process/commit protocol for one poll cycle.
type Consumer interface {
	// Consume reads up to batchSize events for the coordinate and, if any
	// were returned, invokes handler once with the batch and an
	// Acknowledger scoped to it. It returns the number of events handed to
	// the handler. Errors from the read, the handler, or any commit are
	// returned to the caller.
	Consume(ctx context.Context, coord Coordinate, batchSize int, handler Handler) (int, error)
}

// Acknowledger commits events of the batch it was created for.
//
// An Acknowledger is only valid while the Handler that received it is
// running. Calling Commit after the handler returned fails with
// ErrAcknowledgerExpired.
type Acknowledger interface {
	// Commit marks ids as processed so the service will not redeliver them.
	// Each call issues a commit RPC and returns how many ids the service
	// acknowledged, which is never more than len(ids).
	Commit(ctx context.Context, ids ...uuid.UUID) (int, error)
}

// Handler is the business logic invoked once per non-empty batch.
// It decides which events to commit, when, and how many times.
type Handler interface {
	Handle(ctx context.Context, events []Event, ack Acknowledger) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, events []Event, ack Acknowledger) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, events []Event, ack Acknowledger) error {
	return f(ctx, events, ack)
}

// ErrorHandler observes failed poll cycles. It must not block for long,
// it runs on the poller's goroutine.
type ErrorHandler interface {
	OnError(err error)
}

// ErrorHandlerFunc adapts a function to the ErrorHandler interface.
type ErrorHandlerFunc func(err error)

// OnError calls f.
func (f ErrorHandlerFunc) OnError(err error) {
	f(err)
}

// NopErrorHandler discards errors.
var NopErrorHandler ErrorHandler = ErrorHandlerFunc(func(error) {})
