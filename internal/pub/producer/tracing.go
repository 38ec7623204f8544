package producer

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pubclient/internal/pub"
	"pubclient/internal/pub/tracing"
)

// TracedPublisher wraps a pub.Publisher with distributed tracing
// Layer order: TracedPublisher -> MetricsPublisher -> Publisher (real thing)
type TracedPublisher struct {
	publisher pub.Publisher
	cfg       PublisherConfig
	tracer    *tracing.Tracer
}

// NewTracedPublisher creates a new traced publisher that wraps a metrics publisher
func NewTracedPublisher(publisher pub.Publisher, cfg PublisherConfig, tracer *tracing.Tracer) pub.Publisher {
	return &TracedPublisher{
		publisher: publisher,
		cfg:       cfg,
		tracer:    tracer,
	}
}

// Publish implements pub.Publisher.Publish with distributed tracing
func (p *TracedPublisher) Publish(ctx context.Context, req pub.PublishRequest) int {
	return p.PublishBatch(ctx, req)
}

// PublishBatch implements pub.Publisher.PublishBatch with distributed tracing.
// The error itself goes to the error handler, so a batch with nothing
// accepted is marked as failed.
func (p *TracedPublisher) PublishBatch(ctx context.Context, reqs ...pub.PublishRequest) int {
	ctx, span := p.tracer.StartSpan(ctx, "producer.publish_batch", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(p.tracer.PublishAttributes(p.cfg.Organization, p.cfg.Topic, len(reqs))...)

	accepted := p.publisher.PublishBatch(ctx, reqs...)
	span.SetAttributes(attribute.Int("pub.events_accepted", accepted))

	if accepted == 0 && len(reqs) > 0 {
		span.SetStatus(codes.Error, "no events accepted")
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return accepted
}
