package transport

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pubclient/internal/pub"
	"pubclient/internal/pub/tracing"
)

// TracedTransport wraps a pub.Transport with distributed tracing
// Layer order: TracedTransport -> MetricsTransport -> HTTPTransport
type TracedTransport struct {
	transport pub.Transport
	tracer    *tracing.Tracer
}

// NewTracedTransport creates a new traced transport
func NewTracedTransport(transport pub.Transport, tracer *tracing.Tracer) pub.Transport {
	return &TracedTransport{
		transport: transport,
		tracer:    tracer,
	}
}

// Read implements pub.Transport.Read with distributed tracing
func (t *TracedTransport) Read(ctx context.Context, coord pub.Coordinate, batchSize int) ([]pub.Event, error) {
	ctx, span := t.tracer.StartSpan(ctx, "transport.read", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(t.tracer.CoordinateAttributes(coord)...)
	span.SetAttributes(attribute.Int("pub.batch_size", batchSize))

	events, err := t.transport.Read(ctx, coord, batchSize)
	span.SetAttributes(attribute.Int("pub.events_read", len(events)))
	t.tracer.End(span, err)

	return events, err
}

// Commit implements pub.Transport.Commit with distributed tracing
func (t *TracedTransport) Commit(ctx context.Context, coord pub.Coordinate, ids []uuid.UUID) (int, error) {
	ctx, span := t.tracer.StartSpan(ctx, "transport.commit", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(t.tracer.CoordinateAttributes(coord)...)
	span.SetAttributes(attribute.Int("pub.commit_requested", len(ids)))

	n, err := t.transport.Commit(ctx, coord, ids)
	span.SetAttributes(attribute.Int("pub.commit_acknowledged", n))
	t.tracer.End(span, err)

	return n, err
}

// Publish implements pub.Transport.Publish with distributed tracing
func (t *TracedTransport) Publish(ctx context.Context, organization, topic string, reqs []pub.PublishRequest) (int, error) {
	ctx, span := t.tracer.StartSpan(ctx, "transport.publish", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(t.tracer.PublishAttributes(organization, topic, len(reqs))...)

	n, err := t.transport.Publish(ctx, organization, topic, reqs)
	span.SetAttributes(attribute.Int("pub.publish_accepted", n))
	t.tracer.End(span, err)

	return n, err
}
