package consumer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"pubclient/internal/pub"
	"pubclient/internal/pub/tracing"
)

// TracedConsumer wraps a pub.Consumer with distributed tracing
// Layer order: TracedConsumer -> MetricsConsumer -> Consumer (real thing)
type TracedConsumer struct {
	consumer pub.Consumer
	tracer   *tracing.Tracer
}

// NewTracedConsumer creates a new traced consumer that wraps a metrics consumer
func NewTracedConsumer(consumer pub.Consumer, tracer *tracing.Tracer) pub.Consumer {
	return &TracedConsumer{
		consumer: consumer,
		tracer:   tracer,
	}
}

// Consume implements pub.Consumer.Consume with distributed tracing. The
// handler runs in a child span and each commit gets its own span.
func (c *TracedConsumer) Consume(ctx context.Context, coord pub.Coordinate, batchSize int, handler pub.Handler) (int, error) {
	ctx, span := c.tracer.StartSpan(ctx, "consumer.consume")
	span.SetAttributes(c.tracer.CoordinateAttributes(coord)...)
	span.SetAttributes(attribute.Int("pub.batch_size", batchSize))

	var wrapped pub.Handler
	if handler != nil {
		wrapped = pub.HandlerFunc(func(ctx context.Context, events []pub.Event, ack pub.Acknowledger) (err error) {
			ctx, span := c.tracer.StartSpan(ctx, "consumer.handle")
			span.SetAttributes(attribute.Int("pub.events", len(events)))
			defer func() {
				if r := recover(); r != nil {
					c.tracer.End(span, fmt.Errorf("handler panicked: %v", r))
					panic(r)
				}
				c.tracer.End(span, err)
			}()

			return handler.Handle(ctx, events, &tracedAcknowledger{ack: ack, coord: coord, tracer: c.tracer})
		})
	}

	consumed, err := c.consumer.Consume(ctx, coord, batchSize, wrapped)
	span.SetAttributes(attribute.Int("pub.events_consumed", consumed))
	c.tracer.End(span, err)

	return consumed, err
}

type tracedAcknowledger struct {
	ack    pub.Acknowledger
	coord  pub.Coordinate
	tracer *tracing.Tracer
}

func (a *tracedAcknowledger) Commit(ctx context.Context, ids ...uuid.UUID) (int, error) {
	ctx, span := a.tracer.StartSpan(ctx, "consumer.commit")
	span.SetAttributes(a.tracer.CoordinateAttributes(a.coord)...)
	span.SetAttributes(attribute.Int("pub.commit_requested", len(ids)))

	n, err := a.ack.Commit(ctx, ids...)
	span.SetAttributes(attribute.Int("pub.commit_acknowledged", n))
	a.tracer.End(span, err)

	return n, err
}
