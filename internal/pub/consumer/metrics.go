package consumer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"pubclient/internal/pub"
	"pubclient/internal/pub/metrics"
)

// MetricsConsumer wraps a pub.Consumer with metrics collection
type MetricsConsumer struct {
	consumer pub.Consumer
	registry *metrics.Registry
}

// NewMetricsConsumer creates a new instrumented consumer
func NewMetricsConsumer(consumer pub.Consumer, registry *metrics.Registry) pub.Consumer {
	return &MetricsConsumer{
		consumer: consumer,
		registry: registry,
	}
}

// Consume implements pub.Consumer.Consume with metrics collection. Commits
// made by the handler are recorded through a wrapped Acknowledger.
func (c *MetricsConsumer) Consume(ctx context.Context, coord pub.Coordinate, batchSize int, handler pub.Handler) (int, error) {
	start := time.Now()

	var wrapped pub.Handler
	if handler != nil {
		wrapped = pub.HandlerFunc(func(ctx context.Context, events []pub.Event, ack pub.Acknowledger) error {
			return handler.Handle(ctx, events, &metricsAcknowledger{ack: ack, coord: coord, registry: c.registry})
		})
	}

	consumed, err := c.consumer.Consume(ctx, coord, batchSize, wrapped)
	c.registry.RecordConsume(coord, consumed, time.Since(start), err)

	return consumed, err
}

type metricsAcknowledger struct {
	ack      pub.Acknowledger
	coord    pub.Coordinate
	registry *metrics.Registry
}

func (a *metricsAcknowledger) Commit(ctx context.Context, ids ...uuid.UUID) (int, error) {
	n, err := a.ack.Commit(ctx, ids...)
	a.registry.RecordCommit(a.coord, n, err)

	return n, err
}

// MetricsDeadLetterHandler counts dead-lettered events before passing them to next.
func MetricsDeadLetterHandler(next DeadLetterHandler, registry *metrics.Registry) DeadLetterHandler {
	return DeadLetterHandlerFunc(func(ctx context.Context, coord pub.Coordinate, events []pub.Event) {
		registry.RecordDeadLetter(coord, len(events))
		if next != nil {
			next.OnDeadLetter(ctx, coord, events)
		}
	})
}
