package transport

import (
	"context"
	"time"

	"github.com/google/uuid"

	"pubclient/internal/pub"
	"pubclient/internal/pub/metrics"
)

// MetricsTransport wraps a pub.Transport with metrics collection
type MetricsTransport struct {
	transport pub.Transport
	registry  *metrics.Registry
}

// NewMetricsTransport creates a new instrumented transport
func NewMetricsTransport(transport pub.Transport, registry *metrics.Registry) pub.Transport {
	return &MetricsTransport{
		transport: transport,
		registry:  registry,
	}
}

// Read implements pub.Transport.Read with metrics collection
func (t *MetricsTransport) Read(ctx context.Context, coord pub.Coordinate, batchSize int) ([]pub.Event, error) {
	start := time.Now()

	events, err := t.transport.Read(ctx, coord, batchSize)
	t.registry.RecordTransportRequest(opRead, time.Since(start), err)

	return events, err
}

// Commit implements pub.Transport.Commit with metrics collection
func (t *MetricsTransport) Commit(ctx context.Context, coord pub.Coordinate, ids []uuid.UUID) (int, error) {
	start := time.Now()

	n, err := t.transport.Commit(ctx, coord, ids)
	t.registry.RecordTransportRequest(opCommit, time.Since(start), err)

	return n, err
}

// Publish implements pub.Transport.Publish with metrics collection
func (t *MetricsTransport) Publish(ctx context.Context, organization, topic string, reqs []pub.PublishRequest) (int, error) {
	start := time.Now()

	n, err := t.transport.Publish(ctx, organization, topic, reqs)
	t.registry.RecordTransportRequest(opPublish, time.Since(start), err)

	return n, err
}
