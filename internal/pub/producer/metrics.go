package producer

import (
	"context"
	"time"

	"pubclient/internal/pub"
	"pubclient/internal/pub/metrics"
)

// MetricsPublisher wraps a pub.Publisher with metrics collection
type MetricsPublisher struct {
	publisher pub.Publisher
	cfg       PublisherConfig
	registry  *metrics.Registry
}

// NewMetricsPublisher creates a new instrumented publisher for the topic in cfg
func NewMetricsPublisher(publisher pub.Publisher, cfg PublisherConfig, registry *metrics.Registry) pub.Publisher {
	return &MetricsPublisher{
		publisher: publisher,
		cfg:       cfg,
		registry:  registry,
	}
}

// Publish implements pub.Publisher.Publish with metrics collection
func (p *MetricsPublisher) Publish(ctx context.Context, req pub.PublishRequest) int {
	return p.PublishBatch(ctx, req)
}

// PublishBatch implements pub.Publisher.PublishBatch with metrics collection
func (p *MetricsPublisher) PublishBatch(ctx context.Context, reqs ...pub.PublishRequest) int {
	if len(reqs) == 0 {
		return 0
	}
	start := time.Now()

	accepted := p.publisher.PublishBatch(ctx, reqs...)
	p.registry.RecordPublish(p.cfg.Organization, p.cfg.Topic, len(reqs), accepted, time.Since(start))

	return accepted
}
