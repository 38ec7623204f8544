// Package producer publishes events to a topic. Publish failures never
// reach the caller; they are passed to a pub.PublishErrorHandler instead.
package producer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"pubclient/internal/pub"
	"pubclient/internal/validator"
)

// PublisherConfig names the topic a Publisher writes to.
type PublisherConfig struct {
	Organization string `env:"ORGANIZATION" envDefault:"org"`
	Topic        string `env:"TOPIC" envDefault:"topic"`
}

var _ pub.Publisher = (*Publisher)(nil)

type Publisher struct {
	transport    pub.Transport
	cfg          PublisherConfig
	logger       *zap.Logger
	errorHandler pub.PublishErrorHandler
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithErrorHandler sets the handler receiving failed publishes. The default
// only logs them.
func WithErrorHandler(h pub.PublishErrorHandler) Option {
	return func(p *Publisher) {
		p.errorHandler = h
	}
}

func NewPublisher(transport pub.Transport, cfg PublisherConfig, logger *zap.Logger, opts ...Option) (*Publisher, error) {
	p := Publisher{
		transport:    transport,
		cfg:          cfg,
		logger:       logger,
		errorHandler: pub.PublishErrorHandlerFunc(func(error, []pub.PublishRequest) {}),
	}
	for _, opt := range opts {
		opt(&p)
	}

	if err := validator.Validate("publisher", p.transport, p.logger, p.errorHandler, p.cfg.Organization, p.cfg.Topic); err != nil {
		return nil, fmt.Errorf("failed to validate publisher deps: %w", err)
	}
	p.logger = p.logger.Named("publisher").With(zap.String("organization", cfg.Organization), zap.String("topic", cfg.Topic))

	return &p, nil
}

// Publish implements pub.Publisher.Publish.
func (p *Publisher) Publish(ctx context.Context, req pub.PublishRequest) int {
	return p.PublishBatch(ctx, req)
}

// PublishBatch implements pub.Publisher.PublishBatch. It issues one publish
// call for all reqs and returns 0 without a call when reqs is empty.
func (p *Publisher) PublishBatch(ctx context.Context, reqs ...pub.PublishRequest) int {
	if len(reqs) == 0 {
		return 0
	}

	n, err := p.transport.Publish(ctx, p.cfg.Organization, p.cfg.Topic, reqs)
	if err != nil {
		err = fmt.Errorf("failed to publish %d events to %s/%s: %w", len(reqs), p.cfg.Organization, p.cfg.Topic, err)
		p.logger.Warn("publish failed", zap.Int("count", len(reqs)), zap.Error(err))
		p.report(err, reqs)
		return 0
	}

	p.logger.Debug("published events", zap.Int("count", len(reqs)), zap.Int("accepted", n))

	return n
}

func (p *Publisher) report(err error, reqs []pub.PublishRequest) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("publish error handler panicked", zap.Any("panic", r))
		}
	}()

	p.errorHandler.OnPublishError(err, reqs)
}
