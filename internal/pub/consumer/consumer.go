// Package consumer implements the read/process/commit protocol and the
// poller that runs it on a fixed-rate schedule.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pubclient/internal/pub"
	"pubclient/internal/validator"
)

var (
	// ErrAcknowledgerExpired is returned by Acknowledger.Commit once the
	// handler that received the acknowledger has returned.
	ErrAcknowledgerExpired = errors.New("acknowledger used after its handler returned")

	// ErrHandlerPanic wraps a panic raised by a handler.
	ErrHandlerPanic = errors.New("handler panicked")
)

const opConsume = "consume"

var _ pub.Consumer = (*Consumer)(nil)

// Consumer runs one read/process/commit cycle per Consume call.
type Consumer struct {
	transport  pub.Transport
	logger     *zap.Logger
	redelivery RedeliveryConfig
	deadLetter DeadLetterHandler
	tracker    *deliveryTracker
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithRedelivery sets the commit retry and dead-letter policy.
func WithRedelivery(cfg RedeliveryConfig) Option {
	return func(c *Consumer) {
		c.redelivery = cfg
	}
}

// WithDeadLetterHandler sets the handler receiving events dropped by the
// redelivery policy. Without one, dropped events are only logged.
func WithDeadLetterHandler(h DeadLetterHandler) Option {
	return func(c *Consumer) {
		c.deadLetter = h
	}
}

func NewConsumer(transport pub.Transport, logger *zap.Logger, opts ...Option) (*Consumer, error) {
	c := Consumer{
		transport:  transport,
		logger:     logger,
		redelivery: DefaultRedeliveryConfig(),
	}
	for _, opt := range opts {
		opt(&c)
	}

	if err := validator.Validate("consumer", c.transport, c.logger); err != nil {
		return nil, fmt.Errorf("failed to validate consumer deps: %w", err)
	}
	if err := c.redelivery.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate redelivery config: %w", err)
	}

	c.logger = c.logger.Named("consumer")
	if c.deadLetter == nil {
		c.deadLetter = logDeadLetters(c.logger)
	}
	if c.redelivery.MaxDeliveries > 0 {
		tracker, err := newDeliveryTracker(c.redelivery.TrackerSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create delivery tracker: %w", err)
		}
		c.tracker = tracker
	}

	return &c, nil
}

// Consume implements pub.Consumer.Consume.
func (c *Consumer) Consume(ctx context.Context, coord pub.Coordinate, batchSize int, handler pub.Handler) (int, error) {
	if batchSize <= 0 {
		return 0, &pub.Error{Op: opConsume, Kind: pub.KindBadRequest, Detail: "batch size must be positive"}
	}
	if handler == nil {
		return 0, &pub.Error{Op: opConsume, Kind: pub.KindBadRequest, Detail: "handler is required"}
	}

	logger := c.logger.With(zap.Stringer("coordinate", coord))

	events, err := c.transport.Read(ctx, coord, batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to read events for %s: %w", coord, err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	logger.Debug("read events", zap.Int("count", len(events)))

	events, err = c.dropOverDelivered(ctx, logger, coord, events)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	ack := newAcknowledger(c, coord, events)
	err = invoke(ctx, handler, events, ack)
	commitErr := ack.expire()

	switch {
	case err != nil:
		return len(events), fmt.Errorf("failed to handle events for %s: %w", coord, err)
	case commitErr != nil:
		return len(events), fmt.Errorf("failed to commit events for %s: %w", coord, commitErr)
	}

	return len(events), nil
}

func invoke(ctx context.Context, handler pub.Handler, events []pub.Event, ack pub.Acknowledger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	return handler.Handle(ctx, events, ack)
}

// acknowledger commits ids of a single batch. It records the first commit
// failure so that a handler swallowing it still fails the cycle.
type acknowledger struct {
	consumer *Consumer
	coord    pub.Coordinate
	batch    map[uuid.UUID]struct{}

	mu      sync.Mutex
	expired bool
	err     error
}

func newAcknowledger(c *Consumer, coord pub.Coordinate, events []pub.Event) *acknowledger {
	batch := make(map[uuid.UUID]struct{}, len(events))
	for _, e := range events {
		batch[e.ID] = struct{}{}
	}

	return &acknowledger{
		consumer: c,
		coord:    coord,
		batch:    batch,
	}
}

// Commit implements pub.Acknowledger.Commit.
func (a *acknowledger) Commit(ctx context.Context, ids ...uuid.UUID) (int, error) {
	a.mu.Lock()
	expired := a.expired
	a.mu.Unlock()
	if expired {
		return 0, ErrAcknowledgerExpired
	}

	if len(ids) == 0 {
		return 0, nil
	}
	for _, id := range ids {
		if _, ok := a.batch[id]; !ok {
			return 0, &pub.Error{Op: "commit", Kind: pub.KindBadRequest, Detail: fmt.Sprintf("event %s is not part of the batch", id)}
		}
	}

	n, err := a.consumer.commit(ctx, a.coord, ids)
	if err != nil {
		a.mu.Lock()
		if a.err == nil {
			a.err = err
		}
		a.mu.Unlock()
		return 0, err
	}

	return max(0, min(n, len(ids))), nil
}

// expire invalidates the acknowledger and returns the first commit error.
func (a *acknowledger) expire() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.expired = true

	return a.err
}
