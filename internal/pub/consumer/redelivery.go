package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"pubclient/internal/pub"
)

// RedeliveryConfig controls commit retries and the dead-letter threshold.
type RedeliveryConfig struct {
	// CommitAttempts is the maximum number of commit RPCs per Commit call.
	// Only transport failures and server errors are retried.
	CommitAttempts int `env:"COMMIT_ATTEMPTS" envDefault:"1"`
	// CommitBackoff is the initial wait between commit attempts.
	CommitBackoff time.Duration `env:"COMMIT_BACKOFF" envDefault:"100ms"`
	// MaxDeliveries drops events delivered more than this many times. Zero disables it.
	MaxDeliveries int `env:"MAX_DELIVERIES" envDefault:"0"`
	// TrackerSize bounds how many event ids are tracked for MaxDeliveries.
	TrackerSize int `env:"DELIVERY_TRACKER_SIZE" envDefault:"10000"`
}

// DefaultRedeliveryConfig performs a single commit RPC and never drops events.
func DefaultRedeliveryConfig() RedeliveryConfig {
	return RedeliveryConfig{
		CommitAttempts: 1,
		CommitBackoff:  100 * time.Millisecond,
		TrackerSize:    10000,
	}
}

func (c RedeliveryConfig) Validate() error {
	var errs []error
	if c.CommitAttempts < 1 {
		errs = append(errs, errors.New("commit attempts must be at least 1"))
	}
	if c.CommitBackoff < 0 {
		errs = append(errs, errors.New("commit backoff must not be negative"))
	}
	if c.MaxDeliveries < 0 {
		errs = append(errs, errors.New("max deliveries must not be negative"))
	}
	if c.MaxDeliveries > 0 && c.TrackerSize < 1 {
		errs = append(errs, errors.New("tracker size must be positive when max deliveries is set"))
	}

	return errors.Join(errs...)
}

// DeadLetterHandler receives events that exceeded MaxDeliveries. The events
// are committed after it returns.
type DeadLetterHandler interface {
	OnDeadLetter(ctx context.Context, coord pub.Coordinate, events []pub.Event)
}

// DeadLetterHandlerFunc adapts a function to the DeadLetterHandler interface.
type DeadLetterHandlerFunc func(ctx context.Context, coord pub.Coordinate, events []pub.Event)

// OnDeadLetter calls f.
func (f DeadLetterHandlerFunc) OnDeadLetter(ctx context.Context, coord pub.Coordinate, events []pub.Event) {
	f(ctx, coord, events)
}

func logDeadLetters(logger *zap.Logger) DeadLetterHandler {
	return DeadLetterHandlerFunc(func(_ context.Context, coord pub.Coordinate, events []pub.Event) {
		for _, e := range events {
			logger.Warn("dropping over-delivered event", zap.Stringer("coordinate", coord), zap.Stringer("eventId", e.ID))
		}
	})
}

// deliveryTracker counts deliveries per event id. Least recently seen ids
// are evicted first, which resets their count.
type deliveryTracker struct {
	mu    sync.Mutex
	cache *lru.Cache[uuid.UUID, int]
}

func newDeliveryTracker(size int) (*deliveryTracker, error) {
	cache, err := lru.New[uuid.UUID, int](size)
	if err != nil {
		return nil, err
	}

	return &deliveryTracker{cache: cache}, nil
}

// observe increments the delivery count of id and returns it.
func (t *deliveryTracker) observe(id uuid.UUID) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, _ := t.cache.Get(id)
	n++
	t.cache.Add(id, n)

	return n
}

func (t *deliveryTracker) forget(ids []uuid.UUID) {
	for _, id := range ids {
		t.cache.Remove(id)
	}
}

// dropOverDelivered removes events delivered more than MaxDeliveries times
// from the batch, hands them to the dead-letter handler and commits them.
func (c *Consumer) dropOverDelivered(ctx context.Context, logger *zap.Logger, coord pub.Coordinate, events []pub.Event) ([]pub.Event, error) {
	if c.tracker == nil {
		return events, nil
	}

	var live, dead []pub.Event
	for _, e := range events {
		if c.tracker.observe(e.ID) > c.redelivery.MaxDeliveries {
			dead = append(dead, e)
			continue
		}
		live = append(live, e)
	}
	if len(dead) == 0 {
		return events, nil
	}

	logger.Info("dead-lettering events", zap.Int("count", len(dead)), zap.Int("maxDeliveries", c.redelivery.MaxDeliveries))
	c.deadLetter.OnDeadLetter(ctx, coord, dead)

	if _, err := c.commit(ctx, coord, pub.IDs(dead)); err != nil {
		return nil, fmt.Errorf("failed to commit dead-lettered events for %s: %w", coord, err)
	}

	return live, nil
}

// commit sends one commit RPC, retrying retryable failures up to
// CommitAttempts times with exponential backoff.
func (c *Consumer) commit(ctx context.Context, coord pub.Coordinate, ids []uuid.UUID) (int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.redelivery.CommitBackoff

	n, err := backoff.Retry(ctx, func() (int, error) {
		n, err := c.transport.Commit(ctx, coord, ids)
		if err != nil && !pub.IsRetryable(err) {
			return 0, backoff.Permanent(err)
		}
		return n, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.redelivery.CommitAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("retrying commit", zap.Stringer("coordinate", coord), zap.Duration("backoff", next), zap.Error(err))
		}),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
		return 0, err
	}

	if c.tracker != nil {
		c.tracker.forget(ids)
	}

	return n, nil
}
