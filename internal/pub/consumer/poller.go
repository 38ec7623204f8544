package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"pubclient/internal/pub"
	"pubclient/internal/pub/metrics"
	"pubclient/internal/validator"
)

// ErrPollerClosed is returned by Start after Close.
var ErrPollerClosed = errors.New("poller is closed")

// State is the lifecycle state of a Poller.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PollerConfig describes what a Poller consumes and how often.
type PollerConfig struct {
	Coordinate pub.Coordinate
	BatchSize  int           `env:"BATCH_SIZE" envDefault:"10"`
	Interval   time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithErrorHandler sets the callback receiving the error of every failed
// cycle. The default discards errors.
func WithErrorHandler(h pub.ErrorHandler) PollerOption {
	return func(p *Poller) {
		p.errorHandler = h
	}
}

// WithMetrics records cycle outcomes and the running state in registry.
func WithMetrics(registry *metrics.Registry) PollerOption {
	return func(p *Poller) {
		p.registry = registry
	}
}

// Poller runs Consume on a fixed-rate schedule, one cycle at a time.
//
// Cycles start Interval apart, measured from the scheduled start of the
// previous cycle. A cycle that takes longer than Interval is followed
// immediately by the next one; missed ticks are dropped. A failed cycle is
// reported to the error handler and never stops the schedule.
//
// The error handler may call Start, Stop or Close. The handler runs on the
// poller's goroutine and must not call Stop or Close, which wait for the
// running cycle.
type Poller struct {
	consumer     pub.Consumer
	handler      pub.Handler
	cfg          PollerConfig
	logger       *zap.Logger
	errorHandler pub.ErrorHandler
	registry     *metrics.Registry

	// ctx is cancelled by Close to cut short a running cycle.
	ctx    context.Context
	cancel context.CancelFunc

	// mu serializes Start, Stop and Close. It is never held while waiting
	// for the worker.
	mu    sync.Mutex
	state atomic.Int32
	stop  chan struct{}
	done  chan struct{}

	// reporting is set while the worker is inside the error handler. No read
	// or commit follows the handler once stop is closed.
	reporting atomic.Bool
}

func NewPoller(consumer pub.Consumer, handler pub.Handler, cfg PollerConfig, logger *zap.Logger, opts ...PollerOption) (*Poller, error) {
	p := Poller{
		consumer:     consumer,
		handler:      handler,
		cfg:          cfg,
		logger:       logger,
		errorHandler: pub.NopErrorHandler,
	}
	for _, opt := range opts {
		opt(&p)
	}

	if err := validator.Validate("poller", p.consumer, p.handler, p.logger, p.errorHandler); err != nil {
		return nil, fmt.Errorf("failed to validate poller deps: %w", err)
	}
	if err := errors.Join(
		cfg.Coordinate.Validate(),
		validator.Positive("poller", "batch size", cfg.BatchSize),
		validator.Positive("poller", "interval", cfg.Interval),
	); err != nil {
		return nil, fmt.Errorf("failed to validate poller config: %w", err)
	}

	p.logger = p.logger.Named("poller").With(zap.Stringer("coordinate", cfg.Coordinate))
	p.ctx, p.cancel = context.WithCancel(context.Background())

	return &p, nil
}

// State reports the current lifecycle state.
func (p *Poller) State() State {
	return State(p.state.Load())
}

// Start schedules the first cycle immediately and the following ones every
// Interval. Calling Start on a running poller does nothing. A worker left
// over from a previous Stop finishes before the first new cycle.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.State() {
	case StateClosed:
		return ErrPollerClosed
	case StateRunning:
		return nil
	}

	prev := p.done
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.state.Store(int32(StateRunning))
	p.setRunning(true)

	go p.run(prev, p.stop, p.done)

	p.logger.Info("poller started", zap.Duration("interval", p.cfg.Interval), zap.Int("batchSize", p.cfg.BatchSize))

	return nil
}

// Stop cancels future cycles and waits for a running cycle to finish. No
// read or commit is issued after Stop returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.State() != StateRunning {
		p.mu.Unlock()
		return
	}
	done := p.signal()
	p.state.Store(int32(StateIdle))
	p.mu.Unlock()

	p.wait(done)

	p.logger.Info("poller stopped")
}

// Close stops the poller for good. A running cycle has its context
// cancelled, so it ends at its next blocking call instead of completing.
func (p *Poller) Close() error {
	p.mu.Lock()
	if p.State() == StateClosed {
		p.mu.Unlock()
		return nil
	}
	p.cancel()
	var done chan struct{}
	if p.State() == StateRunning {
		done = p.signal()
	}
	p.state.Store(int32(StateClosed))
	p.mu.Unlock()

	if done != nil {
		p.wait(done)
	}

	p.logger.Info("poller closed")

	return nil
}

// signal tells the worker to exit after its current cycle. Callers hold mu.
func (p *Poller) signal() chan struct{} {
	close(p.stop)
	p.setRunning(false)
	return p.done
}

// wait blocks until the worker exits, unless it is inside the error handler,
// where the caller may be the worker itself.
func (p *Poller) wait(done <-chan struct{}) {
	if p.reporting.Load() {
		return
	}
	<-done
}

func (p *Poller) run(prev <-chan struct{}, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	if prev != nil {
		<-prev
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		default:
		}

		p.cycle()

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) cycle() {
	err := p.consume()
	if p.registry != nil {
		p.registry.RecordPollCycle(p.cfg.Coordinate, err)
	}
	if err == nil {
		return
	}

	p.logger.Warn("poll cycle failed", zap.Error(err))
	p.report(err)
}

func (p *Poller) consume() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll cycle panicked: %v", r)
		}
	}()

	_, err = p.consumer.Consume(p.ctx, p.cfg.Coordinate, p.cfg.BatchSize, p.handler)

	return err
}

func (p *Poller) report(err error) {
	p.reporting.Store(true)
	defer func() {
		p.reporting.Store(false)
		if r := recover(); r != nil {
			p.logger.Error("error handler panicked", zap.Any("panic", r))
		}
	}()

	p.errorHandler.OnError(err)
}

func (p *Poller) setRunning(running bool) {
	if p.registry != nil {
		p.registry.SetPollerRunning(p.cfg.Coordinate, running)
	}
}
