package consumer_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pubclient/internal/pub"
	"pubclient/internal/pub/consumer"
	"pubclient/internal/pub/metrics"
	"pubclient/internal/pub/mocks"
	"pubclient/internal/pub/transport"
	"pubclient/internal/pubsubtest"
)

// stubConsumer counts Consume calls and delegates to fn when set.
type stubConsumer struct {
	calls   atomic.Int32
	active  atomic.Int32
	overlap atomic.Bool
	fn      func(ctx context.Context) error
}

func (s *stubConsumer) Consume(ctx context.Context, _ pub.Coordinate, _ int, _ pub.Handler) (int, error) {
	if s.active.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.active.Add(-1)
	s.calls.Add(1)

	if s.fn != nil {
		return 0, s.fn(ctx)
	}
	return 0, nil
}

type errorCounter struct {
	mu   sync.Mutex
	errs []error
}

func (c *errorCounter) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *errorCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}

var nopHandler = pub.HandlerFunc(func(context.Context, []pub.Event, pub.Acknowledger) error { return nil })

func newPoller(t *testing.T, c pub.Consumer, handler pub.Handler, interval time.Duration, opts ...consumer.PollerOption) *consumer.Poller {
	t.Helper()
	p, err := consumer.NewPoller(c, handler, consumer.PollerConfig{
		Coordinate: coord,
		BatchSize:  10,
		Interval:   interval,
	}, zap.NewNop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestNewPoller_Validation(t *testing.T) {
	stub := &stubConsumer{}

	tests := []struct {
		name     string
		consumer pub.Consumer
		handler  pub.Handler
		cfg      consumer.PollerConfig
	}{
		{name: "no consumer", handler: nopHandler, cfg: consumer.PollerConfig{Coordinate: coord, BatchSize: 1, Interval: time.Second}},
		{name: "no handler", consumer: stub, cfg: consumer.PollerConfig{Coordinate: coord, BatchSize: 1, Interval: time.Second}},
		{name: "no batch size", consumer: stub, handler: nopHandler, cfg: consumer.PollerConfig{Coordinate: coord, Interval: time.Second}},
		{name: "no interval", consumer: stub, handler: nopHandler, cfg: consumer.PollerConfig{Coordinate: coord, BatchSize: 1}},
		{name: "no coordinate", consumer: stub, handler: nopHandler, cfg: consumer.PollerConfig{BatchSize: 1, Interval: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := consumer.NewPoller(tt.consumer, tt.handler, tt.cfg, zap.NewNop())
			require.Error(t, err)
		})
	}
}

func TestPoller_FixedRate(t *testing.T) {
	stub := &stubConsumer{}
	p := newPoller(t, stub, nopHandler, 100*time.Millisecond)

	require.NoError(t, p.Start())
	time.Sleep(950 * time.Millisecond)
	p.Stop()

	assert.GreaterOrEqual(t, int(stub.calls.Load()), 9)
}

func TestPoller_FirstCycleIsImmediate(t *testing.T) {
	stub := &stubConsumer{}
	p := newPoller(t, stub, nopHandler, time.Hour)

	require.NoError(t, p.Start())
	assert.Eventually(t, func() bool { return stub.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPoller_StartTwiceKeepsOneSchedule(t *testing.T) {
	stub := &stubConsumer{}
	p := newPoller(t, stub, nopHandler, 100*time.Millisecond)

	require.NoError(t, p.Start())
	require.NoError(t, p.Start())
	time.Sleep(550 * time.Millisecond)
	p.Stop()

	calls := int(stub.calls.Load())
	assert.GreaterOrEqual(t, calls, 5)
	assert.LessOrEqual(t, calls, 7)
}

func TestPoller_OverrunRunsBackToBackWithoutOverlap(t *testing.T) {
	stub := &stubConsumer{fn: func(context.Context) error {
		time.Sleep(60 * time.Millisecond)
		return nil
	}}
	p := newPoller(t, stub, nopHandler, 20*time.Millisecond)

	require.NoError(t, p.Start())
	time.Sleep(400 * time.Millisecond)
	p.Stop()

	calls := int(stub.calls.Load())
	assert.GreaterOrEqual(t, calls, 5)
	assert.LessOrEqual(t, calls, 8)
	assert.False(t, stub.overlap.Load())
}

func TestPoller_StopHaltsCycles(t *testing.T) {
	stub := &stubConsumer{}
	p := newPoller(t, stub, nopHandler, 20*time.Millisecond)

	require.NoError(t, p.Start())
	time.Sleep(100 * time.Millisecond)
	p.Stop()
	assert.Equal(t, consumer.StateIdle, p.State())

	calls := stub.calls.Load()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, calls, stub.calls.Load())

	// restartable after stop
	require.NoError(t, p.Start())
	assert.Eventually(t, func() bool { return stub.calls.Load() > calls }, time.Second, 5*time.Millisecond)
}

func TestPoller_StopWaitsForRunningCycle(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	stub := &stubConsumer{fn: func(ctx context.Context) error {
		close(started)
		time.Sleep(100 * time.Millisecond)
		finished.Store(ctx.Err() == nil)
		return nil
	}}
	p := newPoller(t, stub, nopHandler, time.Hour)

	require.NoError(t, p.Start())
	<-started
	p.Stop()

	assert.True(t, finished.Load())
}

func TestPoller_CloseCancelsRunningCycle(t *testing.T) {
	started := make(chan struct{})
	stub := &stubConsumer{fn: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}
	p := newPoller(t, stub, nopHandler, time.Hour)

	require.NoError(t, p.Start())
	<-started

	closed := make(chan struct{})
	go func() {
		_ = p.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("close did not cancel the running cycle")
	}

	assert.Equal(t, consumer.StateClosed, p.State())
	require.ErrorIs(t, p.Start(), consumer.ErrPollerClosed)
	require.NoError(t, p.Close())
}

func TestPoller_StateTransitions(t *testing.T) {
	p := newPoller(t, &stubConsumer{}, nopHandler, time.Hour)

	assert.Equal(t, consumer.StateIdle, p.State())
	p.Stop()
	assert.Equal(t, consumer.StateIdle, p.State())

	require.NoError(t, p.Start())
	assert.Equal(t, consumer.StateRunning, p.State())

	require.NoError(t, p.Close())
	assert.Equal(t, consumer.StateClosed, p.State())
	assert.Equal(t, "closed", p.State().String())
}

func TestPoller_FailuresReachErrorHandlerAndScheduleContinues(t *testing.T) {
	boom := errors.New("boom")
	stub := &stubConsumer{fn: func(context.Context) error { return boom }}
	errs := &errorCounter{}
	p := newPoller(t, stub, nopHandler, 20*time.Millisecond, consumer.WithErrorHandler(errs))

	require.NoError(t, p.Start())
	time.Sleep(200 * time.Millisecond)
	p.Stop()

	calls := int(stub.calls.Load())
	assert.GreaterOrEqual(t, calls, 5)
	assert.Equal(t, calls, errs.count())
	for _, err := range errs.errs {
		assert.ErrorIs(t, err, boom)
	}
}

func TestPoller_RecoversPanics(t *testing.T) {
	stub := &stubConsumer{fn: func(context.Context) error { panic("consumer bug") }}
	var reported atomic.Int32
	p := newPoller(t, stub, nopHandler, 20*time.Millisecond, consumer.WithErrorHandler(pub.ErrorHandlerFunc(func(error) {
		reported.Add(1)
		panic("error handler bug")
	})))

	require.NoError(t, p.Start())
	assert.Eventually(t, func() bool { return reported.Load() >= 3 }, time.Second, 5*time.Millisecond)
	p.Stop()
}

func TestPoller_StopFromErrorHandler(t *testing.T) {
	stub := &stubConsumer{fn: func(context.Context) error { return errors.New("boom") }}
	stopped := make(chan struct{})
	var p *consumer.Poller
	p = newPoller(t, stub, nopHandler, 10*time.Millisecond, consumer.WithErrorHandler(pub.ErrorHandlerFunc(func(error) {
		p.Stop()
		close(stopped)
	})))

	require.NoError(t, p.Start())

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop from the error handler did not return")
	}

	assert.Equal(t, consumer.StateIdle, p.State())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), stub.calls.Load())

	// other goroutines can still drive the lifecycle
	done := make(chan struct{})
	go func() {
		_ = p.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close after stop from the error handler hung")
	}
	assert.Equal(t, consumer.StateClosed, p.State())
}

func TestPoller_CloseFromErrorHandler(t *testing.T) {
	stub := &stubConsumer{fn: func(context.Context) error { return errors.New("boom") }}
	closed := make(chan error, 1)
	var p *consumer.Poller
	p = newPoller(t, stub, nopHandler, 10*time.Millisecond, consumer.WithErrorHandler(pub.ErrorHandlerFunc(func(error) {
		closed <- p.Close()
	})))

	require.NoError(t, p.Start())

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("close from the error handler did not return")
	}

	assert.Equal(t, consumer.StateClosed, p.State())
	require.ErrorIs(t, p.Start(), consumer.ErrPollerClosed)
}

func TestPoller_RestartFromErrorHandlerKeepsOneWorker(t *testing.T) {
	stub := &stubConsumer{fn: func(context.Context) error {
		time.Sleep(5 * time.Millisecond)
		return errors.New("boom")
	}}
	var restarts atomic.Int32
	var p *consumer.Poller
	p = newPoller(t, stub, nopHandler, 10*time.Millisecond, consumer.WithErrorHandler(pub.ErrorHandlerFunc(func(error) {
		if restarts.Add(1) > 3 {
			return
		}
		p.Stop()
		_ = p.Start()
	})))

	require.NoError(t, p.Start())
	assert.Eventually(t, func() bool { return stub.calls.Load() >= 6 }, time.Second, 5*time.Millisecond)
	p.Stop()

	assert.False(t, stub.overlap.Load())
	assert.Equal(t, consumer.StateIdle, p.State())
}

func TestPoller_ErrorHandlerMock(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mocks.NewMockConsumer(ctrl)
	errorHandler := mocks.NewMockErrorHandler(ctrl)
	failure := &pub.Error{Op: "read", Kind: pub.KindServerError, Status: 500}
	done := make(chan struct{})

	c.EXPECT().Consume(gomock.Any(), coord, 10, nopHandlerMatcher{}).Return(0, failure)
	errorHandler.EXPECT().OnError(failure).Do(func(error) { close(done) })

	p := newPoller(t, c, nopHandler, time.Hour, consumer.WithErrorHandler(errorHandler))
	require.NoError(t, p.Start())
	<-done
	p.Stop()
}

type nopHandlerMatcher struct{}

func (nopHandlerMatcher) Matches(x any) bool { return x != nil }
func (nopHandlerMatcher) String() string     { return "is a handler" }

func TestPoller_RecordsMetrics(t *testing.T) {
	registry := metrics.NewRegistry()
	stub := &stubConsumer{}
	p := newPoller(t, stub, nopHandler, time.Hour, consumer.WithMetrics(registry))

	require.NoError(t, p.Start())
	assert.Eventually(t, func() bool { return stub.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	p.Stop()

	n, err := testutil.GatherAndCount(registry.Gatherer(), "pubclient_poll_cycle_total", "pubclient_poller_running")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

// The following run the poller against the fake service over HTTP.

func newServiceConsumer(t *testing.T, srv *pubsubtest.Server) *consumer.Consumer {
	t.Helper()
	tr, err := transport.New(srv.URL, zap.NewNop())
	require.NoError(t, err)
	return newConsumer(t, tr)
}

func TestPoller_ReadFailureEveryCycle(t *testing.T) {
	srv := pubsubtest.NewServer()
	defer srv.Close()
	srv.Seed(coord, "a")
	srv.Fail(pubsubtest.RouteRead, http.StatusInternalServerError)

	var handled atomic.Int32
	handler := pub.HandlerFunc(func(context.Context, []pub.Event, pub.Acknowledger) error {
		handled.Add(1)
		return nil
	})
	errs := &errorCounter{}
	p := newPoller(t, newServiceConsumer(t, srv), handler, 25*time.Millisecond, consumer.WithErrorHandler(errs))

	require.NoError(t, p.Start())
	time.Sleep(150 * time.Millisecond)
	midway := srv.Calls(pubsubtest.RouteRead)
	time.Sleep(150 * time.Millisecond)
	p.Stop()

	reads := srv.Calls(pubsubtest.RouteRead)
	assert.Greater(t, reads, midway)
	assert.Zero(t, handled.Load())
	assert.Equal(t, reads, errs.count())
	assert.Zero(t, srv.Calls(pubsubtest.RouteCommit))
	assert.ErrorIs(t, errs.errs[0], pub.ErrServerError)
}

func TestPoller_CommitFailureEveryCycle(t *testing.T) {
	srv := pubsubtest.NewServer()
	defer srv.Close()
	srv.Seed(coord, "a")
	srv.Fail(pubsubtest.RouteCommit, http.StatusInternalServerError)

	var handled atomic.Int32
	handler := pub.HandlerFunc(func(ctx context.Context, events []pub.Event, ack pub.Acknowledger) error {
		handled.Add(1)
		_, err := ack.Commit(ctx, pub.IDs(events)...)
		return err
	})
	errs := &errorCounter{}
	p := newPoller(t, newServiceConsumer(t, srv), handler, 25*time.Millisecond, consumer.WithErrorHandler(errs))

	require.NoError(t, p.Start())
	time.Sleep(300 * time.Millisecond)
	p.Stop()

	reads := srv.Calls(pubsubtest.RouteRead)
	assert.GreaterOrEqual(t, reads, 5)
	assert.Equal(t, reads, int(handled.Load()))
	assert.Equal(t, reads, srv.Calls(pubsubtest.RouteCommit))
	assert.Equal(t, reads, errs.count())
}

func TestPoller_NoCallsAfterStop(t *testing.T) {
	srv := pubsubtest.NewServer()
	defer srv.Close()
	srv.Seed(coord, "a", "b")
	srv.SetSticky(true)

	handler := pub.HandlerFunc(func(ctx context.Context, events []pub.Event, ack pub.Acknowledger) error {
		_, err := ack.Commit(ctx, events[0].ID)
		return err
	})
	p := newPoller(t, newServiceConsumer(t, srv), handler, 20*time.Millisecond)

	require.NoError(t, p.Start())
	time.Sleep(100 * time.Millisecond)
	p.Stop()

	reads, commits := srv.Calls(pubsubtest.RouteRead), srv.Calls(pubsubtest.RouteCommit)
	require.Positive(t, reads)
	assert.Equal(t, reads, commits)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, reads, srv.Calls(pubsubtest.RouteRead))
	assert.Equal(t, commits, srv.Calls(pubsubtest.RouteCommit))
}

func TestPoller_EmptyPollsSkipHandler(t *testing.T) {
	srv := pubsubtest.NewServer()
	defer srv.Close()
	srv.AddSubscription(coord)

	var handled atomic.Int32
	handler := pub.HandlerFunc(func(context.Context, []pub.Event, pub.Acknowledger) error {
		handled.Add(1)
		return nil
	})
	p := newPoller(t, newServiceConsumer(t, srv), handler, 20*time.Millisecond)

	require.NoError(t, p.Start())
	time.Sleep(100 * time.Millisecond)
	p.Stop()

	assert.Positive(t, srv.Calls(pubsubtest.RouteRead))
	assert.Zero(t, handled.Load())
	assert.Zero(t, srv.Calls(pubsubtest.RouteCommit))
}

func TestPoller_DrainsSubscription(t *testing.T) {
	srv := pubsubtest.NewServer()
	defer srv.Close()
	srv.Seed(coord, 1, 2, 3, 4, 5)

	var mu sync.Mutex
	var seen []pub.Event
	handler := pub.HandlerFunc(func(ctx context.Context, events []pub.Event, ack pub.Acknowledger) error {
		mu.Lock()
		seen = append(seen, events...)
		mu.Unlock()
		_, err := ack.Commit(ctx, pub.IDs(events)...)
		return err
	})
	p, err := consumer.NewPoller(newServiceConsumer(t, srv), handler, consumer.PollerConfig{
		Coordinate: coord,
		BatchSize:  2,
		Interval:   10 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Start())
	assert.Eventually(t, func() bool { return len(srv.Pending(coord)) == 0 }, time.Second, 5*time.Millisecond)
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 5)
	var n int
	require.NoError(t, seen[4].Decode(&n))
	assert.Equal(t, 5, n)
}
