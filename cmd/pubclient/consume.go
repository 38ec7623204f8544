package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pubclient/internal/pub"
	"pubclient/internal/pub/consumer"
)

func newConsumeCommand(c *cli) *cobra.Command {
	var (
		duration time.Duration
		demo     bool
		seed     int
	)

	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Poll a subscription and commit every event it receives",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			return runConsume(ctx, c.cfg, c.logger, demo, seed)
		},
	}

	p := &c.cfg.Poller
	flags := cmd.Flags()
	flags.StringVar(&p.Coordinate.Organization, "org", p.Coordinate.Organization, "organization")
	flags.StringVar(&p.Coordinate.Topic, "topic", p.Coordinate.Topic, "topic")
	flags.StringVar(&p.Coordinate.Subscription, "subscription", p.Coordinate.Subscription, "subscription")
	flags.IntVar(&p.BatchSize, "batch-size", p.BatchSize, "maximum events per poll")
	flags.DurationVar(&p.Interval, "interval", p.Interval, "time between poll starts")
	flags.IntVar(&c.cfg.Redelivery.CommitAttempts, "commit-attempts", c.cfg.Redelivery.CommitAttempts, "commit RPCs per commit call")
	flags.IntVar(&c.cfg.Redelivery.MaxDeliveries, "max-deliveries", c.cfg.Redelivery.MaxDeliveries, "dead-letter events delivered more often than this (0 disables)")
	flags.DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	flags.BoolVar(&demo, "demo", false, "consume from an in-process fake service")
	flags.IntVar(&seed, "seed", 25, "events to seed the fake service with in demo mode")

	return cmd
}

func runConsume(ctx context.Context, cfg Config, logger *zap.Logger, demo bool, seed int) error {
	a, err := newApp(cfg, logger, demo)
	if err != nil {
		return err
	}
	defer a.close()

	coord := cfg.Poller.Coordinate
	if a.fake != nil {
		a.fake.Seed(coord, orders(seed)...)
	}

	base, err := consumer.NewConsumer(a.transport, logger,
		consumer.WithRedelivery(cfg.Redelivery),
		consumer.WithDeadLetterHandler(consumer.MetricsDeadLetterHandler(deadLetterLogger(logger), a.registry)),
	)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	metricsConsumer := consumer.NewMetricsConsumer(base, a.registry)
	tracedConsumer := consumer.NewTracedConsumer(metricsConsumer, a.tracer)

	poller, err := consumer.NewPoller(tracedConsumer, commitAll(logger), cfg.Poller, logger,
		consumer.WithMetrics(a.registry),
		consumer.WithErrorHandler(pub.ErrorHandlerFunc(func(err error) {
			logger.Error("failed to consume events", zap.Stringer("coordinate", coord), zap.String("kind", pub.KindOf(err).String()), zap.Error(err))
		})),
	)
	if err != nil {
		return fmt.Errorf("failed to create poller: %w", err)
	}

	now := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.serveMetrics(gctx)
	})
	g.Go(func() error {
		if err := poller.Start(); err != nil {
			return fmt.Errorf("failed to start poller: %w", err)
		}
		<-gctx.Done()
		return poller.Close()
	})

	if err := g.Wait(); err != nil {
		logger.Error("error in goroutine", zap.Error(err))
		return err
	}

	logger.Info("consumer stopped", zap.Duration("elapsed", time.Since(now)))

	return nil
}

// commitAll logs every event of the batch and commits the whole batch.
func commitAll(logger *zap.Logger) pub.Handler {
	return pub.HandlerFunc(func(ctx context.Context, events []pub.Event, ack pub.Acknowledger) error {
		for _, e := range events {
			logger.Info("received event", zap.Stringer("id", e.ID), zap.Time("createdAt", e.CreatedAt), zap.ByteString("data", e.Data))
		}

		n, err := ack.Commit(ctx, pub.IDs(events)...)
		if err != nil {
			return fmt.Errorf("failed to commit batch: %w", err)
		}
		if n < len(events) {
			logger.Warn("service acknowledged fewer events than committed", zap.Int("requested", len(events)), zap.Int("acknowledged", n))
		}

		return nil
	})
}

func deadLetterLogger(logger *zap.Logger) consumer.DeadLetterHandler {
	return consumer.DeadLetterHandlerFunc(func(_ context.Context, coord pub.Coordinate, events []pub.Event) {
		for _, e := range events {
			logger.Warn("dead-lettered event", zap.Stringer("coordinate", coord), zap.Stringer("id", e.ID), zap.ByteString("data", e.Data))
		}
	})
}
