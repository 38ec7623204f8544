package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pubclient/internal/pub"
	"pubclient/internal/pub/producer"
)

func newPublishCommand(c *cli) *cobra.Command {
	var (
		count int
		demo  bool
	)

	cmd := &cobra.Command{
		Use:   "publish [json-payload...]",
		Short: "Publish events to a topic",
		Long:  "Publish each argument as the data of one event. Without arguments, --count generated order events are published.",
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs, err := requests(args, count)
			if err != nil {
				return err
			}

			return runPublish(cmd.Context(), c.cfg, c.logger, demo, reqs)
		},
	}

	coord := &c.cfg.Poller.Coordinate
	flags := cmd.Flags()
	flags.StringVar(&coord.Organization, "org", coord.Organization, "organization")
	flags.StringVar(&coord.Topic, "topic", coord.Topic, "topic")
	flags.IntVar(&count, "count", 10, "generated events to publish when no payload is given")
	flags.BoolVar(&demo, "demo", false, "publish to an in-process fake service")

	return cmd
}

func runPublish(ctx context.Context, cfg Config, logger *zap.Logger, demo bool, reqs []pub.PublishRequest) error {
	a, err := newApp(cfg, logger, demo)
	if err != nil {
		return err
	}
	defer a.close()

	if a.fake != nil {
		a.fake.AddSubscription(cfg.Poller.Coordinate)
	}

	pcfg := producer.PublisherConfig{
		Organization: cfg.Poller.Coordinate.Organization,
		Topic:        cfg.Poller.Coordinate.Topic,
	}

	var failure error
	base, err := producer.NewPublisher(a.transport, pcfg, logger, producer.WithErrorHandler(
		pub.PublishErrorHandlerFunc(func(err error, reqs []pub.PublishRequest) {
			failure = errors.Join(failure, err)
			logger.Error("failed to publish events", zap.Int("count", len(reqs)), zap.String("kind", pub.KindOf(err).String()), zap.Error(err))
		}),
	))
	if err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}
	metricsPublisher := producer.NewMetricsPublisher(base, pcfg, a.registry)
	publisher := producer.NewTracedPublisher(metricsPublisher, pcfg, a.tracer)

	accepted := publisher.PublishBatch(ctx, reqs...)
	if failure != nil {
		return failure
	}

	logger.Info(fmt.Sprintf("published %d events", accepted), zap.Int("requested", len(reqs)))

	return nil
}

// requests turns JSON arguments into publish requests, or generates count
// order events when there are none.
func requests(args []string, count int) ([]pub.PublishRequest, error) {
	if len(args) == 0 {
		return orderRequests(count), nil
	}

	reqs := make([]pub.PublishRequest, 0, len(args))
	for i, arg := range args {
		if !json.Valid([]byte(arg)) {
			return nil, fmt.Errorf("argument %d is not valid JSON: %s", i+1, arg)
		}
		reqs = append(reqs, pub.PublishRequest{Data: json.RawMessage(arg)})
	}

	return reqs, nil
}

func orderRequests(count int) []pub.PublishRequest {
	reqs := make([]pub.PublishRequest, 0, count)
	for _, o := range orders(count) {
		reqs = append(reqs, pub.PublishRequest{Data: o})
	}

	return reqs
}

func orders(count int) []any {
	customers := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"}
	products := []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "10"}
	orders := make([]any, 0, count)

	for i := 0; i < count; i++ {
		orders = append(orders, map[string]any{
			"order_id":    uuid.NewString(),
			"customer_id": customers[rand.Intn(len(customers))],
			"product_id":  products[rand.Intn(len(products))],
			"amount":      10.0 + rand.Float64()*990.0,
			"timestamp":   time.Now().Format(time.RFC3339),
		})
	}

	return orders
}
