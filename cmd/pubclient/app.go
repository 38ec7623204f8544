package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pubclient/internal/pub"
	"pubclient/internal/pub/metrics"
	"pubclient/internal/pub/tracing"
	"pubclient/internal/pub/transport"
	"pubclient/internal/pubsubtest"
)

// app holds the components shared by every command.
type app struct {
	cfg             Config
	logger          *zap.Logger
	registry        *metrics.Registry
	metricsServer   *metrics.Server
	tracer          *tracing.Tracer
	tracingShutdown func(context.Context) error
	transport       pub.Transport
	fake            *pubsubtest.Server
}

// newApp wires metrics, tracing and the transport chain
// TracedTransport -> MetricsTransport -> HTTPTransport. In demo mode the
// transport targets an in-process fake service instead of cfg.BaseURL.
func newApp(cfg Config, logger *zap.Logger, demo bool) (*app, error) {
	a := app{cfg: cfg, logger: logger}

	a.registry = metrics.NewRegistry()
	a.registry.SetSystemInfo(cfg.Version, time.Now().Format(time.RFC3339))
	a.metricsServer = metrics.NewServer(cfg.Metrics, a.registry, logger)

	tracer, shutdown, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracer, a.tracingShutdown = tracer, shutdown

	logger.Info("tracing initialized",
		zap.Bool("enabled", cfg.Tracing.Enabled),
		zap.String("service", cfg.Tracing.ServiceName),
		zap.String("endpoint", cfg.Tracing.Endpoint),
		zap.Float64("sample_rate", cfg.Tracing.SampleRate),
	)

	baseURL := cfg.BaseURL
	if demo {
		a.fake = pubsubtest.NewServer()
		baseURL = a.fake.URL
		logger.Info("demo mode, using in-process service", zap.String("url", baseURL))
	}

	httpTransport, err := transport.New(baseURL, logger, transport.WithTimeout(cfg.RequestTimeout))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	metricsTransport := transport.NewMetricsTransport(httpTransport, a.registry)
	a.transport = transport.NewTracedTransport(metricsTransport, a.tracer)

	return &a, nil
}

// serveMetrics runs the metrics server until ctx is done, if enabled.
func (a *app) serveMetrics(ctx context.Context) error {
	if !a.cfg.Metrics.Enabled {
		return nil
	}

	a.logger.Info("metrics server started",
		zap.String("endpoint", fmt.Sprintf("http://localhost:%d/metrics", a.cfg.Metrics.Port)),
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", a.cfg.Metrics.Port)),
	)

	return a.metricsServer.Start(ctx)
}

func (a *app) close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.tracingShutdown(shutdownCtx); err != nil {
		a.logger.Error("failed to cleanup tracing", zap.Error(err))
	}
	if a.fake != nil {
		a.fake.Close()
	}
}
