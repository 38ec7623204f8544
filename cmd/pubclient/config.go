package main

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pubclient/internal/pub/consumer"
	"pubclient/internal/pub/metrics"
	"pubclient/internal/pub/tracing"
)

type Config struct {
	BaseURL        string        `env:"PUBSUB_BASE_URL" envDefault:"http://localhost:8080"`
	RequestTimeout time.Duration `env:"PUBSUB_REQUEST_TIMEOUT" envDefault:"30s"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	Version        string        `env:"VERSION" envDefault:"dev"`

	Poller     consumer.PollerConfig
	Redelivery consumer.RedeliveryConfig
	Metrics    metrics.ServerConfig
	Tracing    tracing.Config
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		log.Printf("invalid log level %q, defaulting to info: %v", level, err)
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := config.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger, nil
}
