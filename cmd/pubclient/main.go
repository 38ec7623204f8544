package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// cli carries state shared by the commands. logger is built after flags
// are parsed.
type cli struct {
	cfg    Config
	logger *zap.Logger
}

func main() {
	_ = godotenv.Load(".env.local")

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRoot(&cli{cfg: cfg}).ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}

func newRoot(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:          "pubclient",
		Short:        "Client for the pub/sub service",
		Long:         "pubclient polls subscriptions and publishes events against the pub/sub service REST API.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(c.cfg.LogLevel)
			if err != nil {
				return err
			}
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = c.logger.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfg.BaseURL, "base-url", c.cfg.BaseURL, "base URL of the pub/sub service")
	flags.StringVar(&c.cfg.LogLevel, "log-level", c.cfg.LogLevel, "log level (debug, info, warn, error)")
	flags.BoolVar(&c.cfg.Metrics.Enabled, "metrics", c.cfg.Metrics.Enabled, "serve prometheus metrics")
	flags.IntVar(&c.cfg.Metrics.Port, "metrics-port", c.cfg.Metrics.Port, "metrics server port")
	flags.BoolVar(&c.cfg.Tracing.Enabled, "tracing", c.cfg.Tracing.Enabled, "export traces over OTLP/HTTP")

	root.AddCommand(newConsumeCommand(c))
	root.AddCommand(newPublishCommand(c))

	return root
}
