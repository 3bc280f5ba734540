// Package cmd defines and implements the CLI commands for the
// metrics-snapshot executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/metrics-snapshot-crawler/internal/app"
	"github.com/JakeFAU/metrics-snapshot-crawler/internal/config"
	"github.com/JakeFAU/metrics-snapshot-crawler/internal/logging"
	"github.com/JakeFAU/metrics-snapshot-crawler/internal/pipeline"
)

var cfgFile string

// sessionKeyType is the key for storing loaded config and logger in the context.
type sessionKeyType string

const sessionKey sessionKeyType = "session"

type session struct {
	cfg    config.Config
	logger *zap.Logger
}

// App defines the services a command uses. Tests inject a fake.
type App interface {
	Close()
	NewController(targetDate string) (*pipeline.Controller, error)
	ExportMetrics(ctx context.Context, runID string) error
}

// newApp is the application factory. It's a variable so tests can
// replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.NewApp(ctx, cfg, logger)
}

// flagKeys maps command flags onto config keys. Only flags the user set
// override the file and environment.
var flagKeys = map[string]string{
	"target-date":  "pipeline.target_date",
	"batch-size":   "pipeline.batch_size",
	"entry-url":    "crawler.entry_url",
	"store-driver": "store.driver",
	"store-path":   "store.path",
	"store-dsn":    "store.dsn",
	"redis-addr":   "cache.redis_addr",
	"log-level":    "logging.level",
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics-snapshot",
		Short: "Collects a daily metric snapshot for every listed entity.",
		Long: `metrics-snapshot walks a paginated listing, fetches each entity's detail
page and stores one row per entity and target date. Re-running a date
replaces that date's rows.`,
		SilenceUsage: true,

		// Config and logger are built here so every subcommand sees the same
		// precedence: flags, environment, config file, defaults.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, flagOverrides(cmd))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			if cfg.File != "" {
				logger.Info("using config file", zap.String("path", cfg.File))
			}
			cmd.SetContext(context.WithValue(cmd.Context(), sessionKey, session{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(sessionKey).(session); ok {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./snapshot.yaml)")
	cmd.AddCommand(newSnapshotCmd())
	return cmd
}

func flagOverrides(cmd *cobra.Command) map[string]any {
	overrides := make(map[string]any)
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f != nil && f.Changed {
			overrides[key] = f.Value.String()
		}
	}
	return overrides
}

func resolveSession(ctx context.Context) (session, error) {
	rt, ok := ctx.Value(sessionKey).(session)
	if !ok || rt.logger == nil {
		return session{}, errors.New("configuration not initialized")
	}
	return rt, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the run,
// which still drains buffered records before exiting.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
