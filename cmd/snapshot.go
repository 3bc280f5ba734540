package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/metrics-snapshot-crawler/internal/crawler"
	"github.com/JakeFAU/metrics-snapshot-crawler/internal/pipeline"
)

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Crawls the listing and stores one day's snapshot",
		Long: `Fetches every listing page from the configured entry URL, extracts the
metrics of each entity's detail page and upserts them keyed by
(code, target date). Buffered rows are flushed every --batch-size records
and once more on exit, including on interrupt.

An interrupt or a listing page that cannot be fetched ends the run early
but still exits 0 once the buffered rows are committed. Bad configuration,
an invalid target date or a failed commit exit non-zero.`,
		Example: `  metrics-snapshot snapshot --target-date 20240115
  MARKET_DB_PATH=/data/market.db metrics-snapshot snapshot --target-date 20240115 --batch-size 100`,
		RunE: runSnapshotCommand,
	}
	flags := cmd.Flags()
	flags.String("target-date", "", "snapshot date as YYYYMMDD (required)")
	flags.String("batch-size", "", "records per committed batch (default 50)")
	flags.String("entry-url", "", "first listing page")
	flags.String("store-driver", "", "snapshot store: sqlite, postgres or memory")
	flags.String("store-path", "", "sqlite database path")
	flags.String("store-dsn", "", "postgres connection string")
	flags.String("redis-addr", "", "redis address for the shared response cache")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	return cmd
}

func runSnapshotCommand(cmd *cobra.Command, _ []string) error {
	rt, err := resolveSession(cmd.Context())
	if err != nil {
		return err
	}
	logger := rt.logger

	// Reject the date before any store is opened or request is made.
	targetDate, err := crawler.ParseTargetDate(rt.cfg.Pipeline.TargetDate)
	if err != nil {
		logger.Error("refusing to start", zap.String("target_date", rt.cfg.Pipeline.TargetDate), zap.Error(err))
		return err
	}

	appInstance, err := newApp(cmd.Context(), rt.cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer appInstance.Close()

	ctrl, err := appInstance.NewController(targetDate)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	sum, runErr := ctrl.Run(cmd.Context())

	if err := appInstance.ExportMetrics(context.WithoutCancel(cmd.Context()), sum.RunID); err != nil {
		logger.Warn("metrics export failed", zap.Error(err))
	}

	if sum.Reason == pipeline.ReasonCanceled {
		logger.Warn("snapshot interrupted; buffered records were flushed", zap.Int("flushed", sum.Flushed))
		return nil
	}
	// A drain failure reports ReasonFlushError, so reaching here means every
	// buffered record was committed.
	if sum.Reason == pipeline.ReasonListingError {
		logger.Warn("listing traversal stopped early; collected records were flushed",
			zap.Int("flushed", sum.Flushed), zap.Error(runErr))
		return nil
	}
	if runErr != nil {
		return fmt.Errorf("snapshot %s: %w", targetDate, runErr)
	}
	return nil
}
