// Package app initializes and holds the long-lived services of a snapshot
// run, acting as a small dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/metrics-snapshot-crawler/internal/config"
	"github.com/JakeFAU/metrics-snapshot-crawler/internal/crawler"
	"github.com/JakeFAU/metrics-snapshot-crawler/internal/fetcher/cache"
	collyfetcher "github.com/JakeFAU/metrics-snapshot-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/metrics-snapshot-crawler/internal/metrics"
	"github.com/JakeFAU/metrics-snapshot-crawler/internal/pipeline"
	"github.com/JakeFAU/metrics-snapshot-crawler/internal/storage/memory"
	"github.com/JakeFAU/metrics-snapshot-crawler/internal/storage/postgres"
	"github.com/JakeFAU/metrics-snapshot-crawler/internal/storage/sqlite"
)

// App holds the services shared by one run: the store the pipeline writes
// into, the fetcher it reads through and the metrics recorder both report to.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	store    crawler.SnapshotStore
	fetcher  crawler.Fetcher
	recorder *metrics.Recorder
	redis    *redis.Client
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store exposes the configured snapshot store.
func (a *App) Store() crawler.SnapshotStore { return a.store }

// Fetcher exposes the fetch chain: colly, optionally behind the Redis cache.
func (a *App) Fetcher() crawler.Fetcher { return a.fetcher }

// Recorder returns the run's metrics recorder.
func (a *App) Recorder() *metrics.Recorder { return a.recorder }

// NewApp opens the store, builds the fetcher chain and registers metrics.
// It fails fast and releases anything already opened on error.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, recorder: metrics.NewRecorder()}

	store, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	a.store = store

	base, err := collyfetcher.New(fetcherConfig(cfg), logger, collyfetcher.WithObserver(a.recorder))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init fetcher: %w", err)
	}
	a.fetcher = base

	if cfg.Cache.RedisAddr != "" {
		rdb, err := cache.Dial(ctx, cfg.Cache.RedisAddr)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init response cache: %w", err)
		}
		a.redis = rdb
		a.fetcher = cache.New(base, rdb, cache.Config{Prefix: cfg.Cache.Prefix, TTL: cfg.Cache.TTL}, logger)
		logger.Info("using redis response cache", zap.String("addr", cfg.Cache.RedisAddr))
	}

	logger.Info("application services initialized",
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("entry_url", cfg.Crawler.EntryURL),
	)
	return a, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (crawler.SnapshotStore, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		logger.Info("opening sqlite snapshot store", zap.String("path", cfg.Path))
		store, err := sqlite.Open(sqlite.Config{Path: cfg.Path, Table: cfg.Table})
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case config.DriverPostgres:
		logger.Info("connecting to postgres snapshot store")
		store, err := postgres.New(ctx, postgres.Config{DSN: cfg.DSN, Table: cfg.Table, MaxConns: cfg.MaxConns})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	case config.DriverMemory:
		logger.Warn("using in-memory snapshot store; records are discarded on exit")
		return memory.NewSnapshotStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
}

func fetcherConfig(cfg config.Config) collyfetcher.Config {
	return collyfetcher.Config{
		UserAgent:      cfg.Crawler.UserAgent,
		Referer:        cfg.Crawler.Referer,
		AllowedDomains: cfg.Crawler.AllowedDomains,
		RespectRobots:  cfg.Crawler.RespectRobots,
		Timeout:        cfg.Crawler.RequestTimeout,
		Parallelism:    cfg.Crawler.PerDomainParallelism,
		Delay:          cfg.Crawler.Delay,
		RandomDelay:    cfg.Crawler.RandomDelay,
		CacheDir:       cfg.Crawler.CacheDir,
		Throttle: collyfetcher.ThrottleConfig{
			Enabled:           cfg.Crawler.AutoThrottle.Enabled,
			StartDelay:        cfg.Crawler.AutoThrottle.StartDelay,
			MinDelay:          cfg.Crawler.Delay,
			MaxDelay:          cfg.Crawler.AutoThrottle.MaxDelay,
			TargetConcurrency: cfg.Crawler.AutoThrottle.TargetConcurrency,
		},
		Retry: collyfetcher.RetryConfig{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
			StatusCodes: cfg.Retry.StatusCodes,
		},
	}
}

// NewController wires a pipeline controller for targetDate to the app's
// fetcher, store and recorder.
func (a *App) NewController(targetDate string) (*pipeline.Controller, error) {
	return pipeline.New(pipeline.Config{
		EntryURL:      a.cfg.Crawler.EntryURL,
		TargetDate:    targetDate,
		BatchSize:     a.cfg.Pipeline.BatchSize,
		Concurrency:   a.cfg.Crawler.Concurrency,
		ProgressEvery: a.cfg.Pipeline.ProgressEvery,
		DrainTimeout:  a.cfg.Pipeline.DrainTimeout,
		Listing:       a.cfg.Locators.Listing,
		Fields:        a.cfg.Locators.Fields,
	}, a.fetcher, a.store,
		pipeline.WithLogger(a.logger),
		pipeline.WithObserver(a.recorder),
		pipeline.WithFlushObserver(a.recorder),
	)
}

// ExportMetrics pushes to the Pushgateway and writes the textfile, each
// only when configured.
func (a *App) ExportMetrics(ctx context.Context, runID string) error {
	var errs []error
	if url := a.cfg.Metrics.PushgatewayURL; url != "" {
		if err := a.recorder.Push(ctx, url, a.cfg.Metrics.Job, runID); err != nil {
			errs = append(errs, err)
		}
	}
	if path := a.cfg.Metrics.Textfile; path != "" {
		if err := a.recorder.WriteTextfile(path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases every service. The pipeline closes the store itself;
// closing it again here is harmless and covers runs that never started.
func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("error closing snapshot store", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("error closing redis client", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
