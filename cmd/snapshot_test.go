package cmd

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/metrics-snapshot-crawler/internal/config"
	"github.com/JakeFAU/metrics-snapshot-crawler/internal/crawler"
	"github.com/JakeFAU/metrics-snapshot-crawler/internal/pipeline"
	"github.com/JakeFAU/metrics-snapshot-crawler/internal/storage/memory"
)

type mapFetcher map[string]string

func (m mapFetcher) Fetch(_ context.Context, url string) (crawler.Document, error) {
	body, ok := m[url]
	if !ok {
		return crawler.Document{}, fmt.Errorf("GET %s: status 404", url)
	}
	return crawler.Document{URL: url, StatusCode: 200, Body: []byte(body)}, nil
}

type fakeApp struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *memory.SnapshotStore
	fetcher  mapFetcher
	closed   bool
	exported string
}

func (f *fakeApp) Close() { f.closed = true }

func (f *fakeApp) NewController(targetDate string) (*pipeline.Controller, error) {
	return pipeline.New(pipeline.Config{
		EntryURL:   f.cfg.Crawler.EntryURL,
		TargetDate: targetDate,
		BatchSize:  f.cfg.Pipeline.BatchSize,
	}, f.fetcher, f.store, pipeline.WithLogger(f.logger))
}

func (f *fakeApp) ExportMetrics(_ context.Context, runID string) error {
	f.exported = runID
	return nil
}

const testEntryURL = "https://example.com/markets/list/"

func installFakeApp(t *testing.T) *fakeApp {
	t.Helper()
	fake := &fakeApp{
		store: memory.NewSnapshotStore(),
		fetcher: mapFetcher{
			testEntryURL: `<table class="item-list">
<tr><td>1301</td><td><a href="/detail/1301">Kyokuyo</a></td></tr>
</table>`,
			"https://example.com/detail/1301": `<div id="main"><div class="price">3,980</div></div>`,
		},
	}
	prev := newApp
	newApp = func(_ context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
		fake.cfg = cfg
		fake.logger = logger
		return fake, nil
	}
	t.Cleanup(func() {
		newApp = prev
		cfgFile = ""
	})
	return fake
}

func execute(ctx context.Context, args ...string) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	return root.ExecuteContext(ctx)
}

func TestSnapshotCommandStoresRecords(t *testing.T) {
	fake := installFakeApp(t)

	err := execute(context.Background(), "snapshot",
		"--target-date", "20240115", "--batch-size", "abc", "--store-driver", "memory", "--log-level", "error")
	require.NoError(t, err)

	assert.Equal(t, 50, fake.cfg.Pipeline.BatchSize)
	rec, ok := fake.store.Get(crawler.Key{Code: "1301", TargetDate: "20240115"})
	require.True(t, ok)
	assert.Equal(t, "3,980", rec.PriceText)
	assert.Equal(t, crawler.NotAvailable, rec.Sector)
	assert.NotEmpty(t, fake.exported)
	assert.True(t, fake.closed)
	assert.True(t, fake.store.Closed())
}

func TestSnapshotCommandRejectsBadDateBeforeStartingServices(t *testing.T) {
	installFakeApp(t)
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) {
		t.Fatal("services must not start for an invalid target date")
		return nil, nil
	}

	for _, args := range [][]string{
		{"snapshot", "--store-driver", "memory"},
		{"snapshot", "--target-date", "2024-01-15", "--store-driver", "memory"},
		{"snapshot", "--target-date", "20240230", "--store-driver", "memory"},
	} {
		err := execute(context.Background(), args...)
		require.ErrorIs(t, err, crawler.ErrInvalidTargetDate, "args %v", args)
	}
}

func TestSnapshotCommandInterruptedExitsCleanly(t *testing.T) {
	fake := installFakeApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := execute(ctx, "snapshot", "--target-date", "20240115", "--store-driver", "memory", "--log-level", "error")
	require.NoError(t, err)
	assert.Zero(t, fake.store.Len())
	assert.True(t, fake.store.Closed())
}

func TestSnapshotCommandListingFailureExitsCleanly(t *testing.T) {
	fake := installFakeApp(t)
	delete(fake.fetcher, testEntryURL)

	err := execute(context.Background(), "snapshot", "--target-date", "20240115", "--store-driver", "memory", "--log-level", "error")
	require.NoError(t, err)
	assert.Zero(t, fake.store.Len())
	assert.True(t, fake.store.Closed())
	assert.NotEmpty(t, fake.exported)
}

func TestSnapshotCommandReportsBadConfig(t *testing.T) {
	installFakeApp(t)

	err := execute(context.Background(), "snapshot", "--target-date", "20240115", "--store-driver", "mysql")
	require.ErrorContains(t, err, "load config")
}

func TestFlagOverridesOnlyChangedFlags(t *testing.T) {
	cmd := newSnapshotCmd()
	require.NoError(t, cmd.Flags().Set("target-date", "20240115"))

	got := flagOverrides(cmd)
	assert.Equal(t, map[string]any{"pipeline.target_date": "20240115"}, got)
}
