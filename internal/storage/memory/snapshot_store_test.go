package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/JakeFAU/metrics-snapshot-crawler/internal/crawler"
)

func TestSnapshotStoreUpsertIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSnapshotStore()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	rec := crawler.Record{TargetDate: "20240115", Code: "1301", PE: "10"}
	for i := 0; i < 2; i++ {
		if err := store.UpsertMany(ctx, []crawler.Record{rec}); err != nil {
			t.Fatalf("UpsertMany() error = %v", err)
		}
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 row, got %d", store.Len())
	}

	rec.PE = "11"
	if err := store.UpsertMany(ctx, []crawler.Record{rec}); err != nil {
		t.Fatalf("UpsertMany() error = %v", err)
	}
	got, ok := store.Get(rec.Key())
	if !ok || got != rec {
		t.Fatalf("expected latest values %+v, got %+v", rec, got)
	}

	other := rec
	other.TargetDate = "20240116"
	if err := store.UpsertMany(ctx, []crawler.Record{other}); err != nil {
		t.Fatalf("UpsertMany() error = %v", err)
	}
	if store.Len() != 2 || len(store.Records("20240115")) != 1 {
		t.Fatalf("expected one row per target date, got %d", store.Len())
	}
	if store.Batches() != 4 {
		t.Fatalf("expected 4 batches, got %d", store.Batches())
	}
}

func TestSnapshotStoreClosed(t *testing.T) {
	t.Parallel()

	store := NewSnapshotStore()
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !store.Closed() {
		t.Fatal("expected store to report closed")
	}
	err := store.UpsertMany(context.Background(), []crawler.Record{{Code: "1"}})
	if !errors.Is(err, crawler.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
}
