// Package memory provides an in-process SnapshotStore for dry runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/metrics-snapshot-crawler/internal/crawler"
)

// SnapshotStore keeps rows in a map keyed by (code, target_date).
type SnapshotStore struct {
	mu      sync.RWMutex
	rows    map[crawler.Key]crawler.Record
	schema  bool
	closed  bool
	batches int
}

// NewSnapshotStore constructs an empty store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{rows: make(map[crawler.Key]crawler.Record)}
}

// EnsureSchema marks the table as created. Repeated calls are harmless.
func (s *SnapshotStore) EnsureSchema(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return crawler.ErrStoreClosed
	}
	s.schema = true
	return nil
}

// UpsertMany replaces every row whose key appears in records.
func (s *SnapshotStore) UpsertMany(_ context.Context, records []crawler.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return crawler.ErrStoreClosed
	}
	for _, rec := range records {
		s.rows[rec.Key()] = rec
	}
	s.batches++
	return nil
}

// Close marks the store closed; later writes fail with crawler.ErrStoreClosed.
func (s *SnapshotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Get returns the row for key.
func (s *SnapshotStore) Get(key crawler.Key) (crawler.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rows[key]
	return rec, ok
}

// Records returns every row for targetDate ordered by code.
func (s *SnapshotStore) Records(targetDate string) []crawler.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Record, 0, len(s.rows))
	for k, rec := range s.rows {
		if k.TargetDate == targetDate {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Len returns the total row count.
func (s *SnapshotStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Batches returns how many UpsertMany calls have succeeded.
func (s *SnapshotStore) Batches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batches
}

// Closed reports whether Close has been called.
func (s *SnapshotStore) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
