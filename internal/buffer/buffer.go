// Package buffer accumulates snapshot records and writes them to a store in
// size-triggered batches.
package buffer

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/JakeFAU/metrics-snapshot-crawler/internal/crawler"
)

// DefaultThreshold is the batch size used when none, or an unusable one, is configured.
const DefaultThreshold = 50

// FlushObserver is notified after every successful flush.
type FlushObserver interface {
	ObserveFlush(rows int)
}

// Buffer holds pending records for a single writer. It is not safe for
// concurrent use.
type Buffer struct {
	store     crawler.Upserter
	threshold int
	pending   []crawler.Record
	parsed    int
	flushed   int
	observer  FlushObserver
	logger    *zap.Logger
}

// Option customizes a Buffer.
type Option func(*Buffer)

// WithObserver registers a flush observer.
func WithObserver(o FlushObserver) Option {
	return func(b *Buffer) { b.observer = o }
}

// WithLogger sets the logger used for flush reports.
func WithLogger(l *zap.Logger) Option {
	return func(b *Buffer) {
		if l != nil {
			b.logger = l
		}
	}
}

// New returns an empty buffer flushing into store every threshold records.
// A non-positive threshold falls back to DefaultThreshold.
func New(store crawler.Upserter, threshold int, opts ...Option) *Buffer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	b := &Buffer{
		store:     store,
		threshold: threshold,
		pending:   make([]crawler.Record, 0, threshold),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ResolveThreshold converts a configured batch size of any type into a usable
// threshold. Anything that is not a positive integer yields DefaultThreshold.
// Strings are always read as base-10, so "010" is 10 rather than octal.
func ResolveThreshold(raw any) int {
	if s, ok := raw.(string); ok {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || n <= 0 {
			return DefaultThreshold
		}
		return n
	}
	n, err := cast.ToIntE(raw)
	if err != nil || n <= 0 {
		return DefaultThreshold
	}
	return n
}

// Append queues rec and flushes once the threshold is reached. The returned
// error comes from that flush; rec itself is always retained.
func (b *Buffer) Append(ctx context.Context, rec crawler.Record) error {
	b.pending = append(b.pending, rec)
	b.parsed++
	if len(b.pending) >= b.threshold {
		return b.Flush(ctx)
	}
	return nil
}

// Flush writes every pending record in one upsert. Pending records are only
// dropped after the store acknowledges the write, so a failed flush can be
// retried.
func (b *Buffer) Flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	n := len(b.pending)
	if err := b.store.UpsertMany(ctx, b.pending); err != nil {
		return fmt.Errorf("flush %d snapshots: %w", n, err)
	}
	b.flushed += n
	b.pending = make([]crawler.Record, 0, b.threshold)
	b.logger.Info("committed snapshot batch", zap.Int("rows", n), zap.Int("flushed_total", b.flushed))
	if b.observer != nil {
		b.observer.ObserveFlush(n)
	}
	return nil
}

// Pending returns the number of records awaiting a flush.
func (b *Buffer) Pending() int { return len(b.pending) }

// Parsed returns how many records have ever been appended.
func (b *Buffer) Parsed() int { return b.parsed }

// Flushed returns how many records have been durably written.
func (b *Buffer) Flushed() int { return b.flushed }

// Threshold returns the effective batch size.
func (b *Buffer) Threshold() int { return b.threshold }
