package buffer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/metrics-snapshot-crawler/internal/crawler"
)

type recordingStore struct {
	batches [][]crawler.Record
	failN   int
}

func (s *recordingStore) UpsertMany(_ context.Context, records []crawler.Record) error {
	if s.failN > 0 {
		s.failN--
		return errors.New("disk full")
	}
	s.batches = append(s.batches, append([]crawler.Record(nil), records...))
	return nil
}

func (s *recordingStore) rows() int {
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

type countingObserver struct{ rows []int }

func (o *countingObserver) ObserveFlush(rows int) { o.rows = append(o.rows, rows) }

func record(i int) crawler.Record {
	return crawler.Record{TargetDate: "20240115", Code: fmt.Sprintf("%04d", i)}
}

func TestAppendFlushesAtThreshold(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, 5, 50} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := &recordingStore{}
			b := New(store, n)

			for i := 0; i < n-1; i++ {
				require.NoError(t, b.Append(ctx, record(i)))
			}
			assert.Zero(t, store.rows(), "no rows before the threshold")
			assert.Equal(t, n-1, b.Pending())

			require.NoError(t, b.Append(ctx, record(n)))
			assert.Equal(t, n, store.rows())
			assert.Len(t, store.batches, 1)
			assert.Zero(t, b.Pending())
			assert.Equal(t, n, b.Parsed())
			assert.Equal(t, n, b.Flushed())
		})
	}
}

func TestFlushEmptyIsNoop(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	obs := &countingObserver{}
	b := New(store, 3, WithObserver(obs))
	require.NoError(t, b.Flush(context.Background()))
	assert.Empty(t, store.batches)
	assert.Empty(t, obs.rows)
}

func TestFlushFailureKeepsPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &recordingStore{failN: 1}
	obs := &countingObserver{}
	b := New(store, 2, WithObserver(obs))

	require.NoError(t, b.Append(ctx, record(1)))
	err := b.Append(ctx, record(2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush 2 snapshots")
	assert.Equal(t, 2, b.Pending())
	assert.Zero(t, b.Flushed())

	require.NoError(t, b.Flush(ctx))
	assert.Zero(t, b.Pending())
	assert.Equal(t, 2, store.rows())
	assert.Equal(t, []int{2}, obs.rows)
}

func TestNewDefaultsThreshold(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultThreshold, New(&recordingStore{}, 0).Threshold())
	assert.Equal(t, DefaultThreshold, New(&recordingStore{}, -4).Threshold())
	assert.Equal(t, 7, New(&recordingStore{}, 7).Threshold())
}

func TestResolveThreshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  any
		want int
	}{
		{raw: nil, want: DefaultThreshold},
		{raw: "", want: DefaultThreshold},
		{raw: "abc", want: DefaultThreshold},
		{raw: "0", want: DefaultThreshold},
		{raw: "-3", want: DefaultThreshold},
		{raw: -1, want: DefaultThreshold},
		{raw: " 25 ", want: 25},
		{raw: "10", want: 10},
		{raw: "010", want: 10},
		{raw: "08", want: 8},
		{raw: "0x10", want: DefaultThreshold},
		{raw: "1_000", want: DefaultThreshold},
		{raw: 12.0, want: 12},
		{raw: 200, want: 200},
		{raw: int64(3), want: 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveThreshold(tt.raw), "raw %#v", tt.raw)
	}
}
