package crawler

import "context"

// Fetcher retrieves a document by URL. Transport, politeness, caching and
// retries are the implementation's concern; callers only see a document or
// an error.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Document, error)
}

// Upserter writes a batch of records, replacing any existing row with the
// same (code, target_date). A nil error means the whole batch is committed.
type Upserter interface {
	UpsertMany(ctx context.Context, records []Record) error
}

// SnapshotStore is the durable keyed table the pipeline persists into.
type SnapshotStore interface {
	Upserter
	EnsureSchema(ctx context.Context) error
	Close() error
}
