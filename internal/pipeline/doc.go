// Package pipeline drives one snapshot run: it validates the target date,
// walks the paginated listing, fetches detail pages with bounded
// concurrency, folds the results into a batch buffer and always drains that
// buffer into the store before releasing it.
package pipeline
