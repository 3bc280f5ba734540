// Package cache provides a Redis-backed response cache that wraps any
// crawler.Fetcher, so repeated runs for the same date can skip the network.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/metrics-snapshot-crawler/internal/crawler"
)

const defaultPrefix = "snapshot:doc:"

// Config controls key naming and expiry.
type Config struct {
	Prefix string
	TTL    time.Duration
}

type entry struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status_code"`
	Body       []byte `json:"body"`
}

// Fetcher serves documents from Redis when present and stores successful
// fetches from next. Redis failures degrade to uncached fetching.
type Fetcher struct {
	next   crawler.Fetcher
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// New wraps next with a cache stored in rdb.
func New(next crawler.Fetcher, rdb redis.Cmdable, cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Fetcher{next: next, rdb: rdb, prefix: prefix, ttl: cfg.TTL, logger: logger}
}

// Key returns the Redis key used for url.
func (f *Fetcher) Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return f.prefix + hex.EncodeToString(sum[:])
}

// Fetch implements crawler.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, url string) (crawler.Document, error) {
	key := f.Key(url)
	if doc, ok := f.lookup(ctx, key, url); ok {
		return doc, nil
	}
	doc, err := f.next.Fetch(ctx, url)
	if err != nil {
		return crawler.Document{}, err
	}
	payload, err := json.Marshal(entry{URL: doc.URL, StatusCode: doc.StatusCode, Body: doc.Body})
	if err != nil {
		return doc, nil
	}
	if err := f.rdb.Set(ctx, key, payload, f.ttl).Err(); err != nil {
		f.logger.Warn("cache store failed", zap.String("url", url), zap.Error(err))
	}
	return doc, nil
}

func (f *Fetcher) lookup(ctx context.Context, key, url string) (crawler.Document, bool) {
	raw, err := f.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			f.logger.Warn("cache lookup failed", zap.String("url", url), zap.Error(err))
		}
		return crawler.Document{}, false
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		f.logger.Warn("discarding corrupt cache entry", zap.String("url", url), zap.Error(err))
		return crawler.Document{}, false
	}
	return crawler.Document{URL: e.URL, StatusCode: e.StatusCode, Body: e.Body, FromCache: true}, true
}

// Dial connects to addr and verifies the server answers.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}
