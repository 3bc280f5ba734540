// Package postgres provides a Postgres-backed SnapshotStore.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/metrics-snapshot-crawler/internal/crawler"
)

const defaultTable = "metrics_snapshot"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for snapshot rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type txBeginner interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// SnapshotStore upserts snapshot rows into a single Postgres table.
type SnapshotStore struct {
	pool   txBeginner
	table  string
	upsert string
	closed bool
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*SnapshotStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required for postgres")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool builds a store over an existing pool (primarily for testing).
func NewWithPool(pool txBeginner, table string) (*SnapshotStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &SnapshotStore{
		pool:   pool,
		table:  table,
		upsert: upsertQuery(table),
	}, nil
}

// EnsureSchema creates the snapshot table when it does not exist yet.
func (s *SnapshotStore) EnsureSchema(ctx context.Context) error {
	if s.closed {
		return crawler.ErrStoreClosed
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	target_date    TEXT NOT NULL,
	code           TEXT NOT NULL,
	sector         TEXT,
	name           TEXT,
	price_text     TEXT,
	pe             TEXT,
	dividend_yield TEXT,
	pb             TEXT,
	roe            TEXT,
	earning_yield  TEXT,
	PRIMARY KEY (code, target_date)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// UpsertMany writes records in one transaction. Conflicting rows are
// replaced column by column; either the whole batch commits or none of it.
func (s *SnapshotStore) UpsertMany(ctx context.Context, records []crawler.Record) error {
	if s.closed {
		return crawler.ErrStoreClosed
	}
	if len(records) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot batch: %w", err)
	}
	for _, rec := range records {
		if _, err := tx.Exec(ctx, s.upsert, recordArgs(rec)...); err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				return fmt.Errorf("upsert snapshot %s: %w (rollback: %v)", rec.Code, err, rbErr)
			}
			return fmt.Errorf("upsert snapshot %s: %w", rec.Code, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot batch: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *SnapshotStore) Close() error {
	if s == nil || s.pool == nil || s.closed {
		return nil
	}
	s.closed = true
	s.pool.Close()
	return nil
}

func upsertQuery(table string) string {
	return fmt.Sprintf(`
INSERT INTO %s (
	target_date,
	code,
	sector,
	name,
	price_text,
	pe,
	dividend_yield,
	pb,
	roe,
	earning_yield
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
ON CONFLICT (code, target_date) DO UPDATE SET
	sector = EXCLUDED.sector,
	name = EXCLUDED.name,
	price_text = EXCLUDED.price_text,
	pe = EXCLUDED.pe,
	dividend_yield = EXCLUDED.dividend_yield,
	pb = EXCLUDED.pb,
	roe = EXCLUDED.roe,
	earning_yield = EXCLUDED.earning_yield`, table)
}

func recordArgs(rec crawler.Record) []any {
	return []any{
		rec.TargetDate,
		rec.Code,
		rec.Sector,
		rec.Name,
		rec.PriceText,
		rec.PE,
		rec.DividendYield,
		rec.PB,
		rec.ROE,
		rec.EarningYield,
	}
}
