// Package sqlite provides the default, file-backed SnapshotStore.
package sqlite

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/JakeFAU/metrics-snapshot-crawler/internal/crawler"
)

const (
	defaultTable     = "metrics_snapshot"
	defaultBatchRows = 500
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config selects the database file and table.
type Config struct {
	Path  string
	Table string
}

type snapshotRow struct {
	TargetDate    string `gorm:"column:target_date"`
	Code          string `gorm:"column:code"`
	Sector        string `gorm:"column:sector"`
	Name          string `gorm:"column:name"`
	PriceText     string `gorm:"column:price_text"`
	PE            string `gorm:"column:pe"`
	DividendYield string `gorm:"column:dividend_yield"`
	PB            string `gorm:"column:pb"`
	ROE           string `gorm:"column:roe"`
	EarningYield  string `gorm:"column:earning_yield"`
}

func toRow(r crawler.Record) snapshotRow {
	return snapshotRow(r)
}

func (r snapshotRow) record() crawler.Record {
	return crawler.Record(r)
}

// SnapshotStore writes snapshot rows to a SQLite file in WAL mode. Commits
// use synchronous=NORMAL: a committed batch survives a process crash, though
// not necessarily power loss.
type SnapshotStore struct {
	db     *gorm.DB
	table  string
	closed bool
}

// Open opens (creating if needed) the database at cfg.Path.
func Open(cfg Config) (*SnapshotStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("store.path is required for sqlite")
	}
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	db, err := gorm.Open(sqlite.Open(dsn(cfg.Path)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// One connection: the pipeline has a single writer, and pragmas are per connection.
	sqlDB.SetMaxOpenConns(1)
	return &SnapshotStore{db: db, table: table}, nil
}

func dsn(path string) string {
	if path == ":memory:" {
		return path
	}
	return "file:" + path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

// EnsureSchema creates the snapshot table if absent.
func (s *SnapshotStore) EnsureSchema(ctx context.Context) error {
	if s.closed {
		return crawler.ErrStoreClosed
	}
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	target_date    TEXT,
	code           TEXT,
	sector         TEXT,
	name           TEXT,
	price_text     TEXT,
	pe             TEXT,
	dividend_yield TEXT,
	pb             TEXT,
	roe            TEXT,
	earning_yield  TEXT,
	UNIQUE(code, target_date)
)`, s.table)
	if err := s.db.WithContext(ctx).Exec(ddl).Error; err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// UpsertMany inserts or fully replaces the rows for records inside a single
// transaction.
func (s *SnapshotStore) UpsertMany(ctx context.Context, records []crawler.Record) error {
	if s.closed {
		return crawler.ErrStoreClosed
	}
	if len(records) == 0 {
		return nil
	}
	rows := make([]snapshotRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, toRow(r))
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Table(s.table).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}, {Name: "target_date"}},
			UpdateAll: true,
		}).CreateInBatches(&rows, defaultBatchRows).Error
	})
	if err != nil {
		return fmt.Errorf("upsert snapshots: %w", err)
	}
	return nil
}

// Records returns the stored rows for targetDate ordered by code.
func (s *SnapshotStore) Records(ctx context.Context, targetDate string) ([]crawler.Record, error) {
	if s.closed {
		return nil, crawler.ErrStoreClosed
	}
	var rows []snapshotRow
	err := s.db.WithContext(ctx).Table(s.table).
		Where("target_date = ?", targetDate).
		Order("code").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	out := make([]crawler.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

// Close releases the database handle. It is safe to call more than once.
func (s *SnapshotStore) Close() error {
	if s == nil || s.db == nil || s.closed {
		return nil
	}
	s.closed = true
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("sqlite handle: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
