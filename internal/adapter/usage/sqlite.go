// Package usage persists per-agent, per-backend daily dispatch aggregates.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"modelgate/internal/domain"
)

const dayLayout = "2006-01-02"

var _ domain.UsageStore = (*SQLiteStore)(nil)

// SQLiteStore implements domain.UsageStore using SQLite. Each event is
// folded into the row for its (day, agent, backend) key.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs the
// schema migration. ":memory:" is accepted for tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("%w: create usage dir: %w", domain.ErrUsageStore, err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open usage db: %w", domain.ErrUsageStore, err)
	}
	// A single writer keeps upserts serialized; an in-memory database is
	// also per-connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: set WAL mode: %w", domain.ErrUsageStore, err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate usage db: %w", domain.ErrUsageStore, err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS usage_daily (
			day                TEXT    NOT NULL,
			agent              TEXT    NOT NULL,
			backend            TEXT    NOT NULL,
			requests           INTEGER NOT NULL DEFAULT 0,
			tokens             INTEGER NOT NULL DEFAULT 0,
			processing_time_ns INTEGER NOT NULL DEFAULT 0,
			fallbacks          INTEGER NOT NULL DEFAULT 0,
			failures           INTEGER NOT NULL DEFAULT 0,
			updated_at         TEXT    NOT NULL,
			PRIMARY KEY (day, agent, backend)
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Record adds ev to its daily aggregate.
func (s *SQLiteStore) Record(ctx context.Context, ev domain.UsageEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_daily (day, agent, backend, requests, tokens, processing_time_ns, fallbacks, failures, updated_at)
		VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?)
		ON CONFLICT (day, agent, backend) DO UPDATE SET
			requests           = requests + 1,
			tokens             = tokens + excluded.tokens,
			processing_time_ns = processing_time_ns + excluded.processing_time_ns,
			fallbacks          = fallbacks + excluded.fallbacks,
			failures           = failures + excluded.failures,
			updated_at         = excluded.updated_at`,
		at.UTC().Format(dayLayout), ev.Agent, ev.Backend,
		ev.Tokens, int64(ev.ProcessingTime), boolInt(ev.UsedFallback), boolInt(ev.Failed),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("%w: record: %w", domain.ErrUsageStore, err)
	}
	return nil
}

// Since returns the aggregates for every day on or after since (UTC),
// ordered by day, agent, then backend.
func (s *SQLiteStore) Since(ctx context.Context, since time.Time) ([]domain.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT day, agent, backend, requests, tokens, processing_time_ns, fallbacks, failures
		FROM usage_daily
		WHERE day >= ?
		ORDER BY day, agent, backend`,
		since.UTC().Format(dayLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", domain.ErrUsageStore, err)
	}
	defer rows.Close()

	var out []domain.UsageRecord
	for rows.Next() {
		var (
			r  domain.UsageRecord
			ns int64
		)
		if err := rows.Scan(&r.Day, &r.Agent, &r.Backend, &r.Requests, &r.Tokens, &ns, &r.Fallbacks, &r.Failures); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", domain.ErrUsageStore, err)
		}
		r.ProcessingTime = time.Duration(ns)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: query: %w", domain.ErrUsageStore, err)
	}
	return out, nil
}

// Prune deletes aggregates for days strictly before before (UTC) and
// returns the number of rows removed.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM usage_daily WHERE day < ?", before.UTC().Format(dayLayout))
	if err != nil {
		return 0, fmt.Errorf("%w: prune: %w", domain.ErrUsageStore, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
