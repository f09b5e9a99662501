package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS processed_vouchers (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	sku          TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	quantity     REAL NOT NULL,
	day          TEXT NOT NULL,
	processed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_processed_vouchers_day_sku ON processed_vouchers(day, sku);
`

// SQLite keeps one row per produced voucher.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (and migrates) the database file at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, (5 * time.Second).Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	// Single writer; batch tabs record concurrently.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate failed: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) AlreadyProcessedToday(ctx context.Context, sku string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM processed_vouchers WHERE day = ? AND sku = ?`,
		day(s.now()), sku,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: lookup %s: %w", sku, err)
	}
	return n > 0, nil
}

func (s *SQLite) RecordProcessed(ctx context.Context, sku, name string, quantity float64) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_vouchers (sku, name, quantity, day, processed_at) VALUES (?, ?, ?, ?, ?)`,
		sku, name, quantity, day(now), now.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("sqlite: record %s: %w", sku, err)
	}
	return nil
}

// ProcessedOn lists the SKUs recorded on the given day, oldest first.
func (s *SQLite) ProcessedOn(ctx context.Context, on time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sku FROM processed_vouchers WHERE day = ? ORDER BY id`, day(on))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list %s: %w", day(on), err)
	}
	defer rows.Close()

	var skus []string
	for rows.Next() {
		var sku string
		if err := rows.Scan(&sku); err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}
		skus = append(skus, sku)
	}
	return skus, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
