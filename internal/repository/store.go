package repository

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store is the durable record store behind the trading loop: symbol
// positions, order history, the whitelist and the trade parameter
// profile. Pure CRUD; decision logic lives in core.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS trade_params(
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	base_qty              TEXT    NOT NULL,
	averaging_trigger_pct TEXT    NOT NULL,
	averaging_multiplier  TEXT    NOT NULL,
	take_profit_pct       TEXT    NOT NULL,
	poll_interval_sec     INTEGER NOT NULL,
	outside_rth           INTEGER NOT NULL DEFAULT 0,
	whole_units           INTEGER NOT NULL DEFAULT 1,
	maintain_exit         INTEGER NOT NULL DEFAULT 0,
	aux_json              TEXT    NOT NULL DEFAULT '{}',
	created_at            INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS white_list(
	pair TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS symbols(
	symbol     TEXT PRIMARY KEY,
	quantity   TEXT NOT NULL,
	avg_cost   TEXT NOT NULL,
	last       TEXT NOT NULL,
	status     TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS orders(
	perm_id         INTEGER PRIMARY KEY,
	order_id        INTEGER NOT NULL,
	client_order_id TEXT,
	symbol          TEXT NOT NULL,
	side            TEXT NOT NULL,
	type            TEXT NOT NULL,
	lmt_price       TEXT,
	tif             TEXT,
	outside_rth     INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	filled          TEXT NOT NULL DEFAULT '0',
	remaining       TEXT NOT NULL DEFAULT '0',
	avg_fill_price  TEXT,
	last_fill_price TEXT,
	why_held        TEXT,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
`

// Open opens (or creates) the SQLite database at path and ensures the
// schema. Use ":memory:" in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	// The store is shared by the loop goroutine and the chat surface.
	// SQLite handles one writer at a time; serialize on a single conn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout=5000; PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}
