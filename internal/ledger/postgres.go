package ledger

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

// ConnectPostgres establishes a connection to PostgreSQL
func ConnectPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, err
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// EnsureSchema creates the ledger tables when they do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS items (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			price          BIGINT NOT NULL,
			total_stock    BIGINT NOT NULL,
			sales_start_at TIMESTAMPTZ NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS slots (
			id              TEXT PRIMARY KEY,
			item_id         TEXT NOT NULL,
			requester_id    TEXT NOT NULL,
			acquired_at     TIMESTAMPTZ(3) NOT NULL,
			expires_at      TIMESTAMPTZ(3) NOT NULL,
			status          TEXT NOT NULL,
			reclaim_reason  TEXT,
			correlation_id  TEXT NOT NULL,
			queue_position  BIGINT NOT NULL DEFAULT 0,
			remaining_stock BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_slots_requester ON slots (requester_id)`,
		`CREATE INDEX IF NOT EXISTS idx_slots_item_status ON slots (item_id, status)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_slots_one_active
			ON slots (requester_id, item_id) WHERE status = 'ACTIVE'`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id             TEXT PRIMARY KEY,
			slot_id        TEXT NOT NULL,
			event_type     TEXT NOT NULL,
			old_status     TEXT NOT NULL,
			new_status     TEXT NOT NULL,
			occurred_at    TIMESTAMPTZ(3) NOT NULL,
			correlation_id TEXT NOT NULL,
			metadata       JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_slot ON audit_log (slot_id)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
