package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS operators (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		api_key_hash TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id UUID PRIMARY KEY,
		operator_id UUID NOT NULL,
		local_status TEXT NOT NULL,
		partner_reference TEXT,
		partner_status TEXT,
		partner_status_history JSONB NOT NULL DEFAULT '[]'::jsonb,
		customer JSONB NOT NULL,
		items JSONB NOT NULL,
		total NUMERIC(12, 2) NOT NULL DEFAULT 0,
		last_error TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_retry_at TIMESTAMPTZ,
		last_synced_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_local_status ON orders (local_status, created_at)`,
	`CREATE TABLE IF NOT EXISTS credential_sessions (
		id UUID PRIMARY KEY,
		operator_id TEXT NOT NULL,
		credential_value TEXT NOT NULL,
		acquired_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		source_address TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_credential_sessions_active
		ON credential_sessions (operator_id, source_address) WHERE is_active`,
	`CREATE TABLE IF NOT EXISTS retry_tasks (
		id UUID PRIMARY KEY,
		order_id UUID NOT NULL REFERENCES orders (id),
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		due_at TIMESTAMPTZ NOT NULL,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_retry_tasks_open ON retry_tasks (order_id) WHERE status = 'PENDING'`,
	`CREATE INDEX IF NOT EXISTS idx_retry_tasks_due ON retry_tasks (due_at) WHERE status = 'PENDING'`,
}

// Migrate creates the schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
