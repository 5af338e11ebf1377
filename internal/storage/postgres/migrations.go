package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order. Statements must be idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS pending_commands (
		idempotency_key TEXT PRIMARY KEY,
		kind            TEXT NOT NULL,
		payload         JSONB,
		submitted_at    TIMESTAMPTZ NOT NULL,
		outcome         TEXT NOT NULL DEFAULT 'pending',
		last_error      TEXT NOT NULL DEFAULT '',
		resolved_at     TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_commands_outcome
		ON pending_commands (outcome) WHERE outcome = 'pending'`,
}

// Apply runs the schema migrations.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
