// Package postgres provides the durable pending-command store backed by
// PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/wagerline/sync_core/internal/domain/command"
	"github.com/wagerline/sync_core/internal/storage"
)

// Store implements storage.PendingCommandStore backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.PendingCommandStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreatePendingCommand(ctx context.Context, cmd command.PendingCommand) error {
	if cmd.SubmittedAt.IsZero() {
		cmd.SubmittedAt = time.Now().UTC()
	}
	if cmd.Outcome == "" {
		cmd.Outcome = command.OutcomePending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_commands (idempotency_key, kind, payload, submitted_at, outcome, last_error)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, cmd.IdempotencyKey, cmd.Kind, []byte(cmd.Payload), cmd.SubmittedAt, string(cmd.Outcome), cmd.LastError)
	return err
}

func (s *Store) GetPendingCommand(ctx context.Context, key string) (command.PendingCommand, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT idempotency_key, kind, payload, submitted_at, outcome, last_error, resolved_at
		FROM pending_commands
		WHERE idempotency_key = $1
	`, key)
	return scanCommand(row)
}

func (s *Store) MarkCommandConfirmed(ctx context.Context, key string) error {
	return s.resolve(ctx, key, command.OutcomeConfirmed, "")
}

func (s *Store) MarkCommandFailed(ctx context.Context, key, reason string) error {
	return s.resolve(ctx, key, command.OutcomeFailed, reason)
}

func (s *Store) resolve(ctx context.Context, key string, outcome command.Outcome, reason string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE pending_commands
		SET outcome = $2, last_error = $3, resolved_at = $4
		WHERE idempotency_key = $1
	`, key, string(outcome), reason, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListUnresolvedCommands(ctx context.Context) ([]command.PendingCommand, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idempotency_key, kind, payload, submitted_at, outcome, last_error, resolved_at
		FROM pending_commands
		WHERE outcome = 'pending'
		ORDER BY submitted_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []command.PendingCommand
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cmd)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCommand(row scanner) (command.PendingCommand, error) {
	var (
		cmd        command.PendingCommand
		payload    []byte
		outcome    string
		lastError  sql.NullString
		resolvedAt sql.NullTime
	)
	err := row.Scan(&cmd.IdempotencyKey, &cmd.Kind, &payload, &cmd.SubmittedAt, &outcome, &lastError, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return command.PendingCommand{}, storage.ErrNotFound
	}
	if err != nil {
		return command.PendingCommand{}, err
	}
	cmd.Payload = payload
	cmd.Outcome = command.Outcome(outcome)
	cmd.LastError = lastError.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		cmd.ResolvedAt = &t
	}
	return cmd, nil
}
