package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/wagerline/sync_core/internal/domain/command"
	"github.com/wagerline/sync_core/internal/storage"
)

func TestCreatePendingCommand(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO pending_commands").
		WithArgs("k1", "settle_market", []byte(`{"market_id":"m1"}`), sqlmock.AnyArg(), "pending", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := New(db)
	err = s.CreatePendingCommand(context.Background(), command.PendingCommand{
		IdempotencyKey: "k1",
		Kind:           "settle_market",
		Payload:        json.RawMessage(`{"market_id":"m1"}`),
		Outcome:        command.OutcomePending,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetPendingCommand(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	submitted := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"idempotency_key", "kind", "payload", "submitted_at", "outcome", "last_error", "resolved_at",
	}).AddRow("k1", "settle_market", []byte(`{}`), submitted, "pending", nil, nil)

	mock.ExpectQuery("SELECT idempotency_key, kind, payload, submitted_at, outcome, last_error, resolved_at").
		WithArgs("k1").
		WillReturnRows(rows)

	s := New(db)
	got, err := s.GetPendingCommand(context.Background(), "k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Kind != "settle_market" || got.Resolved() {
		t.Fatalf("got = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT idempotency_key").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"idempotency_key", "kind", "payload", "submitted_at", "outcome", "last_error", "resolved_at",
		}))

	s := New(db)
	if _, err := s.GetPendingCommand(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMarkCommandConfirmed(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE pending_commands").
		WithArgs("k1", "confirmed", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := New(db)
	if err := s.MarkCommandConfirmed(context.Background(), "k1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMarkMissingReturnsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE pending_commands").
		WithArgs("missing", "failed", "reason", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	s := New(db)
	if err := s.MarkCommandFailed(context.Background(), "missing", "reason"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListUnresolvedCommands(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	submitted := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"idempotency_key", "kind", "payload", "submitted_at", "outcome", "last_error", "resolved_at",
	}).
		AddRow("k1", "settle_market", []byte(`{}`), submitted, "pending", nil, nil).
		AddRow("k2", "archive_market", []byte(`{}`), submitted, "pending", nil, nil)

	mock.ExpectQuery("SELECT idempotency_key, kind, payload, submitted_at, outcome, last_error, resolved_at").
		WillReturnRows(rows)

	s := New(db)
	got, err := s.ListUnresolvedCommands(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].IdempotencyKey != "k1" || got[1].IdempotencyKey != "k2" {
		t.Fatalf("got = %+v", got)
	}
}
