// Package dispatch provides idempotent remote command dispatch. Every
// command is persisted before it leaves the process so an ambiguous outcome
// can be resolved later by re-dispatching under the same key, which the
// remote service treats as a no-op if the effect already landed.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wagerline/sync_core/internal/domain/command"
	"github.com/wagerline/sync_core/internal/fault"
	"github.com/wagerline/sync_core/internal/metrics"
	"github.com/wagerline/sync_core/internal/remote"
	"github.com/wagerline/sync_core/internal/storage"
	"github.com/wagerline/sync_core/internal/storage/memory"
	"github.com/wagerline/sync_core/pkg/logger"
)

// ErrAlreadyResolved is returned when re-dispatching a command that already
// reached a terminal outcome.
var ErrAlreadyResolved = errors.New("command already resolved")

// Dispatcher wraps remote commands with idempotency bookkeeping.
type Dispatcher struct {
	remote remote.CommandService
	store  storage.PendingCommandStore
	log    *logger.Logger
}

// New creates a dispatcher. A nil store falls back to the in-memory
// implementation; a nil logger gets a default.
func New(svc remote.CommandService, store storage.PendingCommandStore, log *logger.Logger) *Dispatcher {
	if store == nil {
		store = memory.New()
	}
	if log == nil {
		log = logger.NewDefault("dispatch")
	}
	return &Dispatcher{remote: svc, store: store, log: log}
}

// Dispatch sends a command under a freshly generated idempotency key.
func (d *Dispatcher) Dispatch(ctx context.Context, kind string, payload any) (json.RawMessage, error) {
	return d.DispatchKeyed(ctx, kind, payload, uuid.NewString())
}

// DispatchKeyed sends a command under the caller's key. Re-using a key whose
// record is still pending re-sends the original command; the remote side
// de-duplicates on the key.
func (d *Dispatcher) DispatchKeyed(ctx context.Context, kind string, payload any, key string) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fault.Definite("dispatch "+kind, fmt.Errorf("marshal payload: %w", err))
	}

	existing, err := d.store.GetPendingCommand(ctx, key)
	switch {
	case err == nil:
		if existing.Resolved() {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyResolved, key)
		}
	case errors.Is(err, storage.ErrNotFound):
		record := command.PendingCommand{
			IdempotencyKey: key,
			Kind:           kind,
			Payload:        raw,
			SubmittedAt:    time.Now().UTC(),
			Outcome:        command.OutcomePending,
		}
		if err := d.store.CreatePendingCommand(ctx, record); err != nil {
			return nil, fmt.Errorf("persist pending command: %w", err)
		}
	default:
		return nil, fmt.Errorf("load pending command: %w", err)
	}

	return d.send(ctx, kind, raw, key)
}

// Redispatch re-sends a previously persisted command under its original key.
func (d *Dispatcher) Redispatch(ctx context.Context, key string) (json.RawMessage, error) {
	record, err := d.store.GetPendingCommand(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load pending command: %w", err)
	}
	if record.Resolved() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyResolved, key)
	}
	return d.send(ctx, record.Kind, record.Payload, key)
}

// ListUnresolved returns commands still awaiting a terminal outcome.
func (d *Dispatcher) ListUnresolved(ctx context.Context) ([]command.PendingCommand, error) {
	return d.store.ListUnresolvedCommands(ctx)
}

func (d *Dispatcher) send(ctx context.Context, kind string, payload json.RawMessage, key string) (json.RawMessage, error) {
	start := time.Now()
	resp, err := d.remote.Invoke(ctx, kind, payload, key)
	elapsed := time.Since(start).Seconds()

	switch {
	case err == nil:
		if markErr := d.store.MarkCommandConfirmed(ctx, key); markErr != nil {
			d.log.WithError(markErr).Warnf("mark %s confirmed failed", key)
		}
		metrics.ObserveCommand(kind, "confirmed", elapsed)
		return resp, nil

	case fault.IsAmbiguous(err):
		// Outcome unknown: the record stays pending for reconciliation.
		metrics.ObserveCommand(kind, "ambiguous", elapsed)
		return nil, err

	default:
		if markErr := d.store.MarkCommandFailed(ctx, key, err.Error()); markErr != nil {
			d.log.WithError(markErr).Warnf("mark %s failed failed", key)
		}
		metrics.ObserveCommand(kind, "failed", elapsed)
		return nil, err
	}
}
