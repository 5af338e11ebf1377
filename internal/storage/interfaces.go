// Package storage defines persistence interfaces for locally-held dispatch
// records.
package storage

import (
	"context"
	"errors"

	"github.com/wagerline/sync_core/internal/domain/command"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// PendingCommandStore persists dispatch records. Records stay in the store
// while pending so a restarted process can reconcile outstanding ambiguous
// commands instead of re-attempting them blindly.
type PendingCommandStore interface {
	CreatePendingCommand(ctx context.Context, cmd command.PendingCommand) error
	GetPendingCommand(ctx context.Context, key string) (command.PendingCommand, error)
	MarkCommandConfirmed(ctx context.Context, key string) error
	MarkCommandFailed(ctx context.Context, key, reason string) error
	ListUnresolvedCommands(ctx context.Context) ([]command.PendingCommand, error)
}
