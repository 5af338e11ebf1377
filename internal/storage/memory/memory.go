// Package memory provides the in-memory storage implementation used in tests
// and as the default when no durable store is configured.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/wagerline/sync_core/internal/domain/command"
	"github.com/wagerline/sync_core/internal/storage"
)

// Store implements storage.PendingCommandStore in memory.
type Store struct {
	mu       sync.RWMutex
	commands map[string]command.PendingCommand
}

var _ storage.PendingCommandStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{commands: make(map[string]command.PendingCommand)}
}

func (s *Store) CreatePendingCommand(ctx context.Context, cmd command.PendingCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands[cmd.IdempotencyKey] = cmd
	return nil
}

func (s *Store) GetPendingCommand(ctx context.Context, key string) (command.PendingCommand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cmd, ok := s.commands[key]
	if !ok {
		return command.PendingCommand{}, storage.ErrNotFound
	}
	return cmd, nil
}

func (s *Store) MarkCommandConfirmed(ctx context.Context, key string) error {
	return s.resolve(key, command.OutcomeConfirmed, "")
}

func (s *Store) MarkCommandFailed(ctx context.Context, key, reason string) error {
	return s.resolve(key, command.OutcomeFailed, reason)
}

func (s *Store) resolve(key string, outcome command.Outcome, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd, ok := s.commands[key]
	if !ok {
		return storage.ErrNotFound
	}
	now := time.Now().UTC()
	cmd.Outcome = outcome
	cmd.LastError = reason
	cmd.ResolvedAt = &now
	s.commands[key] = cmd
	return nil
}

func (s *Store) ListUnresolvedCommands(ctx context.Context) ([]command.PendingCommand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []command.PendingCommand
	for _, cmd := range s.commands {
		if !cmd.Resolved() {
			out = append(out, cmd)
		}
	}
	return out, nil
}
