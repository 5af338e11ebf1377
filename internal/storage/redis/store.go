// Package redis provides a pending-command store backed by Redis, suited to
// deployments that want fast restart recovery without a SQL database.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/wagerline/sync_core/internal/domain/command"
	"github.com/wagerline/sync_core/internal/storage"
)

const (
	keyPrefix     = "sync:command:"
	unresolvedSet = "sync:commands:unresolved"

	// resolvedTTL bounds how long resolved records linger for inspection.
	resolvedTTL = 24 * time.Hour
)

// Store implements storage.PendingCommandStore on Redis.
type Store struct {
	client *redis.Client
}

var _ storage.PendingCommandStore = (*Store)(nil)

// New wraps a Redis client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) CreatePendingCommand(ctx context.Context, cmd command.PendingCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, keyPrefix+cmd.IdempotencyKey, data, 0)
	pipe.SAdd(ctx, unresolvedSet, cmd.IdempotencyKey)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) GetPendingCommand(ctx context.Context, key string) (command.PendingCommand, error) {
	data, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return command.PendingCommand{}, storage.ErrNotFound
	}
	if err != nil {
		return command.PendingCommand{}, err
	}

	var cmd command.PendingCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return command.PendingCommand{}, fmt.Errorf("unmarshal command: %w", err)
	}
	return cmd, nil
}

func (s *Store) MarkCommandConfirmed(ctx context.Context, key string) error {
	return s.resolve(ctx, key, command.OutcomeConfirmed, "")
}

func (s *Store) MarkCommandFailed(ctx context.Context, key, reason string) error {
	return s.resolve(ctx, key, command.OutcomeFailed, reason)
}

func (s *Store) resolve(ctx context.Context, key string, outcome command.Outcome, reason string) error {
	cmd, err := s.GetPendingCommand(ctx, key)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	cmd.Outcome = outcome
	cmd.LastError = reason
	cmd.ResolvedAt = &now

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, keyPrefix+key, data, resolvedTTL)
	pipe.SRem(ctx, unresolvedSet, key)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) ListUnresolvedCommands(ctx context.Context) ([]command.PendingCommand, error) {
	keys, err := s.client.SMembers(ctx, unresolvedSet).Result()
	if err != nil {
		return nil, err
	}

	var out []command.PendingCommand
	for _, key := range keys {
		cmd, err := s.GetPendingCommand(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			// Record expired underneath the set; drop the stale member.
			s.client.SRem(ctx, unresolvedSet, key)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cmd)
	}
	return out, nil
}
