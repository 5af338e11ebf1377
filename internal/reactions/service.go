// Package reactions coordinates optimistic reaction toggles against the
// remote store.
package reactions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/wagerline/sync_core/internal/dispatch"
	"github.com/wagerline/sync_core/internal/domain/reaction"
	"github.com/wagerline/sync_core/internal/optimistic"
	"github.com/wagerline/sync_core/internal/remote"
	"github.com/wagerline/sync_core/pkg/logger"
)

// Service applies reaction toggles optimistically and reconciles them
// against notifications.
type Service struct {
	dispatcher *dispatch.Dispatcher
	entities   *optimistic.Controller[reaction.Entity]
	log        *logger.Logger
}

// New creates the service.
func New(dispatcher *dispatch.Dispatcher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("reactions")
	}
	return &Service{
		dispatcher: dispatcher,
		entities: optimistic.New(
			optimistic.WithClone[reaction.Entity](reaction.Entity.Clone),
			optimistic.WithLogger[reaction.Entity](log),
		),
		log: log,
	}
}

// Seed installs an authoritative entity state.
func (s *Service) Seed(e reaction.Entity) {
	s.entities.Seed(e.ID, e)
}

// Entity returns the current local view of an entity.
func (s *Service) Entity(id string) (reaction.Entity, bool) {
	return s.entities.Get(id)
}

// OnChange registers a listener for local state changes.
func (s *Service) OnChange(fn optimistic.Listener[reaction.Entity]) {
	s.entities.OnChange(fn)
}

// Toggle applies tag for the current user: switching from another tag moves
// the count between buckets, re-applying the active tag clears it. The local
// delta publishes immediately; the matching remote command confirms it.
func (s *Service) Toggle(ctx context.Context, entityID string, tag reaction.Tag) (reaction.Entity, error) {
	if !tag.Valid() {
		return reaction.Entity{}, fmt.Errorf("invalid tag %q", tag)
	}

	err := s.entities.Apply(ctx, entityID,
		func(e reaction.Entity) reaction.Entity {
			if e.ID == "" {
				e.ID = entityID
				e.Counts = make(map[reaction.Tag]int)
			}
			return reaction.Apply(e, tag)
		},
		func(ctx context.Context, next reaction.Entity) error {
			if next.MyTag == reaction.TagNone {
				_, err := s.dispatcher.Dispatch(ctx, remote.CmdRemoveReaction, map[string]any{
					"entity_id": entityID,
				})
				return err
			}
			_, err := s.dispatcher.Dispatch(ctx, remote.CmdUpsertReaction, map[string]any{
				"entity_id": entityID,
				"tag":       string(next.MyTag),
			})
			return err
		},
	)
	if err != nil {
		current, _ := s.entities.Get(entityID)
		return current, err
	}

	current, _ := s.entities.Get(entityID)
	return current, nil
}

// entityRow mirrors the proofs-row reaction columns.
type entityRow struct {
	ID     string         `json:"id"`
	Counts map[string]int `json:"reaction_counts"`
	MyTag  string         `json:"my_reaction"`
}

// ReconcileRow overwrites local state from a server row payload. Rows
// without the reaction columns are skipped: notification payloads may be
// partial, and an aggregate must never be patched from a payload that omits
// it.
func (s *Service) ReconcileRow(row json.RawMessage) error {
	if !gjson.GetBytes(row, "reaction_counts").Exists() {
		return nil
	}

	var r entityRow
	if err := json.Unmarshal(row, &r); err != nil {
		return fmt.Errorf("decode reaction row: %w", err)
	}
	if r.ID == "" {
		return fmt.Errorf("reaction row missing id")
	}

	counts := make(map[reaction.Tag]int, len(r.Counts))
	for tag, n := range r.Counts {
		counts[reaction.Tag(tag)] = n
	}
	s.entities.Reconcile(r.ID, reaction.Entity{
		ID:     r.ID,
		Counts: counts,
		MyTag:  reaction.Tag(r.MyTag),
	})
	return nil
}
