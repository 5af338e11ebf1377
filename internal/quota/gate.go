// Package quota gates rate-limited actions with a client-side predictive
// check. The authoritative decision always happens server-side inside the
// command that performs the action; a local "allowed" verdict is a hint,
// never a guarantee.
package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	quotadomain "github.com/wagerline/sync_core/internal/domain/quota"
	"github.com/wagerline/sync_core/internal/fault"
	"github.com/wagerline/sync_core/internal/remote"
	"github.com/wagerline/sync_core/pkg/logger"
)

type entry struct {
	snapshot quotadomain.Snapshot
	limiter  *rate.Limiter
}

// Gate combines server-reported quota snapshots with a local pacing limiter.
type Gate struct {
	remote remote.CommandService
	log    *logger.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates a gate.
func New(svc remote.CommandService, log *logger.Logger) *Gate {
	if log == nil {
		log = logger.NewDefault("quota")
	}
	return &Gate{remote: svc, log: log, entries: make(map[string]*entry)}
}

// snapshotRow mirrors the check_quota response payload.
type snapshotRow struct {
	UsedInWindow      int  `json:"used_in_window"`
	RemainingInWindow int  `json:"remaining_in_window"`
	IsExempt          bool `json:"is_exempt"`
	WindowSeconds     int  `json:"window_seconds"`
}

// Refresh fetches the authoritative snapshot for an action kind and
// overwrites the local one.
func (g *Gate) Refresh(ctx context.Context, action string) (quotadomain.Snapshot, error) {
	resp, err := g.remote.Invoke(ctx, remote.CmdCheckQuota, map[string]any{"action_kind": action}, "")
	if err != nil {
		return quotadomain.Snapshot{}, fmt.Errorf("check quota for %s: %w", action, err)
	}

	var row snapshotRow
	if err := json.Unmarshal(resp, &row); err != nil {
		return quotadomain.Snapshot{}, fmt.Errorf("decode quota for %s: %w", action, err)
	}

	snap := quotadomain.Snapshot{
		ActionKind:        action,
		UsedInWindow:      row.UsedInWindow,
		RemainingInWindow: row.RemainingInWindow,
		IsExempt:          row.IsExempt,
		WindowSeconds:     row.WindowSeconds,
		FetchedAt:         time.Now().UTC(),
	}

	g.mu.Lock()
	g.entries[action] = &entry{snapshot: snap, limiter: limiterFor(snap)}
	g.mu.Unlock()

	return snap, nil
}

// limiterFor derives a pacing limiter from the window parameters. Exempt
// users or unknown windows get an unlimited limiter.
func limiterFor(snap quotadomain.Snapshot) *rate.Limiter {
	total := snap.UsedInWindow + snap.RemainingInWindow
	if snap.IsExempt || total <= 0 || snap.WindowSeconds <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	perSecond := rate.Limit(float64(total) / float64(snap.WindowSeconds))
	return rate.NewLimiter(perSecond, total)
}

// Check returns nil when the action may be attempted. It never consumes
// local budget; CommitUsage does that after the server accepts the action.
func (g *Gate) Check(action string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[action]
	if !ok {
		// No snapshot yet: let the server decide.
		return nil
	}
	if e.snapshot.IsExempt {
		return nil
	}
	if e.snapshot.Exhausted() {
		return fault.Denied(fmt.Sprintf("quota exhausted for %s", action))
	}
	if e.limiter.Tokens() < 1 {
		return fault.Denied(fmt.Sprintf("pacing limit reached for %s", action))
	}
	return nil
}

// CommitUsage decrements the local snapshot predictively after the server
// accepted a rate-limited action. The next Refresh overwrites the hint.
func (g *Gate) CommitUsage(action string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[action]
	if !ok {
		return
	}
	e.limiter.Allow()
	if e.snapshot.RemainingInWindow > 0 {
		e.snapshot.RemainingInWindow--
	}
	e.snapshot.UsedInWindow++
}

// Snapshot returns the last-known snapshot for an action kind.
func (g *Gate) Snapshot(action string) (quotadomain.Snapshot, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[action]
	if !ok {
		return quotadomain.Snapshot{}, false
	}
	return e.snapshot, true
}
