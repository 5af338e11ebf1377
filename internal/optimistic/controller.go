// Package optimistic applies local state deltas ahead of server
// confirmation with a single rollback discipline: keep on success, restore
// the captured snapshot on definite failure, leave in place but mark
// unconfirmed on ambiguous failure.
package optimistic

import (
	"context"
	"sync"

	"github.com/wagerline/sync_core/internal/fault"
	"github.com/wagerline/sync_core/internal/metrics"
	"github.com/wagerline/sync_core/pkg/logger"
)

// Listener observes every published state change for an entity.
type Listener[T any] func(id string, state T)

// Controller manages optimistic mutations for one entity type. A per-entity
// lock serializes concurrent mutations: two interleaved deltas computed
// against a stale snapshot would silently lose one update otherwise.
type Controller[T any] struct {
	mu          sync.Mutex
	states      map[string]T
	locks       map[string]*sync.Mutex
	gens        map[string]uint64
	unconfirmed map[string]struct{}
	listeners   []Listener[T]
	clone       func(T) T
	log         *logger.Logger
}

// Option configures a controller.
type Option[T any] func(*Controller[T])

// WithClone supplies a deep-copy function for entity states whose value copy
// would alias shared references (maps, slices).
func WithClone[T any](clone func(T) T) Option[T] {
	return func(c *Controller[T]) { c.clone = clone }
}

// WithLogger overrides the default logger.
func WithLogger[T any](log *logger.Logger) Option[T] {
	return func(c *Controller[T]) { c.log = log }
}

// New creates a controller.
func New[T any](opts ...Option[T]) *Controller[T] {
	c := &Controller[T]{
		states:      make(map[string]T),
		locks:       make(map[string]*sync.Mutex),
		gens:        make(map[string]uint64),
		unconfirmed: make(map[string]struct{}),
		clone:       func(v T) T { return v },
		log:         logger.NewDefault("optimistic"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnChange registers a listener for published state changes. Register before
// the first Apply.
func (c *Controller[T]) OnChange(fn Listener[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Seed installs an authoritative state without publishing a change.
func (c *Controller[T]) Seed(id string, state T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[id] = c.clone(state)
}

// Get returns the current local state for id.
func (c *Controller[T]) Get(id string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.states[id]
	if !ok {
		var zero T
		return zero, false
	}
	return c.clone(state), true
}

// Unconfirmed lists entities whose last mutation ended ambiguously and that
// await reconciliation against authoritative state.
func (c *Controller[T]) Unconfirmed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.unconfirmed))
	for id := range c.unconfirmed {
		out = append(out, id)
	}
	return out
}

// Apply publishes delta(old) immediately, runs commit, and reconciles:
// success keeps the optimistic state, a definite failure restores the
// snapshot, an ambiguous failure leaves the state in place and marks the
// entity unconfirmed. A second Apply on the same entity blocks until the
// first commit resolves.
func (c *Controller[T]) Apply(ctx context.Context, id string, delta func(T) T, commit func(context.Context, T) error) error {
	lock := c.entityLock(id)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	old := c.states[id]
	snapshot := c.clone(old)
	gen := c.gens[id]
	next := delta(c.clone(old))
	c.states[id] = next
	listeners := c.listenersLocked()
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(id, c.clone(next))
	}

	err := commit(ctx, c.clone(next))
	switch {
	case err == nil:
		// Kept as-is; the next authoritative notification supersedes it.
		return nil

	case fault.IsAmbiguous(err):
		c.mu.Lock()
		c.unconfirmed[id] = struct{}{}
		c.mu.Unlock()
		metrics.IncUnconfirmed()
		c.log.WithError(err).Warnf("mutation of %s unconfirmed; awaiting reconciliation", id)
		return err

	default:
		c.mu.Lock()
		if c.gens[id] != gen {
			// A reconcile landed while the commit was in flight; the
			// server-confirmed state supersedes the snapshot.
			c.mu.Unlock()
			return err
		}
		c.states[id] = snapshot
		listeners := c.listenersLocked()
		c.mu.Unlock()
		for _, fn := range listeners {
			fn(id, c.clone(snapshot))
		}
		metrics.IncRollback()
		return err
	}
}

// Reconcile overwrites local state with a server-confirmed one and clears
// the unconfirmed flag. Server state always wins.
func (c *Controller[T]) Reconcile(id string, state T) {
	c.mu.Lock()
	c.states[id] = c.clone(state)
	c.gens[id]++
	delete(c.unconfirmed, id)
	listeners := c.listenersLocked()
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(id, c.clone(state))
	}
}

// Forget drops local state for an entity (e.g. after a deletion event).
func (c *Controller[T]) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, id)
	delete(c.gens, id)
	delete(c.unconfirmed, id)
}

func (c *Controller[T]) entityLock(id string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[id] = lock
	}
	return lock
}

// listenersLocked snapshots the listener slice. Caller holds c.mu.
func (c *Controller[T]) listenersLocked() []Listener[T] {
	out := make([]Listener[T], len(c.listeners))
	copy(out, c.listeners)
	return out
}
