// Package invalidation turns raw change notifications into staleness
// signals. Composite derived views are never patched from a partial event
// payload; they get a debounced refetch instead, because partial payloads
// cannot safely update aggregate computations.
package invalidation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wagerline/sync_core/internal/metrics"
	"github.com/wagerline/sync_core/internal/remote"
	"github.com/wagerline/sync_core/internal/system"
	"github.com/wagerline/sync_core/pkg/logger"
)

// FetchFunc re-computes a derived view from authoritative state.
type FetchFunc func(ctx context.Context) error

type view struct {
	name  string
	table string
	fetch FetchFunc

	mu    sync.Mutex
	timer *time.Timer
}

// Bus fans change notifications out to registered views (debounced refetch)
// and row observers (raw events). On stream reconnect every registered view
// is treated as stale and refetched once.
type Bus struct {
	stream   remote.Stream
	debounce time.Duration
	log      *logger.Logger

	mu        sync.Mutex
	views     []*view
	observers map[string][]func(remote.Event)
	unsubs    []func()
	runCtx    context.Context
	cancel    context.CancelFunc
	running   bool
	hooked    bool
}

var _ system.Service = (*Bus)(nil)

// NewBus creates a bus. Registrations must happen before Start.
func NewBus(stream remote.Stream, debounce time.Duration, log *logger.Logger) *Bus {
	if log == nil {
		log = logger.NewDefault("invalidation")
	}
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	return &Bus{
		stream:    stream,
		debounce:  debounce,
		log:       log,
		observers: make(map[string][]func(remote.Event)),
	}
}

func (b *Bus) Name() string { return "invalidation-bus" }

// RegisterView registers a derived view keyed by name that depends on a
// table. Any event on the table schedules a debounced refetch.
func (b *Bus) RegisterView(name, table string, fetch FetchFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("bus already started")
	}
	for _, v := range b.views {
		if v.name == name {
			return fmt.Errorf("view %q already registered", name)
		}
	}
	b.views = append(b.views, &view{name: name, table: table, fetch: fetch})
	return nil
}

// Observe registers a raw event handler for a table. Observers receive the
// event payload as delivered; they must treat it as potentially partial.
func (b *Bus) Observe(table string, handler func(remote.Event)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("bus already started")
	}
	b.observers[table] = append(b.observers[table], handler)
	return nil
}

// Start subscribes to every table the views and observers depend on and
// arms the reconnect refetch.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.runCtx = runCtx
	b.cancel = cancel

	tables := make(map[string]struct{})
	for _, v := range b.views {
		tables[v.table] = struct{}{}
	}
	for table := range b.observers {
		tables[table] = struct{}{}
	}

	for table := range tables {
		unsub, err := b.stream.Subscribe(table, b.handleEvent)
		if err != nil {
			cancel()
			for _, fn := range b.unsubs {
				fn()
			}
			b.unsubs = nil
			return fmt.Errorf("subscribe %s: %w", table, err)
		}
		b.unsubs = append(b.unsubs, unsub)
	}

	// Streams offer no unregister, so the hook must outlive Stop/Start
	// cycles without piling up. refetchAll is a no-op while stopped.
	if !b.hooked {
		b.stream.OnReconnect(b.refetchAll)
		b.hooked = true
	}
	b.running = true
	return nil
}

// Stop cancels pending refetches and unsubscribes.
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return nil
	}
	b.cancel()
	for _, fn := range b.unsubs {
		fn()
	}
	b.unsubs = nil
	for _, v := range b.views {
		v.mu.Lock()
		if v.timer != nil {
			v.timer.Stop()
			v.timer = nil
		}
		v.mu.Unlock()
	}
	b.running = false
	return nil
}

func (b *Bus) handleEvent(event remote.Event) {
	b.mu.Lock()
	ctx := b.runCtx
	views := make([]*view, 0, len(b.views))
	for _, v := range b.views {
		if v.table == event.Table {
			views = append(views, v)
		}
	}
	observers := append([]func(remote.Event){}, b.observers[event.Table]...)
	b.mu.Unlock()

	for _, handler := range observers {
		handler(event)
	}
	for _, v := range views {
		b.scheduleRefetch(ctx, v)
	}
}

// scheduleRefetch arms (or re-arms) the view's debounce timer.
func (b *Bus) scheduleRefetch(ctx context.Context, v *view) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.timer != nil {
		v.timer.Stop()
	}
	v.timer = time.AfterFunc(b.debounce, func() {
		b.refetch(ctx, v)
	})
}

func (b *Bus) refetch(ctx context.Context, v *view) {
	if ctx == nil || ctx.Err() != nil {
		return
	}
	metrics.IncRefetch(v.name)
	if err := v.fetch(ctx); err != nil {
		b.log.WithError(err).Warnf("refetch view %s failed", v.name)
	}
}

// refetchAll runs once per reconnect: everything subscribed is stale.
func (b *Bus) refetchAll() {
	b.mu.Lock()
	ctx := b.runCtx
	views := append([]*view{}, b.views...)
	b.mu.Unlock()

	b.log.Info("stream reconnected; refetching all views")
	for _, v := range views {
		b.refetch(ctx, v)
	}
}
