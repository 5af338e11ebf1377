package app

import (
	"context"
	"fmt"
	"time"

	"github.com/wagerline/sync_core/internal/dispatch"
	"github.com/wagerline/sync_core/internal/invalidation"
	"github.com/wagerline/sync_core/internal/notify"
	"github.com/wagerline/sync_core/internal/poll"
	"github.com/wagerline/sync_core/internal/quota"
	"github.com/wagerline/sync_core/internal/reactions"
	"github.com/wagerline/sync_core/internal/reconcile"
	"github.com/wagerline/sync_core/internal/remote"
	"github.com/wagerline/sync_core/internal/resolution"
	"github.com/wagerline/sync_core/internal/storage"
	"github.com/wagerline/sync_core/internal/storage/memory"
	"github.com/wagerline/sync_core/internal/submission"
	"github.com/wagerline/sync_core/internal/system"
	"github.com/wagerline/sync_core/pkg/logger"

	fulfillmentsvc "github.com/wagerline/sync_core/internal/fulfillment"
)

// Options carries the external dependencies and tuning knobs. A nil Commands
// store defaults to the in-memory implementation; a nil Stream disables the
// realtime invalidation bus.
type Options struct {
	Remote   remote.CommandService
	Stream   remote.Stream
	Commands storage.PendingCommandStore
	Notifier notify.Notifier

	EvidenceBucket   string
	PollInterval     time.Duration
	PollMaxAttempts  int
	InvalidationLag  time.Duration
	SweepSchedule    string
	SweepGracePeriod time.Duration
	QuotaActions     []string
}

// Application ties the coordination services together and manages their
// lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Dispatcher  *dispatch.Dispatcher
	Reactions   *reactions.Service
	Fulfillment *fulfillmentsvc.Service
	Resolution  *resolution.Workflow
	Quota       *quota.Gate
	Submissions *submission.Service
	Bus         *invalidation.Bus
	Sweeper     *reconcile.Sweeper
}

// New builds a fully initialised application with the provided options.
func New(opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if opts.Remote == nil {
		return nil, fmt.Errorf("remote command service is required")
	}
	if opts.Commands == nil {
		opts.Commands = memory.New()
	}

	manager := system.NewManager()

	dispatcher := dispatch.New(opts.Remote, opts.Commands, log)
	reactionSvc := reactions.New(dispatcher, log)
	orderSvc := fulfillmentsvc.New(dispatcher, opts.Notifier, log)

	waiter := poll.Waiter{
		Interval:    opts.PollInterval,
		MaxAttempts: opts.PollMaxAttempts,
	}
	workflow := resolution.New(opts.Remote, dispatcher, waiter, opts.EvidenceBucket, log)

	gate := quota.New(opts.Remote, log)
	submitSvc := submission.New(dispatcher, gate, log)

	sweeper := reconcile.New(dispatcher, gate, reconcile.Config{
		Schedule:     opts.SweepSchedule,
		GracePeriod:  opts.SweepGracePeriod,
		QuotaActions: opts.QuotaActions,
	}, log)

	a := &Application{
		manager:     manager,
		log:         log,
		Dispatcher:  dispatcher,
		Reactions:   reactionSvc,
		Fulfillment: orderSvc,
		Resolution:  workflow,
		Quota:       gate,
		Submissions: submitSvc,
		Sweeper:     sweeper,
	}

	if opts.Stream != nil {
		// The websocket stream is lifecycle-managed; register it ahead
		// of the bus so subscriptions land on a live connection.
		if svc, ok := opts.Stream.(system.Service); ok {
			if err := manager.Register(svc); err != nil {
				return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
			}
		}

		bus := invalidation.NewBus(opts.Stream, opts.InvalidationLag, log)
		reconciler := resolution.NewReconciler(workflow, log)

		if err := bus.Observe(remote.TableCoupons, func(event remote.Event) {
			reconciler.HandleEvent(context.Background(), event)
		}); err != nil {
			return nil, fmt.Errorf("observe %s: %w", remote.TableCoupons, err)
		}

		// Reaction columns live on proof rows.
		if err := bus.Observe(remote.TableProofs, func(event remote.Event) {
			if event.Type == remote.EventDeleted || len(event.Row) == 0 {
				return
			}
			if err := reactionSvc.ReconcileRow(event.Row); err != nil {
				log.WithError(err).Warn("reconcile reaction row")
			}
		}); err != nil {
			return nil, fmt.Errorf("observe %s: %w", remote.TableProofs, err)
		}

		if err := bus.Observe(remote.TableOrders, func(event remote.Event) {
			if event.Type == remote.EventDeleted || len(event.Row) == 0 {
				return
			}
			if err := orderSvc.ReconcileRow(event.Row); err != nil {
				log.WithError(err).Warn("reconcile order row")
			}
		}); err != nil {
			return nil, fmt.Errorf("observe %s: %w", remote.TableOrders, err)
		}

		if err := manager.Register(bus); err != nil {
			return nil, fmt.Errorf("register %s: %w", bus.Name(), err)
		}
		a.Bus = bus
	} else {
		log.Warn("no change stream configured; realtime invalidation disabled")
	}

	if err := manager.Register(sweeper); err != nil {
		return nil, fmt.Errorf("register %s: %w", sweeper.Name(), err)
	}

	return a, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
