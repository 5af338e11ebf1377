// Package reconcile resolves commands that survived a restart or an
// ambiguous failure. Re-dispatching under the original idempotency key is
// safe: the remote service treats a repeated key as a no-op when the effect
// already landed.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wagerline/sync_core/internal/dispatch"
	"github.com/wagerline/sync_core/internal/fault"
	"github.com/wagerline/sync_core/internal/quota"
	"github.com/wagerline/sync_core/internal/system"
	"github.com/wagerline/sync_core/pkg/logger"
)

// Config tunes the sweeper.
type Config struct {
	// Schedule is a cron expression for the sweep. Defaults to every minute.
	Schedule string
	// GracePeriod skips records younger than this; they may still be
	// in flight. Defaults to 30s.
	GracePeriod time.Duration
	// QuotaActions are action kinds whose snapshots get refreshed each
	// sweep.
	QuotaActions []string
}

// Sweeper periodically re-dispatches unresolved commands and refreshes
// quota snapshots.
type Sweeper struct {
	dispatcher *dispatch.Dispatcher
	gate       *quota.Gate
	cfg        Config
	log        *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	baseCtx context.Context
	running bool
}

var _ system.Service = (*Sweeper)(nil)

// New creates a sweeper. The gate is optional.
func New(dispatcher *dispatch.Dispatcher, gate *quota.Gate, cfg Config, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("reconcile")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = 30 * time.Second
	}
	return &Sweeper{dispatcher: dispatcher, gate: gate, cfg: cfg, log: log}
}

func (s *Sweeper) Name() string { return "reconcile-sweeper" }

// Start schedules the sweep.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	s.baseCtx = ctx
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() { s.Sweep(s.baseCtx) }); err != nil {
		return err
	}
	s.cron.Start()
	s.running = true
	s.log.Infof("sweeper scheduled (%s)", s.cfg.Schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	stopCtx := s.cron.Stop()
	s.running = false

	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep runs one reconciliation pass. Exported so the application can run an
// eager pass at startup before the first scheduled tick.
func (s *Sweeper) Sweep(ctx context.Context) {
	commands, err := s.dispatcher.ListUnresolved(ctx)
	if err != nil {
		s.log.WithError(err).Warn("list unresolved commands failed")
		return
	}

	cutoff := time.Now().Add(-s.cfg.GracePeriod)
	for _, cmd := range commands {
		if cmd.SubmittedAt.After(cutoff) {
			continue
		}

		_, err := s.dispatcher.Redispatch(ctx, cmd.IdempotencyKey)
		switch {
		case err == nil:
			s.log.Infof("command %s (%s) confirmed on re-dispatch", cmd.IdempotencyKey, cmd.Kind)
		case errors.Is(err, dispatch.ErrAlreadyResolved):
			// Resolved between list and re-dispatch.
		case fault.IsAmbiguous(err):
			s.log.Warnf("command %s (%s) still ambiguous", cmd.IdempotencyKey, cmd.Kind)
		default:
			s.log.WithError(err).Warnf("command %s (%s) failed on re-dispatch", cmd.IdempotencyKey, cmd.Kind)
		}
	}

	if s.gate != nil {
		for _, action := range s.cfg.QuotaActions {
			if _, err := s.gate.Refresh(ctx, action); err != nil {
				s.log.WithError(err).Warnf("refresh quota for %s failed", action)
			}
		}
	}
}
