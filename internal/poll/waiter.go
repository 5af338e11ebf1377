// Package poll provides bounded predicate polling for commands whose effect
// is asynchronous on the server.
package poll

import (
	"context"
	"fmt"
	"time"

	"github.com/wagerline/sync_core/internal/fault"
	"github.com/wagerline/sync_core/internal/metrics"
)

// Predicate checks remote state. It returns true when the awaited condition
// holds; a non-nil error stops the poll immediately.
type Predicate func(ctx context.Context) (bool, error)

// WaitUntil polls pred until it returns true, a hard error occurs, ctx is
// cancelled, or maxAttempts evaluations have run. The first evaluation is
// immediate; every later one waits the full interval. Exhaustion returns
// fault.ErrTimeout so the caller decides whether that is fatal.
func WaitUntil(ctx context.Context, pred Predicate, interval time.Duration, maxAttempts int) error {
	if maxAttempts < 1 {
		return fmt.Errorf("maxAttempts must be at least 1, got %d", maxAttempts)
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		ok, err := pred(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}

	metrics.IncPollTimeout()
	return fault.ErrTimeout
}

// Waiter carries a fixed interval and budget so workflows can be configured
// once and reuse the same bounds.
type Waiter struct {
	Interval    time.Duration
	MaxAttempts int
}

// Wait applies the waiter's bounds to pred.
func (w Waiter) Wait(ctx context.Context, pred Predicate) error {
	return WaitUntil(ctx, pred, w.Interval, w.MaxAttempts)
}
