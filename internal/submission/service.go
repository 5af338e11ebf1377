// Package submission drives the rate-limited coupon submit path: predictive
// quota check, idempotent dispatch, predictive usage commit. The gate's
// verdict is a hint; the server decides inside the submit command itself.
package submission

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wagerline/sync_core/internal/dispatch"
	"github.com/wagerline/sync_core/internal/quota"
	"github.com/wagerline/sync_core/internal/remote"
	"github.com/wagerline/sync_core/pkg/logger"
)

// Action is the quota action kind for coupon submission.
const Action = "submit_coupon"

// Coupon is a new proposition to submit.
type Coupon struct {
	Title   string `json:"title"`
	Stake   int    `json:"stake"`
	Details string `json:"details,omitempty"`
}

// Service submits coupons through the quota gate.
type Service struct {
	dispatcher *dispatch.Dispatcher
	gate       *quota.Gate
	log        *logger.Logger
}

// New creates the service.
func New(dispatcher *dispatch.Dispatcher, gate *quota.Gate, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("submission")
	}
	return &Service{dispatcher: dispatcher, gate: gate, log: log}
}

// Submit checks the local quota hint, dispatches the submit command, and on
// server acceptance decrements the local snapshot predictively. A local
// denial makes no remote call; a server denial is the authoritative verdict
// and leaves the local snapshot untouched.
func (s *Service) Submit(ctx context.Context, c Coupon) (json.RawMessage, error) {
	if c.Title == "" {
		return nil, fmt.Errorf("coupon title is required")
	}
	if c.Stake <= 0 {
		return nil, fmt.Errorf("coupon stake must be positive")
	}

	if err := s.gate.Check(Action); err != nil {
		return nil, err
	}

	resp, err := s.dispatcher.Dispatch(ctx, remote.CmdSubmitCoupon, map[string]any{
		"title":   c.Title,
		"stake":   c.Stake,
		"details": c.Details,
	})
	if err != nil {
		return nil, err
	}

	s.gate.CommitUsage(Action)
	return resp, nil
}
