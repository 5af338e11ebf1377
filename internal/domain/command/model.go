// Package command models locally-persisted dispatch records.
package command

import (
	"encoding/json"
	"time"
)

// Outcome is the resolution state of a dispatched command.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeFailed    Outcome = "failed"
)

// PendingCommand records one idempotent dispatch. Records are retained while
// pending so that after a process restart outstanding ambiguous commands can
// be resolved via reconciliation rather than re-attempted blindly.
type PendingCommand struct {
	IdempotencyKey string
	Kind           string
	Payload        json.RawMessage
	SubmittedAt    time.Time
	Outcome        Outcome
	LastError      string
	ResolvedAt     *time.Time
}

// Resolved reports whether the command reached a terminal outcome.
func (p PendingCommand) Resolved() bool {
	return p.Outcome != OutcomePending
}
