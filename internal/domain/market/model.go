// Package market defines the wagerable coupon domain model.
package market

import "time"

// Outcome is the settled result of a binary coupon.
type Outcome string

const (
	OutcomeYes Outcome = "yes"
	OutcomeNo  Outcome = "no"
)

// Valid reports whether o is a recognised outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// Market represents a wagerable proposition. Result is set at most once;
// PaidOutAt can only become non-nil after Result is non-nil; once PaidOutAt
// is set the market is archived and immutable to this core.
type Market struct {
	ID                  string
	OwnerID             string
	Title               string
	IsOpen              bool
	Result              *Outcome
	PaidOutAt           *time.Time
	Archived            bool
	HasApprovedEvidence bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Settled reports whether the market's result has been recorded.
func (m Market) Settled() bool { return m.Result != nil }

// PaidOut reports whether disbursement has completed server-side.
func (m Market) PaidOut() bool { return m.PaidOutAt != nil }

// Evidence is proof media attached to a market, subject to moderation.
type Evidence struct {
	ID        string
	MarketID  string
	UserID    string
	ObjectRef string
	Approved  bool
	CreatedAt time.Time
}
