// Package quota models the server-reported rate-limit snapshot.
package quota

import "time"

// Snapshot is the last-known quota state for one action kind. It is never
// mutated locally except to decrement RemainingInWindow as a predictive hint
// after a successful submission; the next authoritative fetch overwrites it.
type Snapshot struct {
	ActionKind        string
	UsedInWindow      int
	RemainingInWindow int
	IsExempt          bool
	WindowSeconds     int
	FetchedAt         time.Time
}

// Exhausted reports whether the snapshot predicts the next attempt would be
// rejected. Exempt users are never exhausted.
func (s Snapshot) Exhausted() bool {
	return !s.IsExempt && s.RemainingInWindow <= 0
}
