// Package order defines the reward redemption order model and its status
// lifecycle rules.
package order

import "time"

// Status is an order's fulfillment state.
type Status string

const (
	StatusNew       Status = "new"
	StatusContacted Status = "contacted"
	StatusPreparing Status = "preparing"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// advance successors along the happy path.
var successors = map[Status]Status{
	StatusNew:       StatusContacted,
	StatusContacted: StatusPreparing,
	StatusPreparing: StatusShipped,
	StatusShipped:   StatusDelivered,
}

// Valid reports whether s is a recognised status.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusContacted, StatusPreparing, StatusShipped,
		StatusDelivered, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRefunded
}

// Next returns the happy-path successor of s, if any.
func Next(s Status) (Status, bool) {
	next, ok := successors[s]
	return next, ok
}

// CanShortcut reports whether s may jump straight to delivered for orders
// fulfilled out-of-band.
func CanShortcut(s Status) bool {
	return s == StatusNew || s == StatusContacted
}

// CanTransition reports whether from may move to to: one step along the
// happy path, cancellation or refund from any non-terminal state, or the
// contact-and-complete shortcut.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusCancelled || to == StatusRefunded {
		return true
	}
	if next, ok := successors[from]; ok && next == to {
		return true
	}
	if to == StatusDelivered && CanShortcut(from) {
		return true
	}
	return false
}

// Order is a redemption of XP for a physical reward. Orders are never
// deleted; they only ever move to a terminal status.
type Order struct {
	ID           string
	UserID       string
	RewardID     string
	Status       Status
	TrackingCode string
	CustomerNote string
	InternalNote string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
