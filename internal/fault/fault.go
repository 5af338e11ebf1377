// Package fault defines the error taxonomy shared by every workflow in the
// sync core. The distinction that matters most is definite versus ambiguous:
// a definite failure means the server rejected the command and local rollback
// is safe; an ambiguous failure means the outcome is unknown and the command
// must never be blindly retried without its original idempotency key.
package fault

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout reports that a bounded wait exhausted its attempt budget.
	// It is not necessarily fatal for the surrounding workflow.
	ErrTimeout = errors.New("wait budget exhausted")

	// ErrPreconditionFailed reports that a workflow refused to start.
	ErrPreconditionFailed = errors.New("precondition failed")
)

// DefiniteError wraps a server-side rejection. Optimistic state must be
// rolled back when one of these surfaces.
type DefiniteError struct {
	Op  string
	Err error
}

func (e *DefiniteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DefiniteError) Unwrap() error { return e.Err }

// AmbiguousError wraps a transport failure whose remote effect is unknown.
// Key carries the idempotency key the command was dispatched with so the
// caller can re-dispatch without risking a duplicate effect.
type AmbiguousError struct {
	Op  string
	Key string
	Err error
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%s: outcome unknown (key %s): %v", e.Op, e.Key, e.Err)
}

func (e *AmbiguousError) Unwrap() error { return e.Err }

// DeniedError reports that a gate rejected the action before any remote call
// was made.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("denied: %s", e.Reason)
}

// Definite wraps err as a definite failure.
func Definite(op string, err error) error {
	return &DefiniteError{Op: op, Err: err}
}

// Ambiguous wraps err as an ambiguous failure carrying the idempotency key.
func Ambiguous(op, key string, err error) error {
	return &AmbiguousError{Op: op, Key: key, Err: err}
}

// Denied constructs a gate rejection.
func Denied(reason string) error {
	return &DeniedError{Reason: reason}
}

// IsDefinite reports whether err is a definite failure.
func IsDefinite(err error) bool {
	var de *DefiniteError
	return errors.As(err, &de)
}

// IsAmbiguous reports whether err is an ambiguous failure.
func IsAmbiguous(err error) bool {
	var ae *AmbiguousError
	return errors.As(err, &ae)
}

// IsDenied reports whether err is a gate rejection.
func IsDenied(err error) bool {
	var de *DeniedError
	return errors.As(err, &de)
}

// IsTimeout reports whether err is a bounded-wait exhaustion.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// AmbiguousKey extracts the idempotency key from an ambiguous failure.
func AmbiguousKey(err error) (string, bool) {
	var ae *AmbiguousError
	if errors.As(err, &ae) {
		return ae.Key, true
	}
	return "", false
}
