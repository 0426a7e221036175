package lifecycle

import "errors"

var (
	// ErrInvalidTransition is returned when a status change or edit is
	// not allowed from the current state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a record carries a status
	// outside the lifecycle.
	ErrInvalidState = errors.New("invalid lifecycle state")

	// ErrNotPermitted is returned when the transition exists but the
	// acting principal lacks the capability to fire it.
	ErrNotPermitted = errors.New("principal not permitted to perform transition")
)
