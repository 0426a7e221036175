package backend

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned for missing, invalid, or expired
// credentials. The only recovery is a fresh login.
var ErrUnauthorized = errors.New("unauthorized")

// NetworkError wraps a transport failure. Nothing was mutated; the
// caller may retry.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// RejectedError is a non-2xx response carrying the backend's reason,
// surfaced verbatim so the user can correct and resubmit.
type RejectedError struct {
	StatusCode int
	Reason     string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("backend rejected request with status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend rejected request (%d): %s", e.StatusCode, e.Reason)
}
