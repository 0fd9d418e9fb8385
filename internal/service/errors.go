package service

import (
	"errors"
)

// Error kinds of the dispensing core. Components wrap them with context via
// fmt.Errorf("...: %w", ErrX); callers test with errors.Is.
var (
	ErrInitialization   = errors.New("hardware initialization failed")
	ErrTimeout          = errors.New("operation timed out")
	ErrOperation        = errors.New("operation failed")
	ErrConflict         = errors.New("operation not allowed in current state")
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrCancelled        = errors.New("operation cancelled")
	ErrInvalidRequest   = errors.New("invalid request")
)

// IsRetryable reports whether a failed step may be attempted again.
// Timeouts and actuation faults are retryable; cancellation, bad input and
// state conflicts are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrCancelled),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrRetriesExhausted):
		return false
	}
	return true
}
