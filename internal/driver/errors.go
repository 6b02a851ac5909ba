package driver

import (
	"context"
	"errors"
	"fmt"
)

// AuthError reports an authentication failure. Fatal means retrying with
// the same credentials cannot succeed (bad password, locked account) and
// the run must abort instead of burning attempts.
type AuthError struct {
	Reason string
	Fatal  bool
}

func (e *AuthError) Error() string {
	if e.Fatal {
		return "authentication failed (fatal): " + e.Reason
	}
	return "authentication failed: " + e.Reason
}

// TransientError wraps failures worth retrying: timeouts, disconnects,
// flaky page loads.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient driver error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. Nil stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsAuthFatal reports whether err is an unrecoverable credential failure.
func IsAuthFatal(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Fatal
}

// IsTransient reports whether err should be retried. Context cancellation
// is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *TransientError
	return errors.As(err, &te)
}
