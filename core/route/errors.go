package route

import (
	"errors"
	"fmt"
)

var (
	// ErrRouteRegistration is the sentinel all registration failures unwrap to.
	ErrRouteRegistration = errors.New("route registration failed")

	// ErrInvalidTarget is returned when a target URL cannot be parsed.
	ErrInvalidTarget = errors.New("invalid route target")

	// ErrInvalidSource is returned when the inbound host/path cannot be parsed.
	ErrInvalidSource = errors.New("invalid route source")
)

// RegistrationError reports why AddRoute rejected a registration.
// Route state has already been rolled back when it is returned.
type RegistrationError struct {
	From   string
	Reason string
	Err    error
}

func (e *RegistrationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("route %q: %s: %v", e.From, e.Reason, e.Err)
	}
	return fmt.Sprintf("route %q: %s", e.From, e.Reason)
}

// Is reports ErrRouteRegistration so callers can match every registration failure.
func (e *RegistrationError) Is(target error) bool {
	return target == ErrRouteRegistration
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

func registrationError(from, reason string, err error) error {
	return &RegistrationError{From: from, Reason: reason, Err: err}
}
