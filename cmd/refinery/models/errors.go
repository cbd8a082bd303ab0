package models

import (
	"errors"
	"fmt"
)

// Domain error sentinels. Services return errors wrapping one of these; the
// HTTP layer maps them to status codes with errors.Is.
var (
	// ErrNotFound covers both "does not exist" and "exists but the caller
	// has no access grant", so responses never disclose existence.
	ErrNotFound = errors.New("not found")

	// ErrAccessDenied is reserved for reads where the resource is known to
	// exist but the caller may not see it.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidState rejects an operation the current lifecycle state does
	// not permit, e.g. approving a proposal that is not completed.
	ErrInvalidState = errors.New("invalid state")

	// ErrValidation rejects a request missing required fields.
	ErrValidation = errors.New("validation failed")

	// ErrWorkflowLocked blocks draft creation and file application while a
	// workflow's lock flag is set.
	ErrWorkflowLocked = errors.New("workflow locked")

	// ErrRuntimeUnavailable signals the external runtime could not be
	// reached or its circuit breaker is open.
	ErrRuntimeUnavailable = errors.New("runtime unavailable")
)

// NotFoundf wraps ErrNotFound with detail
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrNotFound, args)...)
}

// AccessDeniedf wraps ErrAccessDenied with detail
func AccessDeniedf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrAccessDenied, args)...)
}

// InvalidStatef wraps ErrInvalidState with detail
func InvalidStatef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrInvalidState, args)...)
}

// Validationf wraps ErrValidation with detail
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrValidation, args)...)
}

// RuntimeUnavailablef wraps ErrRuntimeUnavailable with detail
func RuntimeUnavailablef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrRuntimeUnavailable, args)...)
}

func prepend(err error, args []interface{}) []interface{} {
	return append([]interface{}{err}, args...)
}
