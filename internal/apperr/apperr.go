// Package apperr defines the error taxonomy shared by the access engine, the
// stores, and the HTTP layer. Handlers translate these into status codes and
// stable error codes; everything else wraps them with fmt.Errorf("...: %w").
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the common failure classes. Compare with errors.Is.
var (
	// ErrUnauthenticated means no actor context could be resolved.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrTenantMismatch means a cross-company reference was attempted. Always
	// fails closed.
	ErrTenantMismatch = errors.New("tenant mismatch")

	// ErrNotFound means the referenced role, member, or log does not exist
	// within the caller's company.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a concurrent-update collision (role matrix version) or
	// an operation blocked by an invariant (deleting a default role).
	ErrConflict = errors.New("conflict")

	// ErrLoggingFailure is internal only: activity ingestion problems are
	// recorded against this and never surfaced to business callers.
	ErrLoggingFailure = errors.New("logging failure")
)

// ValidationError carries field-level detail for caller correction.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// Validation builds a field-level validation error.
func Validation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// DeniedError is an explicit permission denial. It names the module/action
// that was required so the caller can render precise messaging without
// leaking anything about other tenants.
type DeniedError struct {
	Module string
	Action string
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s.%s: %s", e.Module, e.Action, e.Reason)
}

// Denied builds a permission-denied error for the given module/action.
func Denied(module, action, reason string) *DeniedError {
	return &DeniedError{Module: module, Action: action, Reason: reason}
}

// IsDenied reports whether err is (or wraps) a DeniedError.
func IsDenied(err error) bool {
	var de *DeniedError
	return errors.As(err, &de)
}

// RateLimitedError carries the retry-after hint the HTTP layer must return.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}

// RateLimited builds a rate-limit error with a retry-after hint.
func RateLimited(retryAfter time.Duration) *RateLimitedError {
	return &RateLimitedError{RetryAfter: retryAfter}
}

// IsRateLimited reports whether err is (or wraps) a RateLimitedError.
func IsRateLimited(err error) bool {
	var re *RateLimitedError
	return errors.As(err, &re)
}
