// http.go maps the error taxonomy onto HTTP status codes and the stable error
// codes clients switch on. Kept next to the taxonomy so the two never drift.
package apperr

import (
	"errors"
	"net/http"
)

// HTTPStatus resolves err to the status code and stable error code handlers
// return. Unrecognized errors map to 500 with INTERNAL.
func HTTPStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized, "UNAUTHENTICATED"
	case errors.Is(err, ErrTenantMismatch):
		return http.StatusUnauthorized, "COMPANY_CONTEXT_MISSING"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, "CONFLICT"
	case IsValidation(err):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case IsDenied(err):
		return http.StatusForbidden, "PERMISSION_DENIED"
	case IsRateLimited(err):
		return http.StatusTooManyRequests, "RATE_LIMITED"
	}
	return http.StatusInternalServerError, "INTERNAL"
}
