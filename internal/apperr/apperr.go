// Package apperr defines the error kinds surfaced by the booking service and
// how each maps onto an HTTP status.
package apperr

import (
	"net/http"

	"github.com/cockroachdb/errors"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrUnauthenticated  = errors.New("authentication required")
	ErrAuthorization    = errors.New("access denied")
	ErrNotFound         = errors.New("not found")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrInvalidState     = errors.New("invalid state")
	ErrConflict         = errors.New("conflict")
	ErrDelivery         = errors.New("delivery failure")
)

func Validation(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

func Unauthenticated(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrUnauthenticated)
}

func Authorization(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrAuthorization)
}

func NotFound(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrNotFound)
}

func CapacityExceeded(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrCapacityExceeded)
}

func InvalidState(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidState)
}

func Conflict(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrConflict)
}

// Delivery marks a notification or artifact failure. These are logged and
// never returned to the caller of a booking transition.
func Delivery(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrDelivery)
}

var kinds = []struct {
	ref    error
	code   string
	status int
}{
	{ErrValidation, "validation_error", http.StatusBadRequest},
	{ErrUnauthenticated, "unauthenticated", http.StatusUnauthorized},
	{ErrAuthorization, "authorization_error", http.StatusForbidden},
	{ErrNotFound, "not_found", http.StatusNotFound},
	{ErrCapacityExceeded, "capacity_exceeded", http.StatusConflict},
	{ErrInvalidState, "invalid_state", http.StatusConflict},
	{ErrConflict, "conflict", http.StatusConflict},
	{ErrDelivery, "delivery_failure", http.StatusBadGateway},
}

// Status returns the HTTP status for err, 500 when err is not one of ours.
func Status(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k.ref) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// Code returns a stable machine-readable name for err.
func Code(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.ref) {
			return k.code
		}
	}
	return "internal_error"
}

// Public reports whether err's message is safe to show to a client.
func Public(err error) bool {
	return Status(err) != http.StatusInternalServerError
}
