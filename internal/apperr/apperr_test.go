package apperr

import (
	"net/http"
	"testing"

	"github.com/cockroachdb/errors"
)

func TestStatusAndCode(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", Validation("bad %s", "input"), http.StatusBadRequest, "validation_error"},
		{"unauthenticated", Unauthenticated("login"), http.StatusUnauthorized, "unauthenticated"},
		{"authorization", Authorization("nope"), http.StatusForbidden, "authorization_error"},
		{"not found", NotFound("event %d", 4), http.StatusNotFound, "not_found"},
		{"capacity", CapacityExceeded("full"), http.StatusConflict, "capacity_exceeded"},
		{"invalid state", InvalidState("stale"), http.StatusConflict, "invalid_state"},
		{"wrapped", errors.Wrap(InvalidState("stale"), "approve"), http.StatusConflict, "invalid_state"},
		{"plain", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Status(tt.err); got != tt.status {
				t.Errorf("Status = %d, want %d", got, tt.status)
			}
			if got := Code(tt.err); got != tt.code {
				t.Errorf("Code = %q, want %q", got, tt.code)
			}
		})
	}
}

func TestMessagesArePreserved(t *testing.T) {
	err := NotFound("event %d not found", 7)
	if err.Error() != "event 7 not found" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected ErrNotFound mark")
	}
	if errors.Is(err, ErrValidation) {
		t.Error("unexpected ErrValidation mark")
	}
}

func TestDeliveryWrapsCause(t *testing.T) {
	cause := errors.New("smtp down")
	err := Delivery(cause, "send ticket")
	if !errors.Is(err, ErrDelivery) {
		t.Error("expected ErrDelivery mark")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be preserved")
	}
}
