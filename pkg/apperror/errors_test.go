package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	e := New("PAY_003", "session not found", http.StatusNotFound)
	assert.Equal(t, "[PAY_003] session not found", e.Error())
}

func TestAppError_Error_Wrapped(t *testing.T) {
	inner := errors.New("connection refused")
	e := Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, inner)
	assert.Equal(t, "[SYS_001] Internal database error: connection refused", e.Error())
}

func TestAppError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	e := Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, inner)
	assert.ErrorIs(t, e, inner)
}

func TestAppError_ErrorsAs(t *testing.T) {
	var err error = fmt.Errorf("outer: %w", ErrSessionExpired())

	var appErr *AppError
	assert.True(t, errors.As(err, &appErr))
	assert.Equal(t, "PAY_002", appErr.Code)
	assert.Equal(t, http.StatusGone, appErr.HTTPStatus)
}

func TestErrInvalidTransition_NamesEdge(t *testing.T) {
	e := ErrInvalidTransition("COMPLETED", "PENDING")
	assert.Equal(t, "PAY_001", e.Code)
	assert.Equal(t, http.StatusConflict, e.HTTPStatus)
	assert.Contains(t, e.Message, "COMPLETED")
	assert.Contains(t, e.Message, "PENDING")
}

func TestErrMissingResourceID_NamesEvent(t *testing.T) {
	e := ErrMissingResourceID("refund.created", "refund_id")
	assert.Equal(t, "HOOK_001", e.Code)
	assert.Contains(t, e.Message, "refund.created")
	assert.Contains(t, e.Message, "refund_id")
}

func TestErrorCodes_HTTPStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		status int
	}{
		{"invalid transition", ErrInvalidTransition("PENDING", "REFUNDED"), http.StatusConflict},
		{"session expired", ErrSessionExpired(), http.StatusGone},
		{"not found", ErrNotFound("payment session"), http.StatusNotFound},
		{"invalid amount", ErrInvalidAmount(), http.StatusBadRequest},
		{"duplicate session", ErrDuplicateSession(), http.StatusConflict},
		{"missing resource id", ErrMissingResourceID("payment.created", "payment_id"), http.StatusInternalServerError},
		{"invalid token", ErrInvalidToken(), http.StatusUnauthorized},
		{"invalid internal key", ErrInvalidInternalKey(), http.StatusUnauthorized},
		{"internal key missing", ErrInternalKeyNotConfigured(), http.StatusInternalServerError},
		{"database error", ErrDatabaseError(errors.New("x")), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
		})
	}
}
