package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Payment Lifecycle (PAY) ----

func ErrInvalidTransition(from, to string) *AppError {
	return New("PAY_001", fmt.Sprintf("Invalid status transition from %s to %s", from, to), http.StatusConflict)
}

func ErrSessionExpired() *AppError {
	return New("PAY_002", "Payment session has expired", http.StatusGone)
}

func ErrNotFound(entity string) *AppError {
	return New("PAY_003", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrInvalidAmount() *AppError {
	return New("PAY_004", "Invalid amount", http.StatusBadRequest)
}

func ErrDuplicateSession() *AppError {
	return New("PAY_005", "Duplicate payment session", http.StatusConflict)
}

// ---- Webhook Delivery (HOOK) ----

func ErrMissingResourceID(eventType, field string) *AppError {
	return New("HOOK_001", fmt.Sprintf("Event %s payload is missing resource id field %q", eventType, field), http.StatusInternalServerError)
}

func ErrUnknownEventType(eventType string) *AppError {
	return New("HOOK_002", fmt.Sprintf("Unknown event type %s", eventType), http.StatusBadRequest)
}

// ---- Security & Authentication (SEC) ----

func ErrInvalidToken() *AppError {
	return New("SEC_001", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrInvalidInternalKey() *AppError {
	return New("SEC_002", "Unauthorized", http.StatusUnauthorized)
}

func ErrInternalKeyNotConfigured() *AppError {
	return New("SEC_003", "Internal key not configured", http.StatusInternalServerError)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_002", "Encryption service failure", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a request validation error.
func Validation(message string) *AppError {
	return New("PAY_004", message, http.StatusBadRequest)
}
