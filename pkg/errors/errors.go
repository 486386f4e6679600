package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios. Token and session failures all
// surface as a generic UNAUTHORIZED over the wire; the distinct codes exist
// for internal branching and logging only, never as a validity oracle to the
// client.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")

	// ErrTokenInvalid covers forged, corrupt, undecryptable and
	// wrong-purpose tokens. Treated as absence of credentials.
	ErrTokenInvalid = New("TOKEN_INVALID", http.StatusUnauthorized, "unauthorized")
	// ErrTokenExpired marks a structurally valid token past its expiry.
	// Kept distinct so the refresh flow can still accept it.
	ErrTokenExpired = New("TOKEN_EXPIRED", http.StatusUnauthorized, "unauthorized")
	// ErrSessionRevoked covers a missing session record or a refresh
	// token already marked used (a completed rotation or a replay).
	ErrSessionRevoked = New("SESSION_REVOKED", http.StatusUnauthorized, "unauthorized")
	// ErrStoreUnavailable is a transient session-store outage. Never
	// conflated with SESSION_REVOKED: an outage proves nothing about
	// compromise and must not invalidate a legitimate session.
	ErrStoreUnavailable = New("STORE_UNAVAILABLE", http.StatusBadGateway, "session store unavailable")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// HasCode reports whether err carries the given predefined error's code.
func HasCode(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == target.Code
}
