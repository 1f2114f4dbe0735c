// Package domainerrors defines the error taxonomy shared across services and
// handlers. Stores return sentinels; services translate them into coded
// errors exactly once; handlers map codes to HTTP statuses.
package domainerrors

import "errors"

// Code is a stable machine-readable error class.
type Code string

const (
	CodeNotFound           Code = "not_found"
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation"
	CodeConflict           Code = "conflict"
	CodeUnauthorized       Code = "unauthorized"
	CodeInternal           Code = "internal"
	CodeInvariantViolation Code = "invariant_violation"
	CodeConfig             Code = "config"

	// CodeNeedsReauth marks a terminally dead grant: the refresh token was
	// rejected or revoked and only a new authorization can recover.
	CodeNeedsReauth Code = "needs_reauthorization"

	CodeUnavailable     Code = "unavailable"
	CodeRateLimited     Code = "rate_limited"
	CodeExternalAPI     Code = "external_api"
	CodePayloadTooLarge Code = "payload_too_large"
)

// Error carries a code, an operator-facing message, and the wrapped cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches by code, so two errors of the same class compare equal
// regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to err. When err already carries a code
// anywhere in its chain, that code wins: the first classification of a
// failure is the authoritative one.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		code = existing.Code
	}
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether the chain carries the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// Retryable reports whether the failure class is transient: the same call
// may succeed later without operator intervention.
func Retryable(err error) bool {
	return HasCode(err, CodeUnavailable) || HasCode(err, CodeRateLimited)
}
