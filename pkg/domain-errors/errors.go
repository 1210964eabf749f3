// Package domainerrors defines the error vocabulary shared by services and
// transports. Services return *Error values carrying a Code; transports map the
// code to a status and decide how much of the message is safe to expose.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code identifies a class of domain failure. Codes are stable and appear on the
// wire as the "error" field of JSON error envelopes.
type Code string

const (
	CodeBadRequest             Code = "bad_request"
	CodeValidation             Code = "validation_error"
	CodeUnauthorized           Code = "unauthorized"
	CodeForbidden              Code = "forbidden"
	CodeNotFound               Code = "not_found"
	CodeConflict               Code = "conflict"
	CodeTimeout                Code = "timeout"
	CodeUnavailable            Code = "unavailable"
	CodeInternal               Code = "internal_error"
	CodeInvariantViolation     Code = "invariant_violation"
	CodeInvalidClaim           Code = "invalid_claim"
	CodeFieldNotEditable       Code = "field_not_editable"
	CodeInvalidValue           Code = "invalid_value"
	CodeAccessDeniedOrNotFound Code = "access_denied_or_not_found"
)

// Error is a domain error with a stable code and a human readable message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code and message, which lets tests use
// errors.Is against a freshly constructed expectation.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// New creates a domain error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a domain code to an underlying error.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// As extracts the outermost *Error from err.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether err (or anything it wraps) is a domain error with code.
func HasCode(err error, code Code) bool {
	de, ok := As(err)
	return ok && de.Code == code
}

// Is is shorthand for HasCode.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the domain code of err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	if de, ok := As(err); ok {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a domain code to an HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeValidation, CodeFieldNotEditable, CodeInvalidValue:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeInvalidClaim:
		return http.StatusUnauthorized
	case CodeForbidden, CodeAccessDeniedOrNotFound:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
