// Package domainerrors carries a transport-neutral error code alongside an
// error so the HTTP edge can pick a status without inspecting messages.
package domainerrors

import "errors"

// Code classifies an error for callers.
type Code string

const (
	CodeBadRequest   Code = "bad_request"
	CodeValidation   Code = "validation_error"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeTimeout      Code = "timeout"
	CodeUnavailable  Code = "service_unavailable"
	CodeInternal     Code = "internal_error"
)

// Error is a coded error with a client-safe message.
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

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same code and message, so tests can
// compare against a freshly built value.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and client-safe message to err.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// As returns the outermost *Error in err's chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether err carries code anywhere in its chain.
func HasCode(err error, code Code) bool {
	for err != nil {
		if de, ok := err.(*Error); ok && de.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// Is reports whether err's outermost coded error has code.
func Is(err error, code Code) bool {
	de, ok := As(err)
	return ok && de.Code == code
}
