// Package domainerrors carries the small error taxonomy surfaced by the
// session core. Callers branch on Code, never on message text.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies a category of failure.
type Code string

const (
	// CodeValidation is caller-supplied input rejected before any network call.
	CodeValidation Code = "validation_error"
	// CodeSessionExpired means the session could not be renewed and was logged out.
	CodeSessionExpired Code = "session_expired"
	// CodeRequestFailed is any other non-2xx backend response.
	CodeRequestFailed Code = "request_failed"
	// CodeUnauthorized is a credential rejected by the backend outside the refresh protocol (e.g. bad login).
	CodeUnauthorized Code = "unauthorized"
	// CodeDecode is a token that does not yield a subject identifier.
	CodeDecode  Code = "decode_error"
	CodeTimeout Code = "timeout"
	// CodeInternal covers transport and storage failures.
	CodeInternal Code = "internal_error"
)

// Error is a coded domain error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code and message, so tests can use
// require.ErrorIs(err, New(code, msg)).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Message == e.Message
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether any error in err's chain is a domain error with code.
func HasCode(err error, code Code) bool {
	var de *Error
	for err != nil {
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// Is is shorthand for HasCode.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the outermost domain code in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
