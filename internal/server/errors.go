// Package server defines the structured error taxonomy shared by the hub,
// handlers, and clients. Errors carry a code that maps onto the wire-level
// error frames sent to clients.
package server

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes a server error.
type ErrorCode int

const (
	CodeUnknown ErrorCode = iota
	CodeAuth
	CodeAccessDenied
	CodeCapacity
	CodeRoomLimit
	CodeRoomFull
	CodeRateLimit
	CodeNotFound
	CodeBadRequest
	CodeTransport
)

// String returns the wire representation of an ErrorCode.
func (c ErrorCode) String() string {
	switch c {
	case CodeAuth:
		return "auth_error"
	case CodeAccessDenied:
		return "access_denied"
	case CodeCapacity:
		return "capacity_error"
	case CodeRoomLimit:
		return "room_limit_error"
	case CodeRoomFull:
		return "room_full_error"
	case CodeRateLimit:
		return "rate_limit_error"
	case CodeNotFound:
		return "not_found"
	case CodeBadRequest:
		return "bad_request"
	case CodeTransport:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Error is a structured error with a code and a client-safe message.
type Error struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is matches errors by code so callers can compare against NewError values.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates an Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with a code and message.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Wrapped: err}
}

// IsCode reports whether err is a server Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// errorCode extracts the code from an error, defaulting to CodeUnknown.
func errorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// errorMessage extracts the client-safe message from an error.
func errorMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
