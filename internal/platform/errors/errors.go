// Package errors provides coded application errors shared by the repository,
// service and handler layers.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies an error for transport mapping and retry decisions.
type Code string

const (
	ErrCodeInternal     Code = "INTERNAL"
	ErrCodeNotFound     Code = "NOT_FOUND"
	ErrCodeInvalidInput Code = "INVALID_INPUT"
	ErrCodeConflict     Code = "CONFLICT"
	ErrCodeExists       Code = "ALREADY_EXISTS"
	ErrCodeUnauthorized Code = "UNAUTHORIZED"
	ErrCodeForbidden    Code = "FORBIDDEN"
	ErrCodeUnavailable  Code = "UNAVAILABLE"
)

// Error is a coded error with an optional cause and structured details.
type Error struct {
	Code    Code
	Message string
	Details map[string]string
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

// New creates a coded error without a cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error. A nil err yields nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]string{"resource": resource, "id": id},
	}
}

// InvalidInput reports a rejected request field.
func InvalidInput(field, message string) *Error {
	return &Error{
		Code:    ErrCodeInvalidInput,
		Message: message,
		Details: map[string]string{"field": field},
	}
}

// Conflict reports a concurrent modification.
func Conflict(message string) *Error {
	return &Error{Code: ErrCodeConflict, Message: message}
}

// AlreadyExists reports a uniqueness violation on create.
func AlreadyExists(resource, key string) *Error {
	return &Error{
		Code:    ErrCodeExists,
		Message: fmt.Sprintf("%s already exists: %s", resource, key),
		Details: map[string]string{"resource": resource, "key": key},
	}
}

// Unavailable reports a transient persistence failure (lock timeout, busy database).
func Unavailable(err error, message string) error {
	return Wrap(err, ErrCodeUnavailable, message)
}

// CodeOf returns the code of the first coded error in the chain, or
// ErrCodeInternal for uncoded errors.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// IsRetryable reports whether the caller may re-attempt the operation.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeConflict, ErrCodeUnavailable:
		return err != nil
	default:
		return false
	}
}
