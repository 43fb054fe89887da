// Package errors defines the application error type shared by the service
// and data layers. Services raise coded errors (a task that does not exist,
// a duplicate agent name) and the HTTP layer maps the codes onto response
// statuses without inspecting message text.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes an application error.
type ErrorCode string

const (
	// ErrCodeNotFound marks lookups of tasks, runs, or agents that do not exist.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeConflict marks writes rejected by a uniqueness rule, such as a
	// duplicate agent name or an already-finalized run.
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeValidation marks input rejected before it reaches the database.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeForeignKey marks writes that reference a missing parent row or
	// deletes of a row still referenced elsewhere.
	ErrCodeForeignKey ErrorCode = "foreign_key"
	// ErrCodeInternal marks unexpected failures with no client remedy.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout marks operations cut off by a deadline.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled marks operations abandoned by the caller.
	ErrCodeCanceled ErrorCode = "canceled"
)

// AppError is a coded error with an optional cause and an optional field
// name for validation failures tied to a single input field.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Field   string
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NotFoundf builds a NotFound error with a formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf(format, args...),
	}
}

// Conflict builds a Conflict error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    ErrCodeConflict,
		Message: message,
	}
}

// Validation builds a Validation error that is not tied to one field.
func Validation(message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: message,
	}
}

// ValidationField builds a Validation error naming the rejected field.
func ValidationField(field, message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: message,
		Field:   field,
	}
}

func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound reports whether err carries ErrCodeNotFound.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsConflict reports whether err carries ErrCodeConflict.
func IsConflict(err error) bool {
	return isCode(err, ErrCodeConflict)
}

// IsValidation reports whether err carries ErrCodeValidation.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsForeignKey reports whether err carries ErrCodeForeignKey.
func IsForeignKey(err error) bool {
	return isCode(err, ErrCodeForeignKey)
}

// IsInternal reports whether err carries ErrCodeInternal.
func IsInternal(err error) bool {
	return isCode(err, ErrCodeInternal)
}

// GetCode extracts the ErrorCode from err, or "" when err is not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField extracts the rejected field name, or "" when none was recorded.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
