// Package errors provides structured error handling with typed error codes.
//
// Error codes are organized into categories:
//   - General errors (1-99): Unknown and general errors
//   - Validation errors (100-199): Rejected configurations and parameters
//   - Process errors (200-299): Engine process launch, timeout, and exit faults
//   - Parse errors (300-399): Engine output extraction failures
//   - Scheduler errors (400-499): Batch and task lifecycle errors
//   - Session errors (500-599): Continuous session lifecycle errors
//   - Comparator errors (600-699): Result comparison errors
//   - Store errors (700-799): Result persistence and query errors
//
// Usage:
//
//	// Create a new error
//	err := errors.New(errors.ErrCodeInvalidTimeRange, "end must be after start")
//
//	// Create a formatted error
//	err := errors.Newf(errors.ErrCodeTaskNotFound, "no task with id %s", id)
//
//	// Wrap an existing error
//	err := errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to persist result", originalErr)
//
//	// Check error code
//	if errors.HasCode(err, errors.ErrCodeProcessTimeout) { ... }
package errors

import (
	"errors"
	"fmt"
)

// Error represents a structured error with an error code and message.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   nil,
	}
}

// Newf creates a new Error with the given code and formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   nil,
	}
}

// Wrap wraps an existing error with a new Error containing the given code and message.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Wrapf wraps an existing error with a new Error containing the given code and formatted message.
func Wrapf(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}

	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around the standard errors.Is function.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience wrapper around the standard errors.As function.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// GetCode extracts the ErrorCode from an error if it's an *Error type.
// Returns ErrCodeUnknown if the error is not an *Error type.
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return ErrCodeUnknown
}

// HasCode checks if an error has a specific ErrorCode.
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// IsValidation reports whether err carries a validation error code.
// Submission handlers use it to distinguish rejected configurations from
// internal faults.
func IsValidation(err error) bool {
	code := GetCode(err)

	return code >= 100 && code < 200
}
