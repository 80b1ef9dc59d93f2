// Package errors provides error codes for the offline sync core.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a failure class that callers can branch on.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"

	// Persistence errors
	ErrStorage       ErrorCode = "STORAGE_ERROR"
	ErrSerialization ErrorCode = "SERIALIZATION_FAULT"
	ErrMigration     ErrorCode = "MIGRATION_FAILED"

	// Connectivity and remote errors.
	// ErrOffline means no remote call was attempted; ErrRemoteUnavailable
	// means a call was attempted while online and failed in transit or with
	// a server fault; ErrRemoteRejected means the backend refused the
	// request and retrying will not help.
	ErrOffline           ErrorCode = "OFFLINE"
	ErrRemoteUnavailable ErrorCode = "REMOTE_UNAVAILABLE"
	ErrRemoteRejected    ErrorCode = "REMOTE_REJECTED"
	ErrUnauthorized      ErrorCode = "UNAUTHORIZED"

	// Outbox errors
	ErrQueueFull      ErrorCode = "QUEUE_FULL"
	ErrRetryExhausted ErrorCode = "RETRY_EXHAUSTED"
	ErrDeadLetter     ErrorCode = "DEAD_LETTER_FAILED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether any AppError in err's chain carries code.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the code of the outermost AppError in err's chain,
// or ErrInternal when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsRetryable reports whether a failed remote mutation is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !Is(err, ErrRemoteRejected) && !Is(err, ErrInvalid)
}
