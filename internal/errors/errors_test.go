// Package errors tests for error code definitions and error handling.
package errors

import (
	"errors"
	"fmt"
	"testing"
)

// TestErrorCodeValues verifies all error codes have non-empty values.
func TestErrorCodeValues(t *testing.T) {
	tests := []struct {
		name string
		code ErrorCode
	}{
		{"internal", ErrInternal},
		{"invalid", ErrInvalid},
		{"not found", ErrNotFound},
		{"storage", ErrStorage},
		{"serialization", ErrSerialization},
		{"migration", ErrMigration},
		{"offline", ErrOffline},
		{"remote unavailable", ErrRemoteUnavailable},
		{"remote rejected", ErrRemoteRejected},
		{"unauthorized", ErrUnauthorized},
		{"queue full", ErrQueueFull},
		{"retry exhausted", ErrRetryExhausted},
		{"dead letter", ErrDeadLetter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code == "" {
				t.Errorf("ErrorCode %q should not be empty", tt.name)
			}
		})
	}
}

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: &AppError{Code: ErrInternal, Message: "something failed"},
			want:     "[INTERNAL_ERROR] something failed",
		},
		{
			name:     "error with underlying error",
			appError: &AppError{Code: ErrStorage, Message: "write failed", Err: errors.New("disk full")},
			want:     "[STORAGE_ERROR] write failed: disk full",
		},
		{
			name:     "offline error",
			appError: &AppError{Code: ErrOffline, Message: "no connectivity"},
			want:     "[OFFLINE] no connectivity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.appError.Error()
			if got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestWrap verifies error wrapping.
func TestWrap(t *testing.T) {
	underlyingErr := errors.New("underlying")

	err := Wrap(ErrRemoteUnavailable, "create product", underlyingErr)
	if err.Code != ErrRemoteUnavailable {
		t.Errorf("Wrap() code = %q, want %q", err.Code, ErrRemoteUnavailable)
	}
	if err.Unwrap() != underlyingErr {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), underlyingErr)
	}
	if !errors.Is(err, underlyingErr) {
		t.Error("errors.Is should see the wrapped error")
	}
}

// TestNewf verifies formatted messages.
func TestNewf(t *testing.T) {
	err := Newf(ErrNotFound, "%s %q", "product", "p1")
	if err.Message != `product "p1"` {
		t.Errorf("Newf() message = %q", err.Message)
	}
}

// TestIs verifies error code checking across wrapped chains.
func TestIs(t *testing.T) {
	inner := Wrap(ErrRemoteUnavailable, "get", errors.New("dial tcp: refused"))

	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"matching AppError", New(ErrNotFound, "missing"), ErrNotFound, true},
		{"non-matching AppError", New(ErrNotFound, "missing"), ErrOffline, false},
		{"standard error", errors.New("plain"), ErrInternal, false},
		{"nil error", nil, ErrInternal, false},
		{"nested AppError", Wrap(ErrNotFound, "no cache", inner), ErrRemoteUnavailable, true},
		{"fmt wrapped", fmt.Errorf("facade: %w", inner), ErrRemoteUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestCodeOf verifies the outermost code is reported.
func TestCodeOf(t *testing.T) {
	if got := CodeOf(Wrap(ErrNotFound, "x", New(ErrOffline, "y"))); got != ErrNotFound {
		t.Errorf("CodeOf() = %q, want %q", got, ErrNotFound)
	}
	if got := CodeOf(errors.New("plain")); got != ErrInternal {
		t.Errorf("CodeOf(plain) = %q, want %q", got, ErrInternal)
	}
}

// TestIsRetryable verifies which failures are worth another attempt.
func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
	if !IsRetryable(New(ErrRemoteUnavailable, "503")) {
		t.Error("unavailable should be retryable")
	}
	if !IsRetryable(errors.New("timeout")) {
		t.Error("unclassified errors should be retryable")
	}
	if IsRetryable(New(ErrRemoteRejected, "422")) {
		t.Error("rejected should not be retryable")
	}
}
