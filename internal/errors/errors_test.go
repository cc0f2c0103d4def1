// Package errors tests for error code definitions and error handling.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestErrorCodeValues verifies all error codes have non-empty, distinct values.
func TestErrorCodeValues(t *testing.T) {
	codes := []ErrorCode{
		ErrInternal, ErrInvalid, ErrNotFound, ErrDuplicate, ErrConfig,
		ErrStorageFailure, ErrRemoteUnavailable, ErrRemoteRejected, ErrSyncInProgress,
	}

	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		if code == "" {
			t.Error("ErrorCode should not be empty")
		}
		if seen[code] {
			t.Errorf("ErrorCode %q is duplicated", code)
		}
		seen[code] = true
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
			appError: &AppError{Code: ErrStorageFailure, Message: "write failed", Err: errors.New("disk full")},
			want:     "[STORAGE_FAILURE] write failed: disk full",
		},
		{
			name:     "not found error",
			appError: &AppError{Code: ErrNotFound, Message: "item not found"},
			want:     "[NOT_FOUND] item not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appError.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestWrap verifies error wrapping keeps the cause reachable.
func TestWrap(t *testing.T) {
	cause := errors.New("connection refused")

	err := Wrap(ErrRemoteUnavailable, "read products", cause)
	if err.Code != ErrRemoteUnavailable {
		t.Errorf("Wrap() code = %q, want %q", err.Code, ErrRemoteUnavailable)
	}
	if !errors.Is(err, cause) {
		t.Error("Wrap() should keep the cause reachable through errors.Is")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Error() = %q, want it to contain the cause", err.Error())
	}
	if err.StackTrace() == nil {
		t.Error("Wrap() should record a stack trace")
	}
	if !strings.Contains(fmt.Sprintf("%+v", err), "errors_test.go") {
		t.Error("verbose formatting should print the recorded stack")
	}
}

// TestWrap_withNilError verifies wrapping nil error.
func TestWrap_withNilError(t *testing.T) {
	err := Wrap(ErrInternal, "test", nil)
	if err.Err != nil {
		t.Errorf("Wrap() with nil error should have nil Err, got %v", err.Err)
	}
}

// TestIs verifies error code checking through wrapping layers.
func TestIs(t *testing.T) {
	nested := Wrap(ErrStorageFailure, "append", Wrap(ErrNotFound, "blob", nil))

	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"matching AppError", New(ErrNotFound, "x"), ErrNotFound, true},
		{"non-matching AppError", New(ErrNotFound, "x"), ErrInvalid, false},
		{"fmt wrapped", fmt.Errorf("outer: %w", New(ErrRemoteRejected, "x")), ErrRemoteRejected, true},
		{"nested outer code", nested, ErrStorageFailure, true},
		{"nested inner code", nested, ErrNotFound, true},
		{"plain error", errors.New("plain"), ErrInternal, false},
		{"nil error", nil, ErrInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestCodeOf verifies code extraction.
func TestCodeOf(t *testing.T) {
	if got := CodeOf(New(ErrDuplicate, "dup")); got != ErrDuplicate {
		t.Errorf("CodeOf() = %q, want %q", got, ErrDuplicate)
	}
	if got := CodeOf(context.DeadlineExceeded); got != ErrInternal {
		t.Errorf("CodeOf() plain error = %q, want %q", got, ErrInternal)
	}
}

// TestRetryable verifies only unavailable remote failures are retryable.
func TestRetryable(t *testing.T) {
	if !Retryable(New(ErrRemoteUnavailable, "timeout")) {
		t.Error("REMOTE_UNAVAILABLE should be retryable")
	}
	if Retryable(New(ErrRemoteRejected, "validation")) {
		t.Error("REMOTE_REJECTED should not be retryable")
	}
	if Retryable(errors.New("plain")) {
		t.Error("plain errors should not be retryable")
	}
}
