// Package errors provides the error taxonomy shared by the sync engine and its callers.
package errors

import (
	stderrors "errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ErrorCode represents a unique error code that can be bridged to the UI layer.
type ErrorCode string

const (
	// General errors
	ErrInternal  ErrorCode = "INTERNAL_ERROR"
	ErrInvalid   ErrorCode = "INVALID_INPUT"
	ErrNotFound  ErrorCode = "NOT_FOUND"
	ErrDuplicate ErrorCode = "DUPLICATE"
	ErrConfig    ErrorCode = "CONFIG_INVALID"

	// Local persistence errors
	ErrStorageFailure ErrorCode = "STORAGE_FAILURE"

	// Remote backend errors
	ErrRemoteUnavailable ErrorCode = "REMOTE_UNAVAILABLE"
	ErrRemoteRejected    ErrorCode = "REMOTE_REJECTED"

	// Sync errors
	ErrSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"
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

// Format prints the wrapped cause with its stack trace for %+v.
func (e *AppError) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') && e.Err != nil {
		fmt.Fprintf(s, "[%s] %s: %+v", e.Code, e.Message, e.Err)
		return
	}
	fmt.Fprint(s, e.Error())
}

// StackTrace returns the stack recorded when the cause was wrapped, if any.
func (e *AppError) StackTrace() pkgerrors.StackTrace {
	var st interface{ StackTrace() pkgerrors.StackTrace }
	if stderrors.As(e.Err, &st) {
		return st.StackTrace()
	}
	return nil
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
// The cause is annotated with the caller's stack.
func Wrap(code ErrorCode, message string, err error) *AppError {
	if err == nil {
		return New(code, message)
	}
	return &AppError{
		Code:    code,
		Message: message,
		Err:     pkgerrors.WithStack(err),
	}
}

// Is checks if an error, or any error it wraps, is of a specific code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	for err != nil {
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

// CodeOf returns the code of the outermost AppError, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// Retryable reports whether the failure is transient and the operation may be
// attempted again on a later sync cycle.
func Retryable(err error) bool {
	return Is(err, ErrRemoteUnavailable)
}
