package types

import "fmt"

// ErrorCode represents a unified error code across the subsystem.
type ErrorCode string

// Validation failures (recoverable by rewriting the submitted code).
const (
	ErrSecurityViolation ErrorCode = "SECURITY_VIOLATION"
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"
)

// Resource failures (recoverable by retrying with a smaller scope).
const (
	ErrTimedOut         ErrorCode = "TIMED_OUT"
	ErrResourceExceeded ErrorCode = "RESOURCE_EXCEEDED"
)

// Logic failures (syntax/runtime errors inside the submitted code).
const (
	ErrExecution ErrorCode = "EXECUTION_ERROR"
)

// Infrastructure failures (the only class eligible for automatic retry).
const (
	ErrInfrastructure ErrorCode = "INFRASTRUCTURE"
)

// Session and workspace error codes.
const (
	ErrSessionNotFound  ErrorCode = "SESSION_NOT_FOUND"
	ErrSessionExpired   ErrorCode = "SESSION_EXPIRED"
	ErrRateLimited      ErrorCode = "RATE_LIMITED"
	ErrPathTraversal    ErrorCode = "PATH_TRAVERSAL"
	ErrNotFound         ErrorCode = "NOT_FOUND"
	ErrPermissionDenied ErrorCode = "PERMISSION_DENIED"
)

// Tool error codes.
const (
	ErrToolRegistration ErrorCode = "TOOL_REGISTRATION"
	ErrToolNotFound     ErrorCode = "TOOL_NOT_FOUND"
	ErrToolValidation   ErrorCode = "TOOL_VALIDATION"
	ErrToolExecution    ErrorCode = "TOOL_EXECUTION"
)

// Error represents a structured error with code, message, and metadata.
// Messages are sanitized at construction sites: no host paths, stack
// traces, or credentials may appear in Message.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error. The cause is never rendered into
// caller-visible payloads, only into internal logs.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
