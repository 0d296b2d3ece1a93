package core

import (
	"errors"
	"fmt"
)

// Error is the tagged error type used across the voicewire packages.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Param   string    `json:"param,omitempty"`
	Code    string    `json:"code,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrConfiguration covers invalid or duplicate tool/session configuration.
	// Rejected before a session starts; a running session never observes it.
	ErrConfiguration ErrorType = "configuration_error"

	// ErrConnection covers transient transport failures. Retryable by a new
	// start; never retried automatically.
	ErrConnection ErrorType = "connection_error"

	// ErrAuth covers credential rejection by the backend. Fatal for the
	// session; requires re-authentication before a new start.
	ErrAuth ErrorType = "auth_error"

	// ErrToolExecution is scoped to one tool call and does not end the session.
	ErrToolExecution ErrorType = "tool_execution_error"

	// ErrCancelled marks cooperative cancellation. Not a failure.
	ErrCancelled ErrorType = "cancelled"

	// ErrAlreadyActive is returned when start is invoked while a session
	// is still active.
	ErrAlreadyActive ErrorType = "already_active"
)

// NewConfigurationError creates a configuration error.
func NewConfigurationError(message string) *Error {
	return &Error{Type: ErrConfiguration, Message: message}
}

// NewConfigurationErrorWithParam creates a configuration error naming the
// offending parameter.
func NewConfigurationErrorWithParam(message, param string) *Error {
	return &Error{Type: ErrConfiguration, Message: message, Param: param}
}

// NewConnectionError creates a transient connection error.
func NewConnectionError(message string, cause error) *Error {
	return &Error{Type: ErrConnection, Message: message, Cause: cause}
}

// NewAuthError creates a fatal authentication error.
func NewAuthError(message string) *Error {
	return &Error{Type: ErrAuth, Message: message}
}

// NewToolExecutionError creates a tool execution error scoped to one call.
func NewToolExecutionError(message string, cause error) *Error {
	return &Error{Type: ErrToolExecution, Message: message, Cause: cause}
}

// NewCancelledError creates a cancellation marker error.
func NewCancelledError(message string) *Error {
	return &Error{Type: ErrCancelled, Message: message}
}

// NewAlreadyActiveError is returned by start when a session is still active.
func NewAlreadyActiveError() *Error {
	return &Error{Type: ErrAlreadyActive, Message: "a session is already active"}
}

// IsRetryable reports whether a new start may reasonably succeed.
func (e *Error) IsRetryable() bool {
	return e.Type == ErrConnection
}

// IsFatal reports whether the error ends the session and requires explicit
// acknowledgment before another start.
func (e *Error) IsFatal() bool {
	return e.Type == ErrAuth
}

// TypeOf extracts the ErrorType from err, unwrapping as needed.
// Returns an empty type for nil and for errors outside the taxonomy.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Type
	}
	return ""
}
