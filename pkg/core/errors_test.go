package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := NewConnectionError("dial failed", nil)
	if got := err.Error(); got != "connection_error: dial failed" {
		t.Errorf("Unexpected message %q", got)
	}

	withCode := &Error{Type: ErrAuth, Message: "bad key", Code: "invalid_api_key"}
	if got := withCode.Error(); got != "auth_error: bad key (code: invalid_api_key)" {
		t.Errorf("Unexpected message %q", got)
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("socket closed")
	err := NewConnectionError("read frame", cause)

	if !errors.Is(err, cause) {
		t.Error("Expected errors.Is to find the cause")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	var coreErr *Error
	if !errors.As(wrapped, &coreErr) {
		t.Fatal("Expected errors.As to find the core error")
	}
	if coreErr.Type != ErrConnection {
		t.Errorf("Expected connection type, got %q", coreErr.Type)
	}
}

func TestError_Retryability(t *testing.T) {
	tests := []struct {
		err       *Error
		retryable bool
		fatal     bool
	}{
		{NewConnectionError("lost", nil), true, false},
		{NewAuthError("bad key"), false, true},
		{NewConfigurationError("dup label"), false, false},
		{NewToolExecutionError("tool broke", nil), false, false},
		{NewCancelledError("stopped"), false, false},
		{NewAlreadyActiveError(), false, false},
	}
	for _, tt := range tests {
		if got := tt.err.IsRetryable(); got != tt.retryable {
			t.Errorf("%s: expected retryable=%v, got %v", tt.err.Type, tt.retryable, got)
		}
		if got := tt.err.IsFatal(); got != tt.fatal {
			t.Errorf("%s: expected fatal=%v, got %v", tt.err.Type, tt.fatal, got)
		}
	}
}

func TestTypeOf(t *testing.T) {
	if got := TypeOf(nil); got != "" {
		t.Errorf("Expected empty type for nil, got %q", got)
	}
	if got := TypeOf(errors.New("plain")); got != "" {
		t.Errorf("Expected empty type for a plain error, got %q", got)
	}
	if got := TypeOf(NewAuthError("x")); got != ErrAuth {
		t.Errorf("Expected auth_error, got %q", got)
	}
	wrapped := fmt.Errorf("outer: %w", NewCancelledError("x"))
	if got := TypeOf(wrapped); got != ErrCancelled {
		t.Errorf("Expected cancelled through wrapping, got %q", got)
	}
}

func TestNewConfigurationErrorWithParam(t *testing.T) {
	err := NewConfigurationErrorWithParam("label must not be empty", "mcp[0].label")
	if err.Param != "mcp[0].label" {
		t.Errorf("Unexpected param %q", err.Param)
	}
	if err.Type != ErrConfiguration {
		t.Errorf("Unexpected type %q", err.Type)
	}
}
