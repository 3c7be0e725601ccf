package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestExecutionErrorUnwrap(t *testing.T) {
	err := NewExecutionError("fetch %s: status %d", "example.com", 502)
	if err.Message != "fetch example.com: status 502" {
		t.Errorf("Message = %q", err.Message)
	}
	wrapped := fmt.Errorf("processing: %w", err)
	if !errors.Is(wrapped, ErrExecution) {
		t.Error("expected wrapped error to match ErrExecution")
	}
	var ee *ExecutionError
	if !errors.As(wrapped, &ee) {
		t.Fatal("expected errors.As to find ExecutionError")
	}
	if errors.Is(wrapped, ErrAccessDenied) {
		t.Error("ExecutionError must not match ErrAccessDenied")
	}
}
