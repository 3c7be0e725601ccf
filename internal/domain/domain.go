// Package domain defines the error taxonomy shared by every hive component.
package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match with errors.Is.
var (
	// ErrExecution marks a failed task body. Recoverable through the retry policy.
	ErrExecution = errors.New("task execution failed")
	// ErrAccessDenied is returned when a lower access level agent messages a higher one.
	ErrAccessDenied = errors.New("access denied")
	// ErrDataIntegrity reports a referential violation in the delegation tree or registry.
	ErrDataIntegrity = errors.New("data integrity violation")
	ErrDuplicateID   = errors.New("duplicate id")
	ErrNotFound      = errors.New("not found")
	// ErrBudgetExceeded is returned by resource limit enforcement (submission rate).
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrQueueFull is returned when an agent's local queue is at capacity.
	ErrQueueFull = errors.New("agent queue full")
	// ErrStateNotFound is returned when a snapshot to load does not exist.
	ErrStateNotFound = errors.New("saved state not found")
)

// ExecutionError carries the message of a failed task body.
type ExecutionError struct {
	Message string
}

func (e *ExecutionError) Error() string {
	return "execution error: " + e.Message
}

func (e *ExecutionError) Unwrap() error { return ErrExecution }

// NewExecutionError formats an ExecutionError.
func NewExecutionError(format string, args ...any) *ExecutionError {
	return &ExecutionError{Message: fmt.Sprintf(format, args...)}
}
