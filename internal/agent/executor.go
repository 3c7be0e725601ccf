package agent

import (
	"context"
	"errors"

	"github.com/jkaninda/hive/internal/domain"
	"github.com/jkaninda/hive/internal/task"
)

// ResultKind classifies the outcome of an execution.
type ResultKind int

const (
	Success   ResultKind = iota // Task body produced a value.
	Retryable                   // Failed; the retry policy may re-run it.
	Terminal                    // Failed; never retried.
)

func (k ResultKind) String() string {
	switch k {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Result is what an Executor returns. Err is set for failures and
// always matches domain.ErrExecution.
type Result struct {
	Kind  ResultKind
	Value any
	Err   error
}

// Succeeded builds a Success result.
func Succeeded(v any) Result { return Result{Kind: Success, Value: v} }

// Retry builds a Retryable result.
func Retry(err error) Result { return Result{Kind: Retryable, Err: asExecutionError(err)} }

// Fail builds a Terminal result.
func Fail(err error) Result { return Result{Kind: Terminal, Err: asExecutionError(err)} }

func asExecutionError(err error) error {
	if err == nil {
		return domain.NewExecutionError("unspecified failure")
	}
	if errors.Is(err, domain.ErrExecution) {
		return err
	}
	return &domain.ExecutionError{Message: err.Error()}
}

// Executor is the capability that turns a task's type and details into
// a result. Implementations live outside the scheduling core.
type Executor interface {
	Execute(ctx context.Context, t *task.Task) Result
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, t *task.Task) Result

func (f ExecutorFunc) Execute(ctx context.Context, t *task.Task) Result { return f(ctx, t) }

// Memory is the optional long-term store an agent records results into.
// Callers must treat a nil Memory as "no cached result".
type Memory interface {
	Add(ctx context.Context, text string) error
	Query(ctx context.Context, text string, n int) ([]string, error)
}
