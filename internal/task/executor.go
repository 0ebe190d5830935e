package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Executor performs the actual work for one task kind. Implementations
// live outside this package (transcript fetcher, summarizer, distributor)
// and must tolerate being invoked more than once for the same task:
// execution is at-least-once, so external side effects need their own
// dedup keys.
//
// A nil error means success and output is recorded on the task. A
// returned error is treated as transient unless it is (or wraps) a
// *PermanentError.
type Executor interface {
	Execute(ctx context.Context, t *Task) (json.RawMessage, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, t *Task) (json.RawMessage, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, t *Task) (json.RawMessage, error) {
	return f(ctx, t)
}

// PermanentError marks an execution failure that retrying cannot fix,
// such as malformed input. The worker fails the task immediately
// without consuming retry budget on further attempts.
type PermanentError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent failure: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("permanent failure: %s", e.Reason)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as a permanent failure with the given reason.
func Permanent(reason string, err error) error {
	return &PermanentError{Reason: reason, Err: err}
}

// IsPermanent reports whether err is (or wraps) a permanent failure.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Registry maps task kinds to their executors. It is populated once at
// startup; the kind set is closed, so lookup is a plain map with no
// runtime registration surprises.
type Registry struct {
	executors map[Kind]Executor
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[Kind]Executor),
	}
}

// Register binds an executor to a task kind, replacing any previous binding.
func (r *Registry) Register(kind Kind, e Executor) {
	r.executors[kind] = e
}

// Get returns the executor for the given kind.
func (r *Registry) Get(kind Kind) (Executor, bool) {
	e, ok := r.executors[kind]
	return e, ok
}
