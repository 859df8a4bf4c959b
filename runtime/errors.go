package runtime

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a runtime failure: IO, compile, config,
// engine, log and timeout errors. Guest-level task failures are not
// ErrorKinds; they travel as data inside a successful result.
type ErrorKind int

const (
	// ErrKindEngine covers traps, fuel exhaustion, memory-limit
	// breaches and instantiation failures.
	ErrKindEngine ErrorKind = iota
	// ErrKindLog covers durable-store failures.
	ErrKindLog
	// ErrKindConfig covers a Policy that cannot be translated into
	// engine-level limits.
	ErrKindConfig
	// ErrKindTimeout covers a wall-clock deadline exceeded during
	// RunInstance.
	ErrKindTimeout
	// ErrKindIO covers filesystem or toolchain-invocation failures.
	ErrKindIO
	// ErrKindCompile covers a language adapter returning nonzero or
	// producing no artifact.
	ErrKindCompile
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindEngine:
		return "engine"
	case ErrKindLog:
		return "log"
	case ErrKindConfig:
		return "config"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindIO:
		return "io"
	case ErrKindCompile:
		return "compile"
	default:
		return "unknown"
	}
}

// Error is the runtime's wrapped error type. Callers match on Kind or
// use errors.As/errors.Is against the wrapped cause.
type Error struct {
	Kind ErrorKind
	// TaskID is set when the error can be attributed to a specific
	// task id, empty otherwise.
	TaskID string
	Err    error
}

func (e *Error) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("runtime error > %s > task %q: %v", e.Kind, e.TaskID, e.Err)
	}
	return fmt.Sprintf("runtime error > %s > %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with the given kind. A nil err yields a nil
// error so callers can write `return NewError(ErrKindEngine, err)`
// unconditionally.
func NewError(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// NewTaskError wraps err with the given kind and task id.
func NewTaskError(kind ErrorKind, taskID string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, TaskID: taskID, Err: err}
}

// Timeout reports a RunInstance whose Policy.Timeout elapsed before the
// guest call returned.
func Timeout(taskID string) error {
	return &Error{Kind: ErrKindTimeout, TaskID: taskID, Err: fmt.Errorf("task timed out")}
}

// IsKind reports whether err (or something it wraps) is a *Error of
// the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// TaskError is the guest-level failure packaged inside a successful
// engine result. It is returned by the host bridge's schedule_task
// after exhausting retries.
type TaskError struct {
	Message string
}

func (e *TaskError) Error() string {
	return e.Message
}

// InternalError builds the TaskError variant schedule_task returns
// once every retry attempt has failed.
func InternalError(message string) *TaskError {
	return &TaskError{Message: message}
}
