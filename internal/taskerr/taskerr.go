package taskerr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"syscall"
)

// Command-surface errors, returned synchronously to the caller.
var (
	ErrNotFound          = errors.New("task not found")
	ErrDuplicateID       = errors.New("duplicate task id")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTaskActive        = errors.New("task is not in a terminal status")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// ErrSourceUnavailable marks a collaborator response that says the media
// source is gone or was never there (e.g. HTTP 404/410).
var ErrSourceUnavailable = errors.New("source unavailable")

// Kind classifies a task execution failure.
type Kind string

const (
	KindNetwork           Kind = "network_error"
	KindSourceUnavailable Kind = "source_unavailable"
	KindDisk              Kind = "disk_error"
	KindCancelled         Kind = "cancelled"
	KindUnknown           Kind = "unknown"
)

// TaskError is an execution-phase failure with its classification.
// It moves a task to Failed and stays on the task until retried or cleared.
type TaskError struct {
	Kind Kind
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// New wraps err with an explicit classification.
func New(kind Kind, err error) *TaskError {
	return &TaskError{Kind: kind, Err: err}
}

// Wrap classifies err and wraps it. Already-classified errors pass through.
func Wrap(err error) *TaskError {
	var te *TaskError
	if errors.As(err, &te) {
		return te
	}
	return &TaskError{Kind: Classify(err), Err: err}
}

// KindOf returns the classification of err.
func KindOf(err error) Kind {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Kind
	}
	return Classify(err)
}

// Classify maps an arbitrary execution error onto the failure taxonomy.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrSourceUnavailable):
		return KindSourceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return KindNetwork
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, fs.ErrPermission):
		return KindDisk
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindNetwork
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return KindDisk
	}

	return KindUnknown
}
