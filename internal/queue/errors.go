package queue

import (
	"errors"
	"fmt"
)

// ErrQueueFull reports back-pressure: a key's lane stayed full for the
// whole enqueue timeout.
var ErrQueueFull = errors.New("lane queue full")

// ErrExecutorClosed reports that the executor was stopped.
var ErrExecutorClosed = errors.New("executor closed")

// QueueFullError carries diagnostics while satisfying errors.Is(_, ErrQueueFull).
type QueueFullError struct {
	Shard    int
	Key      string
	Length   int
	Capacity int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("lane %q full (shard=%d len=%d cap=%d)", e.Key, e.Shard, e.Length, e.Capacity)
}

func (e *QueueFullError) Is(target error) bool { return target == ErrQueueFull }

type retryableError struct{ err error }

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

// Retryable marks err as transient so the executor runs the job again
// with backoff. Unmarked errors fail the job immediately.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return retryableError{err}
}

// IsRetryable reports whether err, or anything it wraps, was marked with
// Retryable.
func IsRetryable(err error) bool {
	var r retryableError
	return errors.As(err, &r)
}

// PanicError is reported when a job panics.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("job panicked: %v", e.Value) }
