package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TaskError is a monitored call that failed for a reason other than a
// timeout: a precondition, a postcondition, a panic, or exhausted retries.
type TaskError struct {
	Name      string
	Message   string
	Err       error
	Timestamp time.Time
}

// NewTaskError creates a TaskError stamped now.
func NewTaskError(name, msg string, err error) *TaskError {
	return &TaskError{Name: name, Message: msg, Err: err, Timestamp: time.Now()}
}

func (e *TaskError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s", e.Name, e.Message)
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

func (e *TaskError) Unwrap() error { return e.Err }

// TimeoutError is a monitored call that outlived its per-call timeout.
type TimeoutError struct {
	Name      string
	Timeout   time.Duration
	Attempt   int
	Timestamp time.Time
}

// NewTimeoutError creates a TimeoutError stamped now.
func NewTimeoutError(name string, timeout time.Duration, attempt int) *TimeoutError {
	return &TimeoutError{Name: name, Timeout: timeout, Attempt: attempt, Timestamp: time.Now()}
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timeout after %v (attempt %d)", e.Name, e.Timeout, e.Attempt)
}

// Unwrap returns context.DeadlineExceeded.
func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// IsTaskError reports whether err is or wraps a TaskError.
func IsTaskError(err error) bool {
	var te *TaskError
	return err != nil && errors.As(err, &te)
}

// IsTimeoutError reports whether err is or wraps a TimeoutError or
// context.DeadlineExceeded.
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Retryable marks errors returned to Do that may be retried.
type Retryable interface {
	Retryable() bool
}

// retryableError is returned by MarkRetryable.
type retryableError struct{ err error }

func (e retryableError) Error() string   { return e.err.Error() }
func (e retryableError) Unwrap() error   { return e.err }
func (e retryableError) Retryable() bool { return true }

// MarkRetryable wraps err so Do retries it.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return retryableError{err: err}
}

// IsRetryable reports whether err asks to be retried.
func IsRetryable(err error) bool {
	var r Retryable
	return errors.As(err, &r) && r.Retryable()
}
