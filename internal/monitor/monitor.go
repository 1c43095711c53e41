// Package monitor wraps a unit of work with preconditions, a per-call
// timeout, bounded retry with linear backoff, and postconditions. The
// runner monitors every tool call through it; the swarm monitors subtasks.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
)

// Precondition must hold before the first attempt.
type Precondition func(ctx context.Context) error

// Postcondition must hold for a successful result.
type Postcondition func(res models.ToolResult) error

// Options configure a Monitor. Zero values disable the feature.
type Options struct {
	// MaxRetries is the number of extra attempts for retryable failures.
	MaxRetries int
	// Backoff is multiplied by the attempt number before each retry.
	Backoff time.Duration
	// Timeout bounds each attempt.
	Timeout        time.Duration
	Preconditions  []Precondition
	Postconditions []Postcondition
	// OnRetry is called before waiting for the next attempt.
	OnRetry func(attempt int, res models.ToolResult, wait time.Duration)
}

// Report is the outcome of a monitored call.
type Report struct {
	Result   models.ToolResult
	Attempts int
	Duration time.Duration
	// Err is nil when Result succeeded. Otherwise it is a *TaskError,
	// a *TimeoutError or the parent context's error.
	Err error
}

// Monitor runs work under Options.
type Monitor struct {
	opts  Options
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a monitor.
func New(opts Options) *Monitor {
	return &Monitor{opts: opts, sleep: sleepContext}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Call runs fn until it succeeds, fails without asking for a retry, or
// retries run out.
func (m *Monitor) Call(ctx context.Context, name string, fn func(context.Context) models.ToolResult) Report {
	start := time.Now()
	rep := m.call(ctx, name, fn)
	rep.Duration = time.Since(start)
	return rep
}

func (m *Monitor) call(ctx context.Context, name string, fn func(context.Context) models.ToolResult) Report {
	for _, pre := range m.opts.Preconditions {
		if err := pre(ctx); err != nil {
			return Report{
				Result: models.Failure("precondition failed: "+err.Error(), false),
				Err:    NewTaskError(name, "precondition failed", err),
			}
		}
	}

	var rep Report
	var timeoutErr *TimeoutError
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			rep.Result = models.Failure("cancelled: "+err.Error(), false)
			rep.Err = err
			return rep
		}
		rep.Attempts = attempt
		res, timedOut := m.attempt(ctx, name, fn)
		rep.Result = res
		if !res.Success && ctx.Err() != nil {
			rep.Err = ctx.Err()
			return rep
		}
		timeoutErr = nil
		if timedOut {
			timeoutErr = NewTimeoutError(name, m.opts.Timeout, attempt)
		}

		if res.Success || !res.Retryable || attempt > m.opts.MaxRetries {
			break
		}
		wait := time.Duration(attempt) * m.opts.Backoff
		if m.opts.OnRetry != nil {
			m.opts.OnRetry(attempt, res, wait)
		}
		if err := m.sleep(ctx, wait); err != nil {
			rep.Err = err
			return rep
		}
	}

	if !rep.Result.Success {
		switch {
		case timeoutErr != nil:
			rep.Err = timeoutErr
		case rep.Result.Retryable:
			rep.Err = NewTaskError(name, fmt.Sprintf("retries exhausted after %d attempts", rep.Attempts), fmt.Errorf("%s", rep.Result.Error))
		default:
			rep.Err = NewTaskError(name, "failed", fmt.Errorf("%s", rep.Result.Error))
		}
		return rep
	}

	for _, post := range m.opts.Postconditions {
		if err := post(rep.Result); err != nil {
			rep.Result.Success = false
			rep.Result.Retryable = false
			rep.Result.Error = "postcondition failed: " + err.Error()
			rep.Err = NewTaskError(name, "postcondition failed", err)
			return rep
		}
	}
	return rep
}

// attempt runs fn once under the per-call timeout. The call is not
// preempted: on expiry its result is abandoned and a retryable timeout
// failure is returned in its place.
func (m *Monitor) attempt(ctx context.Context, name string, fn func(context.Context) models.ToolResult) (res models.ToolResult, timedOut bool) {
	callCtx := ctx
	if m.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, m.opts.Timeout)
		defer cancel()
	}

	done := make(chan models.ToolResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- models.Failure(fmt.Sprintf("%s panicked: %v", name, r), false)
			}
		}()
		done <- fn(callCtx)
	}()

	select {
	case res = <-done:
		// A failure caused by our own deadline still counts as a timeout.
		if res.Success || callCtx.Err() == nil || ctx.Err() != nil {
			return res, false
		}
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return models.Failure("cancelled: "+err.Error(), false), false
		}
	}
	return models.Failure(fmt.Sprintf("%s timed out after %v", name, m.opts.Timeout), true), true
}

// Do monitors a function returning an error. Errors marked with
// MarkRetryable are retried.
func (m *Monitor) Do(ctx context.Context, name string, fn func(context.Context) error) Report {
	return m.Call(ctx, name, func(ctx context.Context) models.ToolResult {
		if err := fn(ctx); err != nil {
			return models.Failure(err.Error(), IsRetryable(err))
		}
		return models.ToolResult{Success: true}
	})
}
