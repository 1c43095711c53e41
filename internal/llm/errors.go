package llm

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a reasoning backend failure.
type Kind string

const (
	KindNotFound  Kind = "not_found"
	KindAuth      Kind = "auth"
	KindExecution Kind = "execution"
	KindOutput    Kind = "output"
	KindTimeout   Kind = "timeout"
)

// Error is the only error type backends return. Callers surface it
// immediately; it is never retried across a replan.
type Error struct {
	Kind     Kind
	Provider string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s backend %s error: %s", e.Provider, e.Kind, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on kind via a sentinel such as ErrTimeout.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Provider == "" && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrNotFound  = &Error{Kind: KindNotFound}
	ErrAuth      = &Error{Kind: KindAuth}
	ErrExecution = &Error{Kind: KindExecution}
	ErrOutput    = &Error{Kind: KindOutput}
	ErrTimeout   = &Error{Kind: KindTimeout}
)

func newError(kind Kind, provider, msg string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Message: msg, Err: err}
}

// KindOf returns the kind of a backend error, or "" for other errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsBackendError reports whether err came from a reasoning backend.
func IsBackendError(err error) bool {
	return KindOf(err) != ""
}

// fromContext maps a context failure to a timeout error, or returns nil.
func fromContext(ctx context.Context, provider string) *Error {
	switch ctx.Err() {
	case nil:
		return nil
	case context.DeadlineExceeded:
		return newError(KindTimeout, provider, "deadline exceeded", ctx.Err())
	default:
		return newError(KindExecution, provider, "cancelled", ctx.Err())
	}
}

// fromStatus maps an HTTP status from a hosted API.
func fromStatus(status int, provider string, err error) *Error {
	switch {
	case status == 401 || status == 403:
		return newError(KindAuth, provider, fmt.Sprintf("status %d", status), err)
	case status == 404:
		return newError(KindNotFound, provider, fmt.Sprintf("status %d", status), err)
	case status == 408 || status == 504:
		return newError(KindTimeout, provider, fmt.Sprintf("status %d", status), err)
	default:
		return newError(KindExecution, provider, fmt.Sprintf("status %d", status), err)
	}
}
