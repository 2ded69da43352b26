package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sells-group/skillgen/internal/resilience"
)

// ErrorKind classifies a collaborator failure.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTransient
	KindRateLimited
	KindAuth
	KindInvalidRequest
	KindCircuitOpen
	KindEmptyResponse
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindAuth:
		return "auth"
	case KindInvalidRequest:
		return "invalid_request"
	case KindCircuitOpen:
		return "circuit_open"
	case KindEmptyResponse:
		return "empty_response"
	default:
		return "unknown"
	}
}

// Error is a classified collaborator failure.
type Error struct {
	Kind     ErrorKind
	Provider Provider
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("llm: %s %s (status %d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("llm: %s %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another try may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimited || e.Kind == KindEmptyResponse
}

// IsRetryable reports whether err is a retryable collaborator failure.
// Context cancellation never is.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return resilience.IsTransient(err)
}

// classify wraps a backend error with its kind. Context errors pass
// through unchanged so callers can tell cancellation from failure.
func classify(p Provider, status int, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	kind := KindUnknown
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case resilience.IsTransientStatus(status):
		kind = KindTransient
	case status >= 400 && status < 500:
		kind = KindInvalidRequest
	case resilience.IsTransient(err):
		kind = KindTransient
	}
	return &Error{Kind: kind, Provider: p, Status: status, Err: err}
}
