package resilience

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// TransientError marks an error as safe to retry. RetryAfter, when set, is
// the server's requested minimum wait.
type TransientError struct {
	Err        error
	StatusCode int
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

var transientMessages = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"unexpected eof",
	"overloaded",
}

// IsTransient reports whether err is worth retrying: an explicit
// TransientError, a network timeout, a refused or reset connection, or a
// message matching a known transient failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientMessages {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientStatus reports whether an HTTP status is a retryable
// server-side or throttling condition. 529 is Anthropic's overloaded status.
func IsTransientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusConflict,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		529:
		return true
	}
	return false
}

// retryAfter returns the server-requested wait carried by err, if any.
func retryAfter(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}
