package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy controls retry behavior with exponential backoff and jitter.
type Policy struct {
	// Attempts is the total number of tries including the first. 1 disables retry.
	Attempts int
	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps any single wait, including server-requested ones.
	MaxDelay time.Duration
	// Multiplier scales the wait after each retry.
	Multiplier float64
	// Jitter is the random spread as a fraction of the wait (0.25 = ±25%).
	Jitter float64
	// Retryable overrides IsTransient.
	Retryable func(err error) bool
	// OnRetry runs before each wait.
	OnRetry func(attempt int, err error)
}

// DefaultPolicy suits calls to a hosted model API.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:   3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2,
		Jitter:     0.25,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.Attempts <= 0 {
		p.Attempts = d.Attempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Multiplier <= 0 {
		p.Multiplier = d.Multiplier
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	return p
}

// Delay returns the wait after the given zero-based failed try. A
// server-requested wait longer than the computed one takes precedence.
func (p Policy) Delay(try int, err error) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(try))
	if p.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * p.Jitter
	}
	if ra := float64(retryAfter(err)); ra > d {
		d = ra
	}
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds, returns a non-retryable error, runs out of
// attempts, or ctx is done.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for functions returning a value.
func DoVal[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()

	var zero T
	for try := 0; ; try++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		if ctx.Err() != nil || !p.Retryable(err) || try >= p.Attempts-1 {
			return zero, err
		}

		if p.OnRetry != nil {
			p.OnRetry(try+1, err)
		}

		timer := time.NewTimer(p.Delay(try, err))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
}

// RetryLogger returns an OnRetry callback that logs each retry.
func RetryLogger(component, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn(component+": retrying",
			zap.String("operation", operation),
			zap.Int("retry", attempt),
			zap.Error(err),
		)
	}
}
