// Package resilience provides retry and circuit breaking for calls to
// external services.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed lets calls through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the cooldown elapses.
	CircuitOpen
	// CircuitHalfOpen lets one trial call through.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig controls circuit breaker behavior.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the circuit.
	Threshold int
	// Cooldown is how long the circuit stays open before a trial call.
	Cooldown time.Duration
	// ShouldTrip decides which errors count as failures. Defaults to IsTransient,
	// so request errors such as a bad prompt never open the circuit.
	ShouldTrip func(err error) bool
	// OnStateChange is called on every transition, under the breaker's lock.
	OnStateChange func(from, to CircuitState)
}

// Breaker is a consecutive-failure circuit breaker for one service.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	trial    bool
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = IsTransient
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Execute runs fn unless the circuit is open.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteVal(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteVal is Execute for functions returning a value.
func ExecuteVal[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.admit(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.record(err)
	return val, err
}

// State returns the current state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return CircuitHalfOpen
	}
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return ErrCircuitOpen
		}
		b.setState(CircuitHalfOpen)
		b.trial = true
		return nil
	case CircuitHalfOpen:
		// One trial at a time.
		if b.trial {
			return ErrCircuitOpen
		}
		b.trial = true
		return nil
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trial = false
	if err == nil || !b.cfg.ShouldTrip(err) {
		b.failures = 0
		if b.state != CircuitClosed {
			b.setState(CircuitClosed)
		}
		return
	}

	b.failures++
	if b.state == CircuitHalfOpen || b.failures >= b.cfg.Threshold {
		b.openedAt = b.now()
		if b.state != CircuitOpen {
			b.setState(CircuitOpen)
		}
	}
}

func (b *Breaker) setState(to CircuitState) {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
