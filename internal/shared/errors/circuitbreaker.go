package errors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// State mirrors gobreaker's three-state model under the names the rest of
// the codebase (and its tests) refer to directly.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	FailureThreshold uint32
	SuccessThreshold uint32
	Timeout          time.Duration
}

// CircuitBreaker protects a dependency (here, the queue broker) from
// repeated failed calls by failing fast once a failure threshold trips,
// then probing with a single call after Timeout elapses.
type CircuitBreaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// ErrCircuitOpen is returned by Execute while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// NewCircuitBreaker builds a CircuitBreaker backed by sony/gobreaker.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.SuccessThreshold,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	return &CircuitBreaker{name: name, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn if the breaker allows it, translating gobreaker's own
// "circuit breaker is open" error into ErrCircuitOpen so callers can use
// errors.Is regardless of the underlying library.
func (c *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	if err != nil && errors.Is(err, gobreaker.ErrOpenState) {
		return fmt.Errorf("%s: %w", c.name, ErrCircuitOpen)
	}
	return err
}

// State reports the breaker's current state.
func (c *CircuitBreaker) State() State {
	switch c.cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// IsDegraded reports whether err originated from an open circuit breaker.
func IsDegraded(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
