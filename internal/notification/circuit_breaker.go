package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kinga-app/kinga/internal/errors"
	"github.com/kinga-app/kinga/internal/logger"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitBreakerOpen is returned while the provider is considered down.
	ErrCircuitBreakerOpen = errors.NewStd("circuit breaker is open")
	// ErrTooManyRequests is returned when the half-open probe is already in flight.
	ErrTooManyRequests = errors.NewStd("circuit breaker is half-open, too many requests")
)

// CircuitBreakerConfig holds configuration for a circuit breaker.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the circuit.
	MaxFailures int
	// Timeout is how long the circuit stays open before a probe is allowed.
	Timeout time.Duration
	// HalfOpenMaxRequests is the number of probes allowed while half-open.
	HalfOpenMaxRequests int
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:         5,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// CircuitBreaker stops calling a provider after repeated failures so a
// broken mail API does not tie up a goroutine per signup.
type CircuitBreaker struct {
	config           CircuitBreakerConfig
	provider         string
	mu               sync.Mutex
	state            CircuitState
	failures         int
	lastStateChange  time.Time
	halfOpenRequests int
}

func NewCircuitBreaker(config CircuitBreakerConfig, provider string) *CircuitBreaker {
	if config.MaxFailures < 1 {
		config.MaxFailures = 1
	}
	if config.HalfOpenMaxRequests < 1 {
		config.HalfOpenMaxRequests = 1
	}
	return &CircuitBreaker{
		config:          config,
		provider:        provider,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Call runs fn if the breaker allows it and records the outcome.
// Cancellation by the caller does not count as a provider failure.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return fmt.Errorf("circuit breaker rejected request (%v, %d consecutive failures): %w",
			cb.State(), cb.Failures(), err)
	}

	err := fn(ctx)
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(cb.lastStateChange) >= cb.config.Timeout {
			cb.setState(StateHalfOpen)
			cb.halfOpenRequests = 1
			return nil
		}
		return ErrCircuitBreakerOpen
	case StateHalfOpen:
		if cb.halfOpenRequests >= cb.config.HalfOpenMaxRequests {
			return ErrTooManyRequests
		}
		cb.halfOpenRequests++
		return nil
	default:
		return ErrCircuitBreakerOpen
	}
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.setState(StateClosed)
		}
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}

	cb.failures++
	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
	}
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(state CircuitState) {
	if cb.state == state {
		return
	}
	old := cb.state
	cb.state = state
	cb.lastStateChange = time.Now()

	log := GetLogger()
	fields := []logger.Field{
		logger.String("provider", cb.provider),
		logger.String("old_state", old.String()),
		logger.String("new_state", state.String()),
		logger.Int("consecutive_failures", cb.failures),
	}
	if state == StateOpen {
		log.Warn("circuit breaker opened", fields...)
	} else {
		log.Info("circuit breaker state transition", fields...)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the number of consecutive failures.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.halfOpenRequests = 0
	cb.setState(StateClosed)
}
