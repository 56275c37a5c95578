package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a request without running it.
var ErrOpen = errors.New("circuit breaker open")

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // requests pass through
	StateOpen                  // requests fail immediately
	StateHalfOpen              // limited trial requests
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration
type Config struct {
	FailureThreshold    int           // consecutive failures before opening
	SuccessThreshold    int           // half-open successes needed to close
	Timeout             time.Duration // open -> half-open delay
	MaxRequestsHalfOpen int
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		MaxRequestsHalfOpen: 3,
	}
}

type CircuitBreaker struct {
	config Config
	now    func() time.Time

	mu               sync.RWMutex
	state            State
	failureCount     int
	successCount     int
	halfOpenRequests int
	lastFailureTime  time.Time
	stateChangeTime  time.Time

	onStateChange func(from, to State)
}

func New(config Config) *CircuitBreaker {
	return &CircuitBreaker{
		config:          config,
		now:             time.Now,
		state:           StateClosed,
		stateChangeTime: time.Now(),
	}
}

// OnStateChange registers fn to be called asynchronously on every state change.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Execute runs fn through the breaker.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	_, err := Do(ctx, cb, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Do runs fn through cb and returns its result. Context errors are not counted as failures.
func Do[T any](ctx context.Context, cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if !cb.allowRequest() {
		return zero, fmt.Errorf("%w: state %s", ErrOpen, cb.GetState())
	}

	result, err := fn()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			cb.release()
			return zero, err
		}
		cb.onFailure()
		return zero, fmt.Errorf("circuit breaker execution failed: %w", err)
	}

	cb.onSuccess()
	return result, nil
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.stateChangeTime) < cb.config.Timeout {
			return false
		}
		cb.transitionTo(StateHalfOpen)
	}

	if cb.state == StateHalfOpen {
		if cb.halfOpenRequests >= cb.config.MaxRequestsHalfOpen {
			return false
		}
		cb.halfOpenRequests++
	}
	return true
}

// release gives back a half-open slot for a request that neither failed nor succeeded.
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.halfOpenRequests > 0 {
		cb.halfOpenRequests--
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.successCount = 0
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		cb.transitionTo(StateOpen)
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successCount++
	cb.failureCount = 0

	if cb.state == StateHalfOpen && cb.successCount >= cb.config.SuccessThreshold {
		cb.transitionTo(StateClosed)
	}
}

// transitionTo must be called with mu held.
func (cb *CircuitBreaker) transitionTo(newState State) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState
	cb.stateChangeTime = cb.now()
	if newState != StateOpen {
		cb.failureCount = 0
		cb.successCount = 0
		cb.halfOpenRequests = 0
	}

	if cb.onStateChange != nil {
		go cb.onStateChange(oldState, newState)
	}
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Stats holds circuit breaker statistics
type Stats struct {
	State            State
	FailureCount     int
	SuccessCount     int
	HalfOpenRequests int
	LastFailureTime  time.Time
	StateChangeTime  time.Time
}

func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return Stats{
		State:            cb.state,
		FailureCount:     cb.failureCount,
		SuccessCount:     cb.successCount,
		HalfOpenRequests: cb.halfOpenRequests,
		LastFailureTime:  cb.lastFailureTime,
		StateChangeTime:  cb.stateChangeTime,
	}
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionTo(StateClosed)
	cb.failureCount = 0
}
