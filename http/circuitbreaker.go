package http

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of a host circuit.
type CircuitState int

const (
	// CircuitClosed lets requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen fails requests fast.
	CircuitOpen
	// CircuitHalfOpen lets a limited number of probe requests through.
	CircuitHalfOpen
)

// String returns the string representation of a circuit state.
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

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive transient failures that opens a circuit.
	FailureThreshold int
	// RecoveryTimeout is how long a circuit stays open before probing.
	RecoveryTimeout time.Duration
	// HalfOpenMaxRequests is the number of probes allowed while half-open.
	HalfOpenMaxRequests int
	// IsTransientError decides whether an error counts against the circuit.
	// nil counts every error.
	IsTransientError func(error) bool
	// Disabled turns the breaker off: NewCircuitBreaker returns nil and
	// every request is let through.
	Disabled bool
}

// DefaultCircuitBreakerConfig returns defaults that count only transient HTTP failures.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 1,
		IsTransientError:    IsTransientHTTPError,
	}
}

type circuit struct {
	state             CircuitState
	consecutiveErrors int
	openedAt          time.Time
	probes            int
}

// CircuitBreaker tracks failures per host and fails fast while a host is down.
type CircuitBreaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	config   CircuitBreakerConfig
}

// NewCircuitBreaker creates a circuit breaker, filling zero values with defaults.
// A disabled config yields a nil breaker, which allows everything.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.Disabled {
		return nil
	}
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = def.HalfOpenMaxRequests
	}
	return &CircuitBreaker{circuits: make(map[string]*circuit), config: cfg}
}

// Allow returns ErrCircuitOpen when requests to host must fail fast.
func (cb *CircuitBreaker) Allow(host string) error {
	if cb == nil {
		return nil
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(host)
	switch c.state {
	case CircuitOpen:
		if time.Since(c.openedAt) < cb.config.RecoveryTimeout {
			return ErrCircuitOpen
		}
		c.state = CircuitHalfOpen
		c.probes = 1
		return nil
	case CircuitHalfOpen:
		if c.probes >= cb.config.HalfOpenMaxRequests {
			return ErrCircuitOpen
		}
		c.probes++
		return nil
	default:
		return nil
	}
}

// RecordSuccess closes the circuit for host.
func (cb *CircuitBreaker) RecordSuccess(host string) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(host)
	c.state = CircuitClosed
	c.consecutiveErrors = 0
	c.probes = 0
}

// RecordFailure counts a transient failure for host, opening the circuit at the threshold.
func (cb *CircuitBreaker) RecordFailure(host string, err error) {
	if cb == nil {
		return
	}
	if cb.config.IsTransientError != nil && !cb.config.IsTransientError(err) {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(host)
	c.consecutiveErrors++
	if c.state == CircuitHalfOpen || c.consecutiveErrors >= cb.config.FailureThreshold {
		c.state = CircuitOpen
		c.openedAt = time.Now()
		c.probes = 0
	}
}

// State reports the current state for host.
func (cb *CircuitBreaker) State(host string) CircuitState {
	if cb == nil {
		return CircuitClosed
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c, ok := cb.circuits[host]
	if !ok {
		return CircuitClosed
	}
	if c.state == CircuitOpen && time.Since(c.openedAt) >= cb.config.RecoveryTimeout {
		return CircuitHalfOpen
	}
	return c.state
}

// Reset forgets the circuit for host.
func (cb *CircuitBreaker) Reset(host string) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.circuits, host)
}

// get must be called with mu held.
func (cb *CircuitBreaker) get(host string) *circuit {
	c, ok := cb.circuits[host]
	if !ok {
		c = &circuit{}
		cb.circuits[host] = c
	}
	return c
}

// IsTransientHTTPError reports whether err should count against a circuit.
// Rate limits, 5xx and network errors do; other 4xx responses and caller
// cancellation don't.
func IsTransientHTTPError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}
	return true
}
