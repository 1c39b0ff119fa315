package detector

import (
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of the similarity-backend breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Backend skipped, pattern-only detection
	CircuitHalfOpen                     // Probing whether the backend recovered
)

// ErrCircuitOpen is returned when the breaker rejects a call outright.
var ErrCircuitOpen = errors.New("similarity backend circuit open")

// CircuitBreakerConfig holds breaker tuning.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures to open
	SuccessThreshold int           // consecutive half-open successes to close
	Timeout          time.Duration // wait before probing half-open
	MaxTimeout       time.Duration // backoff cap
}

// DefaultCircuitBreakerConfig is tuned for a flaky network backend: open
// fast, probe after a short pause, back off to a minute at most.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          5 * time.Second,
		MaxTimeout:       time.Minute,
	}
}

// CircuitBreaker shields the detection path from a failing similarity
// backend. Every rejection or failure degrades to pattern-only detection,
// never to an error for the caller.
type CircuitBreaker struct {
	cfg         CircuitBreakerConfig
	baseTimeout time.Duration

	mu          sync.Mutex
	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
	timeout     time.Duration
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:         cfg,
		baseTimeout: cfg.Timeout,
		timeout:     cfg.Timeout,
		state:       CircuitClosed,
	}
}

// Call executes fn through the breaker.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err == nil)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if time.Since(cb.lastFailure) > cb.timeout {
			cb.state = CircuitHalfOpen
			cb.successes = 0
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		cb.failures = 0
		cb.successes++
		if cb.state == CircuitHalfOpen && cb.successes >= cb.cfg.SuccessThreshold {
			cb.state = CircuitClosed
			cb.timeout = cb.baseTimeout
		}
		return
	}

	cb.successes = 0
	cb.failures++
	cb.lastFailure = time.Now()
	if cb.failures >= cb.cfg.FailureThreshold {
		cb.state = CircuitOpen
		// Linear backoff capped at MaxTimeout.
		next := cb.baseTimeout * time.Duration(cb.failures)
		if next > cb.cfg.MaxTimeout {
			next = cb.cfg.MaxTimeout
		}
		cb.timeout = next
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// StateName returns the human-readable state.
func (cb *CircuitBreaker) StateName() string {
	switch cb.State() {
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}
