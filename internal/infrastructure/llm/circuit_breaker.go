package llm

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, reject calls
	CircuitHalfOpen                     // Testing recovery
)

// String returns a human-readable label for the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds the tunable thresholds for a circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures to trip (default 5)
	SuccessThreshold int           // consecutive half-open successes to close (default 2)
	RecoveryTimeout  time.Duration // open window before probing (default 60s)
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	return c
}

// CircuitBreaker implements a per-provider circuit breaker. Consecutive
// failures beyond the threshold open the circuit; calls then fail fast
// without hitting the provider. After the recovery timeout the circuit
// transitions to half-open and admits probe calls until either
// SuccessThreshold consecutive successes close it or one failure reopens
// it for another full window.
type CircuitBreaker struct {
	mu           sync.RWMutex
	cfg          BreakerConfig
	state        CircuitState
	failureCount int
	successCount int
	openUntil    time.Time
}

// NewCircuitBreaker creates a circuit breaker in the closed state.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:   cfg.withDefaults(),
		state: CircuitClosed,
	}
}

// Allow checks whether a request should be admitted.
// Returns true if the circuit is closed or half-open (probe allowed).
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Now().After(cb.openUntil) {
			cb.state = CircuitHalfOpen
			cb.successCount = 0
			return true // Admit one probe
		}
		return false
	case CircuitHalfOpen:
		return true
	}
	return false
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	if cb.state == CircuitHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.state = CircuitClosed
			cb.successCount = 0
		}
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++

	if cb.state == CircuitHalfOpen {
		// Any failure in half-open immediately re-opens for a full window
		cb.state = CircuitOpen
		cb.openUntil = time.Now().Add(cb.cfg.RecoveryTimeout)
		return
	}

	if cb.failureCount >= cb.cfg.FailureThreshold {
		cb.state = CircuitOpen
		cb.openUntil = time.Now().Add(cb.cfg.RecoveryTimeout)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forces the circuit back to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failureCount = 0
	cb.successCount = 0
}

// BreakerRegistry holds one breaker per provider identifier, created
// lazily on first use. Breakers live for the process lifetime.
type BreakerRegistry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*CircuitBreaker
}

// NewBreakerRegistry creates an empty registry with shared thresholds.
func NewBreakerRegistry(cfg BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		cfg:      cfg.withDefaults(),
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for the given provider, creating it if needed.
func (r *BreakerRegistry) Get(provider string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[provider]
	if !ok {
		cb = NewCircuitBreaker(r.cfg)
		r.breakers[provider] = cb
	}
	return cb
}

// States returns a snapshot of every known breaker's state, keyed by
// provider identifier. Used by the readiness endpoint.
func (r *BreakerRegistry) States() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.State().String()
	}
	return out
}
