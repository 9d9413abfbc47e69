package upstream

import (
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means requests pass through normally.
	StateClosed State = iota
	// StateOpen means requests fail fast without any I/O.
	StateOpen
	// StateHalfOpen means a single probe is testing recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
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

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before
	// the circuit opens.
	// Default: 5
	FailureThreshold int

	// Cooldown is how long the circuit stays open before allowing a
	// half-open probe.
	// Default: 5 minutes
	Cooldown time.Duration

	// OnStateChange is called when the circuit state changes.
	OnStateChange func(from, to State)

	// Now returns the current time.
	// Default: time.Now
	Now func() time.Time
}

// CircuitBreaker isolates a failing upstream target. It tracks consecutive
// failures reported by callers and never inspects error values itself.
//
// One breaker exists per upstream target; all strategies share it.
type CircuitBreaker struct {
	config BreakerConfig

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	probing             bool
}

// BreakerStats is a snapshot of the circuit breaker state.
type BreakerStats struct {
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
}

// NewCircuitBreaker creates a new circuit breaker in the closed state.
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	// Apply defaults
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 5 * time.Minute
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Allow reports whether a request may proceed. The returned boolean is
// true when the caller holds the single half-open probe slot and must
// resolve it via ReportSuccess, ReportFailure, or ReleaseProbe.
//
// While open and within the cooldown, Allow fails fast with
// ErrCircuitOpen. The first caller after the cooldown elapses claims the
// probe; concurrent callers are blocked until the probe resolves.
func (cb *CircuitBreaker) Allow() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.config.Now().Sub(cb.openedAt) < cb.config.Cooldown {
			return false, ErrCircuitOpen
		}
		cb.setStateLocked(StateHalfOpen)
		cb.probing = true
		return true, nil

	case StateHalfOpen:
		if cb.probing {
			return false, ErrCircuitOpen
		}
		cb.probing = true
		return true, nil
	}

	return false, nil
}

// ReportSuccess records a successful outcome. It resets the consecutive
// failure count and, if a probe was in flight, closes the circuit.
func (cb *CircuitBreaker) ReportSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	if cb.state == StateHalfOpen {
		cb.probing = false
		cb.openedAt = time.Time{}
		cb.setStateLocked(StateClosed)
	}
}

// ReportFailure records a failed outcome. Crossing the failure threshold
// while closed, or failing a half-open probe, opens the circuit and
// restarts the cooldown.
func (cb *CircuitBreaker) ReportFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.openedAt = cb.config.Now()
			cb.setStateLocked(StateOpen)
		}

	case StateHalfOpen:
		cb.probing = false
		cb.openedAt = cb.config.Now()
		cb.setStateLocked(StateOpen)
	}
}

// ReleaseProbe returns a claimed probe slot without recording an outcome.
// Used when a probe is cancelled before the transport call resolves.
func (cb *CircuitBreaker) ReleaseProbe() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.probing {
		cb.probing = false
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the circuit back to closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.openedAt = time.Time{}
	cb.probing = false
	if cb.state != StateClosed {
		cb.setStateLocked(StateClosed)
	}
}

// Stats returns a snapshot of the breaker state.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return BreakerStats{
		State:               cb.state,
		ConsecutiveFailures: cb.consecutiveFailures,
		OpenedAt:            cb.openedAt,
	}
}

func (cb *CircuitBreaker) setStateLocked(state State) {
	old := cb.state
	cb.state = state
	if old != state && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(old, state)
	}
}
