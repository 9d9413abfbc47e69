package upstream

import (
	"sync"
	"time"
)

// CooldownConfig configures the operation-level cooldown escalator.
type CooldownConfig struct {
	// Base is the cooldown after the first whole-operation failure.
	// Default: 30 seconds
	Base time.Duration

	// MaxExponent caps the doubling, so the cooldown never exceeds
	// Base * 2^MaxExponent.
	// Default: 5
	MaxExponent int
}

// Cooldown paces whole fetch operations after total strategy exhaustion.
// It doubles on each consecutive operation failure and resets to the base
// on the first success. This is distinct from per-attempt retry backoff:
// retry backoff lives inside one strategy attempt, the cooldown spans
// separate fetch calls.
type Cooldown struct {
	config CooldownConfig

	mu       sync.Mutex
	failures int
}

// CooldownStats is a snapshot of the escalator state.
type CooldownStats struct {
	ConsecutiveFailures int
	Current             time.Duration
}

// NewCooldown creates a new cooldown escalator at its base value.
func NewCooldown(config CooldownConfig) *Cooldown {
	// Apply defaults
	if config.Base <= 0 {
		config.Base = 30 * time.Second
	}
	if config.MaxExponent <= 0 {
		config.MaxExponent = 5
	}

	return &Cooldown{config: config}
}

// RecordFailure registers one whole-operation failure and returns the
// escalated cooldown now in effect.
func (c *Cooldown) RecordFailure() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures++
	return c.currentLocked()
}

// Reset restores the escalator to zero failures and the base cooldown.
func (c *Cooldown) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
}

// Current returns the cooldown in effect: Base * 2^min(failures, MaxExponent).
func (c *Cooldown) Current() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked()
}

// Stats returns a snapshot of the escalator state.
func (c *Cooldown) Stats() CooldownStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CooldownStats{
		ConsecutiveFailures: c.failures,
		Current:             c.currentLocked(),
	}
}

func (c *Cooldown) currentLocked() time.Duration {
	exp := c.failures
	if exp > c.config.MaxExponent {
		exp = c.config.MaxExponent
	}
	return c.config.Base << exp
}
