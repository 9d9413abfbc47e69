package upstream

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// RetryConfig configures per-attempt retry with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int

	// BaseDelay is the backoff base. The delay before retrying attempt i
	// is drawn uniformly from [BaseDelay*2^(i-1), BaseDelay*2^i], with
	// both bounds clamped to MaxDelay.
	// Default: 2 seconds
	BaseDelay time.Duration

	// MaxDelay caps the backoff delay.
	// Default: 10 seconds
	MaxDelay time.Duration

	// RetryIf determines whether an error should trigger a retry.
	// Default: Retryable
	RetryIf func(err error) bool

	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, err error, delay time.Duration)

	// Rand is the randomness source for backoff jitter.
	// Default: the shared math/rand/v2 source.
	Rand *rand.Rand
}

// Retry runs a single strategy attempt with exponential backoff between
// tries. It operates strictly within one strategy; failing over between
// strategies belongs to the StrategyChain, and pacing between whole fetch
// operations belongs to the cooldown escalator.
type Retry struct {
	config RetryConfig

	mu sync.Mutex // guards config.Rand
}

// NewRetry creates a new retry policy.
func NewRetry(config RetryConfig) *Retry {
	// Apply defaults
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 2 * time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 10 * time.Second
	}
	if config.RetryIf == nil {
		config.RetryIf = Retryable
	}

	return &Retry{config: config}
}

// Run executes op up to MaxAttempts times. A nil result returns
// immediately; a non-retryable error propagates without further attempts;
// exhaustion wraps the last error with ErrRetriesExhausted and the
// attempt count. Cancellation during a backoff sleep returns ErrCancelled.
func (r *Retry) Run(ctx context.Context, op func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.config.RetryIf(err) {
			return err
		}
		if attempt >= r.config.MaxAttempts {
			break
		}

		delay := r.delay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w: %d attempts: %w", ErrRetriesExhausted, r.config.MaxAttempts, lastErr)
}

// delay draws the backoff before retrying attempt i, uniform over
// [base*2^(i-1), base*2^i] clamped to the configured maximum.
func (r *Retry) delay(attempt int) time.Duration {
	lo := r.config.BaseDelay << (attempt - 1)
	hi := r.config.BaseDelay << attempt
	if lo > r.config.MaxDelay {
		lo = r.config.MaxDelay
	}
	if hi > r.config.MaxDelay {
		hi = r.config.MaxDelay
	}
	if hi <= lo {
		return lo
	}

	span := int64(hi - lo)
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	if r.config.Rand != nil {
		n = r.config.Rand.Int64N(span + 1)
	} else {
		// #nosec G404 -- backoff jitter is non-cryptographic.
		n = rand.Int64N(span + 1)
	}
	return lo + time.Duration(n)
}

// Config returns the retry configuration.
func (r *Retry) Config() RetryConfig {
	return r.config
}
