package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TimeoutConfig configures the per-attempt deadline wrapper.
type TimeoutConfig struct {
	// Timeout is the maximum duration for a single transport attempt.
	// Default: 30 seconds
	Timeout time.Duration
}

// Timeout runs each transport attempt under an explicit deadline. An
// attempt exceeding it fails with ErrAttemptTimeout, which the default
// classifier treats as retryable; a caller deadline or cancellation
// propagates instead of being retried.
type Timeout struct {
	config TimeoutConfig
}

// NewTimeout creates a new attempt-timeout wrapper.
func NewTimeout(config TimeoutConfig) *Timeout {
	// Apply defaults
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Timeout{config: config}
}

// Execute runs op under the attempt deadline.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(attemptCtx)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w after %v", ErrAttemptTimeout, t.config.Timeout)
		}
		return err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		return fmt.Errorf("%w after %v", ErrAttemptTimeout, t.config.Timeout)
	}
}

// Config returns the timeout configuration.
func (t *Timeout) Config() TimeoutConfig {
	return t.config
}
