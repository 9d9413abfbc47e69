package upstream

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// RateLimiterConfig configures the dual sliding-window rate limiter.
type RateLimiterConfig struct {
	// PerMinute is the admission ceiling for the minute window.
	// Default: 10
	PerMinute int

	// PerHour is the admission ceiling for the hour window.
	// Default: 100
	PerHour int

	// MinuteWindow is the duration of the short window.
	// Default: 1 minute
	MinuteWindow time.Duration

	// HourWindow is the duration of the long window.
	// Default: 1 hour
	HourWindow time.Duration

	// JitterMin is the lower bound of the post-admission delay.
	// Default: 1 second
	JitterMin time.Duration

	// JitterMax is the upper bound of the post-admission delay.
	// A negative value disables the post-admission delay entirely.
	// Default: 5 seconds
	JitterMax time.Duration

	// Now returns the current time.
	// Default: time.Now
	Now func() time.Time

	// Rand is the randomness source for the post-admission jitter.
	// Default: the shared math/rand/v2 source.
	Rand *rand.Rand
}

// RateLimiter admits requests through two sliding-window logs, one per
// minute and one per hour. A request is admitted only when both windows
// have capacity; admission records a timestamp in each.
type RateLimiter struct {
	config RateLimiterConfig

	mu     sync.Mutex
	minute []time.Time
	hour   []time.Time
}

// WindowOccupancy reports how full each admission window currently is.
type WindowOccupancy struct {
	Minute      int
	MinuteLimit int
	Hour        int
	HourLimit   int
}

// NewRateLimiter creates a new sliding-window rate limiter.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	// Apply defaults
	if config.PerMinute <= 0 {
		config.PerMinute = 10
	}
	if config.PerHour <= 0 {
		config.PerHour = 100
	}
	if config.MinuteWindow <= 0 {
		config.MinuteWindow = time.Minute
	}
	if config.HourWindow <= 0 {
		config.HourWindow = time.Hour
	}
	if config.JitterMin <= 0 {
		config.JitterMin = time.Second
	}
	if config.JitterMax == 0 {
		config.JitterMax = 5 * time.Second
	}
	if config.JitterMax > 0 && config.JitterMax < config.JitterMin {
		config.JitterMax = config.JitterMin
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &RateLimiter{config: config}
}

// TryAcquire attempts a non-blocking admission. On success it records the
// admission timestamp in both windows and returns true. On failure it
// returns false and the time until the binding window frees a slot.
func (rl *RateLimiter) TryAcquire() (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.config.Now()
	rl.pruneLocked(now)

	if len(rl.minute) < rl.config.PerMinute && len(rl.hour) < rl.config.PerHour {
		rl.minute = append(rl.minute, now)
		rl.hour = append(rl.hour, now)
		return true, 0
	}

	var wait time.Duration
	if len(rl.minute) >= rl.config.PerMinute {
		wait = rl.minute[0].Add(rl.config.MinuteWindow).Sub(now)
	}
	if len(rl.hour) >= rl.config.PerHour {
		if w := rl.hour[0].Add(rl.config.HourWindow).Sub(now); w > wait {
			wait = w
		}
	}
	if wait <= 0 {
		wait = time.Millisecond
	}
	return false, wait
}

// Acquire blocks until both windows admit the caller, then sleeps the
// post-admission jitter. A deadline expiring while waiting for a slot
// returns ErrRateLimitWaitTimeout; explicit cancellation returns
// ErrCancelled.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	for {
		ok, wait := rl.TryAcquire()
		if ok {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %v", ErrRateLimitWaitTimeout, ctx.Err())
			}
			return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	if delay := rl.jitterDelay(); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		case <-timer.C:
		}
	}
	return nil
}

// Occupancy returns the current fill of both windows after pruning.
func (rl *RateLimiter) Occupancy() WindowOccupancy {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.pruneLocked(rl.config.Now())
	return WindowOccupancy{
		Minute:      len(rl.minute),
		MinuteLimit: rl.config.PerMinute,
		Hour:        len(rl.hour),
		HourLimit:   rl.config.PerHour,
	}
}

// pruneLocked drops timestamps that have aged out of each window.
func (rl *RateLimiter) pruneLocked(now time.Time) {
	minuteCutoff := now.Add(-rl.config.MinuteWindow)
	for len(rl.minute) > 0 && !rl.minute[0].After(minuteCutoff) {
		rl.minute = rl.minute[1:]
	}

	hourCutoff := now.Add(-rl.config.HourWindow)
	for len(rl.hour) > 0 && !rl.hour[0].After(hourCutoff) {
		rl.hour = rl.hour[1:]
	}
}

func (rl *RateLimiter) jitterDelay() time.Duration {
	if rl.config.JitterMax < 0 {
		return 0
	}

	span := rl.config.JitterMax - rl.config.JitterMin
	if span <= 0 {
		return rl.config.JitterMin
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	var n int64
	if rl.config.Rand != nil {
		n = rl.config.Rand.Int64N(int64(span))
	} else {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		n = rand.Int64N(int64(span))
	}
	return rl.config.JitterMin + time.Duration(n)
}
