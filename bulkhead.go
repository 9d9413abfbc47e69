package upstream

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// BulkheadConfig configures the in-flight fetch cap.
type BulkheadConfig struct {
	// MaxInFlight is the maximum number of concurrent fetches.
	// Default: 10
	MaxInFlight int

	// MaxWait is how long to wait for a slot before rejecting.
	// Default: 0 (reject immediately)
	MaxWait time.Duration
}

// Bulkhead caps concurrent fetches so a stalled upstream cannot absorb
// every worker goroutine sharing one client.
type Bulkhead struct {
	config BulkheadConfig
	slots  chan struct{}

	mu       sync.Mutex
	inFlight int
	peak     int
	rejected int64
}

// BulkheadStats is a snapshot of bulkhead occupancy.
type BulkheadStats struct {
	InFlight    int
	Peak        int
	MaxInFlight int
	Rejected    int64
}

// NewBulkhead creates a new in-flight cap.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	// Apply defaults
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = 10
	}

	return &Bulkhead{
		config: config,
		slots:  make(chan struct{}, config.MaxInFlight),
	}
}

// Acquire claims an in-flight slot, waiting up to MaxWait when the cap is
// reached. Returns ErrTooManyInFlight when no slot frees in time.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	select {
	case b.slots <- struct{}{}:
		b.claimed()
		return nil
	default:
	}

	if b.config.MaxWait <= 0 {
		b.reject()
		return ErrTooManyInFlight
	}

	timer := time.NewTimer(b.config.MaxWait)
	defer timer.Stop()

	select {
	case b.slots <- struct{}{}:
		b.claimed()
		return nil
	case <-timer.C:
		b.reject()
		return ErrTooManyInFlight
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
}

// Release frees an in-flight slot.
func (b *Bulkhead) Release() {
	select {
	case <-b.slots:
		b.mu.Lock()
		b.inFlight--
		b.mu.Unlock()
	default:
	}
}

// Stats returns a snapshot of bulkhead occupancy.
func (b *Bulkhead) Stats() BulkheadStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BulkheadStats{
		InFlight:    b.inFlight,
		Peak:        b.peak,
		MaxInFlight: b.config.MaxInFlight,
		Rejected:    b.rejected,
	}
}

func (b *Bulkhead) claimed() {
	b.mu.Lock()
	b.inFlight++
	if b.inFlight > b.peak {
		b.peak = b.inFlight
	}
	b.mu.Unlock()
}

func (b *Bulkhead) reject() {
	b.mu.Lock()
	b.rejected++
	b.mu.Unlock()
}
