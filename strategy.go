package upstream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Strategy is a named, prioritized request-shaping profile. Lower
// priority values are tried first; ties keep declaration order.
type Strategy struct {
	Name     string
	Priority int

	// Profile carries opaque request-shaping hints for the transport,
	// such as a client surface ("web", "android") or header variant.
	Profile map[string]string
}

// StrategyStats is a snapshot of one strategy's outcome counters.
type StrategyStats struct {
	Name        string
	Priority    int
	Successes   int64
	Failures    int64
	LastOutcome time.Time
}

// strategyRecord holds the mutable counters for one chain entry.
type strategyRecord struct {
	strategy    Strategy
	successes   int64
	failures    int64
	lastOutcome time.Time
}

// StrategyChain tries an ordered list of strategies until one succeeds,
// reporting every per-strategy outcome to the shared circuit breaker.
type StrategyChain struct {
	breaker *CircuitBreaker
	now     func() time.Time

	mu      sync.Mutex
	records []*strategyRecord
}

// NewStrategyChain creates a chain over the given strategies, sorted by
// ascending priority with declaration order preserved on ties. An empty
// list gets a single "default" strategy.
func NewStrategyChain(strategies []Strategy, breaker *CircuitBreaker) *StrategyChain {
	if len(strategies) == 0 {
		strategies = []Strategy{{Name: "default"}}
	}

	ordered := make([]Strategy, len(strategies))
	copy(ordered, strategies)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	records := make([]*strategyRecord, len(ordered))
	for i, s := range ordered {
		records[i] = &strategyRecord{strategy: s}
	}

	return &StrategyChain{
		breaker: breaker,
		now:     time.Now,
		records: records,
	}
}

// TryAll runs fn once per strategy in priority order and stops on the
// first success. Each failure is recorded against the strategy and
// reported to the breaker immediately; if that opens the circuit
// mid-chain, the chain aborts with ErrCircuitOpen instead of trying the
// remaining strategies. Cancellation unwinds without recording an
// outcome. Total exhaustion returns an *ExhaustedError aggregating every
// per-strategy cause.
func (sc *StrategyChain) TryAll(ctx context.Context, fn func(ctx context.Context, s Strategy) error) error {
	var failures []StrategyFailure

	for _, rec := range sc.records {
		err := fn(ctx, rec.strategy)
		if err == nil {
			sc.record(rec, true)
			sc.breaker.ReportSuccess()
			return nil
		}

		if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
			return err
		}

		sc.record(rec, false)
		sc.breaker.ReportFailure()
		failures = append(failures, StrategyFailure{Strategy: rec.strategy.Name, Err: err})

		if sc.breaker.State() == StateOpen {
			return fmt.Errorf("%w: opened after strategy %q failed", ErrCircuitOpen, rec.strategy.Name)
		}
	}

	return &ExhaustedError{Failures: failures}
}

// Stats returns a snapshot of every strategy's counters in chain order.
func (sc *StrategyChain) Stats() []StrategyStats {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	stats := make([]StrategyStats, len(sc.records))
	for i, rec := range sc.records {
		stats[i] = StrategyStats{
			Name:        rec.strategy.Name,
			Priority:    rec.strategy.Priority,
			Successes:   rec.successes,
			Failures:    rec.failures,
			LastOutcome: rec.lastOutcome,
		}
	}
	return stats
}

func (sc *StrategyChain) record(rec *strategyRecord, success bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if success {
		rec.successes++
	} else {
		rec.failures++
	}
	rec.lastOutcome = sc.now()
}
