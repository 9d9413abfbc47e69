package upstream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mediaforge/upstream/identity"
	"github.com/mediaforge/upstream/observe"
)

// Request identifies what to fetch from the upstream target. The core
// never builds network requests itself; the request is handed opaquely to
// the caller-supplied transport.
type Request struct {
	// Resource is the provider-specific resource identifier.
	Resource string

	// Params carries additional request parameters for the transport.
	Params map[string]string
}

// Response is the payload returned by the transport on success.
type Response struct {
	Body        []byte
	ContentType string
	Meta        map[string]string
}

// Result is the terminal outcome of a successful fetch.
type Result struct {
	Response *Response

	// Strategy is the name of the strategy that served the fetch.
	Strategy string

	// Identity is the identity the winning attempt was issued.
	Identity identity.Identity

	// OpID is the per-fetch operation ID threaded through telemetry.
	OpID string

	// Attempts is the number of transport attempts consumed.
	Attempts int64

	// Duration is the total wall time of the fetch.
	Duration time.Duration
}

// TransportFunc performs one raw request against the upstream using the
// given identity and strategy profile. Implementations should honor ctx
// and classify failures by returning a *TransportError.
type TransportFunc func(ctx context.Context, req Request, id identity.Identity, profile map[string]string) (*Response, error)

// ClientConfig configures the resilient client.
type ClientConfig struct {
	// Target names the upstream target for telemetry and stats.
	// Default: "upstream"
	Target string

	// RateLimit configures the dual sliding-window rate limiter.
	RateLimit RateLimiterConfig

	// Breaker configures the shared circuit breaker.
	Breaker BreakerConfig

	// Retry configures per-attempt backoff within one strategy.
	Retry RetryConfig

	// Cooldown configures the operation-level cooldown escalator.
	Cooldown CooldownConfig

	// AttemptTimeout is the deadline for each transport attempt.
	// Default: 30 seconds
	AttemptTimeout time.Duration

	// Strategies is the ordered fallback chain.
	// Default: a single "default" strategy.
	Strategies []Strategy

	// MaxInFlight caps concurrent fetches when positive.
	// Default: 0 (no cap)
	MaxInFlight int

	// InFlightWait is how long a fetch waits for an in-flight slot
	// before failing with ErrTooManyInFlight.
	// Default: 0 (reject immediately)
	InFlightWait time.Duration

	// Identity supplies a fresh identity per transport attempt.
	// Default: a RotatingProvider with default settings.
	Identity identity.Provider

	// Observer enables telemetry. Nil means all telemetry is no-op.
	Observer observe.Observer
}

// Client is the orchestrating entry point. It composes the rate limiter,
// circuit breaker, retry policy, strategy chain, and cooldown escalator
// behind one Fetch call, so callers never handle retry, throttling, or
// failover themselves.
//
// One Client instance is shared by all workers hitting the same upstream
// target.
type Client struct {
	config    ClientConfig
	transport TransportFunc

	limiter  *RateLimiter
	breaker  *CircuitBreaker
	retry    *Retry
	timeout  *Timeout
	chain    *StrategyChain
	cooldown *Cooldown
	bulkhead *Bulkhead // nil when MaxInFlight is 0

	ids identity.Provider
	ins *observe.Instrumentation
}

// Stats is the observability snapshot exposed for dashboards.
type Stats struct {
	Target        string
	Circuit       BreakerStats
	Strategies    []StrategyStats
	Cooldown      CooldownStats
	RateOccupancy WindowOccupancy
	Bulkhead      BulkheadStats
}

// NewClient creates a resilient client around the given transport.
func NewClient(config ClientConfig, transport TransportFunc) (*Client, error) {
	if transport == nil {
		return nil, ErrNilTransport
	}

	// Apply defaults
	if config.Target == "" {
		config.Target = "upstream"
	}

	c := &Client{
		config:    config,
		transport: transport,
	}

	ins, err := observe.NewInstrumentation(config.Observer)
	if err != nil {
		return nil, err
	}
	c.ins = ins

	breakerCfg := config.Breaker
	userStateChange := breakerCfg.OnStateChange
	breakerCfg.OnStateChange = func(from, to State) {
		c.ins.RecordCircuitTransition(context.Background(), c.config.Target, from.String(), to.String())
		if userStateChange != nil {
			userStateChange(from, to)
		}
	}

	c.limiter = NewRateLimiter(config.RateLimit)
	c.breaker = NewCircuitBreaker(breakerCfg)
	c.retry = NewRetry(config.Retry)
	c.timeout = NewTimeout(TimeoutConfig{Timeout: config.AttemptTimeout})
	c.chain = NewStrategyChain(config.Strategies, c.breaker)
	c.cooldown = NewCooldown(config.Cooldown)

	if config.MaxInFlight > 0 {
		c.bulkhead = NewBulkhead(BulkheadConfig{
			MaxInFlight: config.MaxInFlight,
			MaxWait:     config.InFlightWait,
		})
	}

	if config.Identity != nil {
		c.ids = config.Identity
	} else {
		provider, err := identity.NewRotatingProvider(identity.Config{})
		if err != nil {
			return nil, err
		}
		c.ids = provider
	}

	return c, nil
}

// Fetch performs one resilient request. It blocks for rate limiting,
// fails fast when the circuit is open, walks the strategy chain with
// per-attempt retries, and paces the caller through the cooldown
// escalator after total exhaustion. Exactly one terminal Result or error
// is returned per call.
func (c *Client) Fetch(ctx context.Context, req Request) (*Result, error) {
	opID := uuid.NewString()
	meta := observe.FetchMeta{
		Target:   c.config.Target,
		Resource: req.Resource,
		OpID:     opID,
	}

	ctx, span := c.ins.StartFetch(ctx, meta)
	start := time.Now()
	var attempts atomic.Int64

	result, err := c.fetch(ctx, req, &attempts)
	duration := time.Since(start)

	if result != nil {
		result.OpID = opID
		result.Attempts = attempts.Load()
		result.Duration = duration
		meta.Strategy = result.Strategy
	}

	c.ins.EndFetch(span, err)
	c.ins.RecordFetch(ctx, meta, duration, attempts.Load(), err)
	return result, err
}

func (c *Client) fetch(ctx context.Context, req Request, attempts *atomic.Int64) (*Result, error) {
	if c.bulkhead != nil {
		if err := c.bulkhead.Acquire(ctx); err != nil {
			return nil, err
		}
		defer c.bulkhead.Release()
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	probe, err := c.breaker.Allow()
	if err != nil {
		c.cooldown.RecordFailure()
		return nil, err
	}

	var (
		resp     *Response
		winner   Strategy
		winnerID identity.Identity
	)

	chainErr := c.chain.TryAll(ctx, func(ctx context.Context, s Strategy) error {
		return c.retry.Run(ctx, func(ctx context.Context) error {
			id, err := c.ids.Next(ctx)
			if err != nil {
				return err
			}
			attempts.Add(1)

			// The transport goroutine writes only this attempt's local.
			// A timed-out attempt is abandoned by Execute and may still
			// be running; it must never touch the shared result slots,
			// which are assigned here only after Execute returns nil
			// (the result channel receive orders the goroutine's write).
			var r *Response
			if err := c.timeout.Execute(ctx, func(ctx context.Context) error {
				got, err := c.transport(ctx, req, id, s.Profile)
				if err != nil {
					return err
				}
				r = got
				return nil
			}); err != nil {
				return err
			}

			resp = r
			winner = s
			winnerID = id
			return nil
		})
	})

	if chainErr == nil {
		c.cooldown.Reset()
		return &Result{
			Response: resp,
			Strategy: winner.Name,
			Identity: winnerID,
		}, nil
	}

	if errors.Is(chainErr, ErrCancelled) || errors.Is(chainErr, context.Canceled) {
		// The chain recorded no outcome; a claimed probe slot must be
		// handed back so the next caller can probe.
		if probe {
			c.breaker.ReleaseProbe()
		}
		if !errors.Is(chainErr, ErrCancelled) {
			chainErr = fmt.Errorf("%w: %v", ErrCancelled, chainErr)
		}
		return nil, chainErr
	}

	c.cooldown.RecordFailure()
	c.sleepCooldown(ctx)
	return nil, chainErr
}

// sleepCooldown paces the caller after a terminal failure. Cancellation
// aborts the sleep; the fetch outcome is already decided either way.
func (c *Client) sleepCooldown(ctx context.Context) {
	delay := c.cooldown.Current()
	if delay <= 0 {
		return
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Stats returns a snapshot of every shared counter the client owns.
func (c *Client) Stats() Stats {
	stats := Stats{
		Target:        c.config.Target,
		Circuit:       c.breaker.Stats(),
		Strategies:    c.chain.Stats(),
		Cooldown:      c.cooldown.Stats(),
		RateOccupancy: c.limiter.Occupancy(),
	}
	if c.bulkhead != nil {
		stats.Bulkhead = c.bulkhead.Stats()
	}
	return stats
}
