package upstream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mediaforge/upstream/identity"
)

// stubIdentities issues sequentially numbered identities with no minting
// or relay logic behind them.
func stubIdentities() identity.Provider {
	var n atomic.Int64
	return identity.ProviderFunc(func(ctx context.Context) (identity.Identity, error) {
		return identity.Identity{
			Fingerprint: "test-agent/1.0",
			Serial:      fmt.Sprintf("stub-%d", n.Add(1)),
			IssuedAt:    time.Now(),
		}, nil
	})
}

// testClientConfig keeps every pacing knob tiny so tests never sleep for
// more than a few milliseconds.
func testClientConfig() ClientConfig {
	return ClientConfig{
		Target: "test-upstream",
		RateLimit: RateLimiterConfig{
			PerMinute: 1000,
			PerHour:   10000,
			JitterMax: -1,
		},
		Retry: RetryConfig{
			MaxAttempts: 1,
			BaseDelay:   time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
		},
		Cooldown: CooldownConfig{
			Base:        time.Millisecond,
			MaxExponent: 3,
		},
		AttemptTimeout: time.Second,
		Identity:       stubIdentities(),
	}
}

func TestNewClient_NilTransport(t *testing.T) {
	_, err := NewClient(testClientConfig(), nil)
	if !errors.Is(err, ErrNilTransport) {
		t.Errorf("NewClient(nil transport) error = %v, want ErrNilTransport", err)
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(ClientConfig{RateLimit: RateLimiterConfig{JitterMax: -1}},
		func(ctx context.Context, req Request, id identity.Identity, profile map[string]string) (*Response, error) {
			return &Response{Body: []byte("ok")}, nil
		})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if c.config.Target != "upstream" {
		t.Errorf("Target = %q, want upstream", c.config.Target)
	}
	if c.ids == nil {
		t.Error("identity provider = nil, want rotating default")
	}
	if c.bulkhead != nil {
		t.Error("bulkhead != nil, want no cap by default")
	}

	// The default rotating provider mints identities locally, so a fetch
	// works without any explicit identity wiring.
	result, err := c.Fetch(context.Background(), Request{Resource: "vid123"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if result.Identity.Serial == "" {
		t.Error("Identity.Serial empty, want issued serial")
	}
}

func TestClient_FetchSuccess(t *testing.T) {
	cfg := testClientConfig()
	cfg.Strategies = []Strategy{{Name: "web", Priority: 0}}

	calls := 0
	c, err := NewClient(cfg, func(ctx context.Context, req Request, id identity.Identity, profile map[string]string) (*Response, error) {
		calls++
		if req.Resource != "vid123" {
			t.Errorf("transport resource = %q, want vid123", req.Resource)
		}
		return &Response{Body: []byte("media"), ContentType: "video/mp4"}, nil
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	result, err := c.Fetch(context.Background(), Request{Resource: "vid123"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if calls != 1 {
		t.Errorf("transport calls = %d, want 1", calls)
	}
	if string(result.Response.Body) != "media" {
		t.Errorf("Body = %q, want media", result.Response.Body)
	}
	if result.Strategy != "web" {
		t.Errorf("Strategy = %q, want web", result.Strategy)
	}
	if result.OpID == "" {
		t.Error("OpID empty, want per-fetch operation ID")
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
	if result.Identity.Serial != "stub-1" {
		t.Errorf("Identity.Serial = %q, want stub-1", result.Identity.Serial)
	}
}

func TestClient_StrategyFallback(t *testing.T) {
	cfg := testClientConfig()
	cfg.Strategies = []Strategy{
		{Name: "web", Priority: 0, Profile: map[string]string{"client": "web"}},
		{Name: "android", Priority: 1, Profile: map[string]string{"client": "android"}},
		{Name: "ios", Priority: 2, Profile: map[string]string{"client": "ios"}},
	}

	var tried []string
	c, err := NewClient(cfg, func(ctx context.Context, req Request, id identity.Identity, profile map[string]string) (*Response, error) {
		client := profile["client"]
		tried = append(tried, client)
		if client != "ios" {
			return nil, NewTransportError(FailureBlocked, errors.New(client+" fingerprint rejected"))
		}
		return &Response{Body: []byte("media")}, nil
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	result, err := c.Fetch(context.Background(), Request{Resource: "vid123"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if result.Strategy != "ios" {
		t.Errorf("Strategy = %q, want ios", result.Strategy)
	}
	if len(tried) != 3 || tried[0] != "web" || tried[1] != "android" || tried[2] != "ios" {
		t.Errorf("tried = %v, want [web android ios]", tried)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}

	// Chain success resets the shared breaker and the cooldown escalator.
	stats := c.Stats()
	if stats.Circuit.ConsecutiveFailures != 0 {
		t.Errorf("Circuit.ConsecutiveFailures = %d, want 0", stats.Circuit.ConsecutiveFailures)
	}
	if stats.Cooldown.ConsecutiveFailures != 0 {
		t.Errorf("Cooldown.ConsecutiveFailures = %d, want 0", stats.Cooldown.ConsecutiveFailures)
	}
}

func TestClient_RetriesWithinStrategy(t *testing.T) {
	cfg := testClientConfig()
	cfg.Retry.MaxAttempts = 3
	cfg.Strategies = []Strategy{{Name: "web", Priority: 0}}

	calls := 0
	c, err := NewClient(cfg, func(ctx context.Context, req Request, id identity.Identity, profile map[string]string) (*Response, error) {
		calls++
		if calls < 3 {
			return nil, NewTransportError(FailureTransient, errors.New("connection reset"))
		}
		return &Response{Body: []byte("media")}, nil
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	result, err := c.Fetch(context.Background(), Request{Resource: "vid123"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if calls != 3 {
		t.Errorf("transport calls = %d, want 3", calls)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
	// Each attempt gets a fresh identity; the result carries the winner's.
	if result.Identity.Serial != "stub-3" {
		t.Errorf("Identity.Serial = %q, want stub-3", result.Identity.Serial)
	}
}

func TestClient_ExhaustionAggregatesFailures(t *testing.T) {
	cfg := testClientConfig()
	cfg.Strategies = []Strategy{
		{Name: "web", Priority: 0},
		{Name: "android", Priority: 1},
	}

	c, err := NewClient(cfg, func(ctx context.Context, req Request, id identity.Identity, profile map[string]string) (*Response, error) {
		return nil, NewTransportError(FailureServer, errors.New("internal error"))
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	_, err = c.Fetch(context.Background(), Request{Resource: "vid123"})
	if !errors.Is(err, ErrStrategiesExhausted) {
		t.Fatalf("Fetch() error = %v, want ErrStrategiesExhausted", err)
	}

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Fetch() error type = %T, want *ExhaustedError", err)
	}
	if len(exhausted.Failures) != 2 {
		t.Errorf("aggregated failures = %d, want 2", len(exhausted.Failures))
	}

	// Total exhaustion counts once against the operation cooldown.
	stats := c.Stats()
	if stats.Cooldown.ConsecutiveFailures != 1 {
		t.Errorf("Cooldown.ConsecutiveFailures = %d, want 1", stats.Cooldown.ConsecutiveFailures)
	}
}

func TestClient_CooldownEscalatesAcrossFetches(t *testing.T) {
	cfg := testClientConfig()
	cfg.Strategies = []Strategy{{Name: "web", Priority: 0}}

	c, err := NewClient(cfg, func(ctx context.Context, req Request, id identity.Identity, profile map[string]string) (*Response, error) {
		return nil, NewTransportError(FailureServer, errors.New("internal error"))
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := c.Fetch(context.Background(), Request{Resource: "vid123"}); err == nil {
			t.Fatalf("fetch %d: error = nil, want failure", i+1)
		}
	}

	stats := c.Stats()
	if stats.Cooldown.ConsecutiveFailures != 3 {
		t.Errorf("Cooldown.ConsecutiveFailures = %d, want 3", stats.Cooldown.ConsecutiveFailures)
	}
	// Base 1ms doubled three times.
	if stats.Cooldown.Current != 8*time.Millisecond {
		t.Errorf("Cooldown.Current = %v, want 8ms", stats.Cooldown.Current)
	}
}

func TestClient_CircuitOpenFailsFast(t *testing.T) {
	cfg := testClientConfig()
	cfg.Breaker = BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour}
	cfg.Strategies = []Strategy{{Name: "web", Priority: 0}}

	calls := 0
	c, err := NewClient(cfg, func(ctx context.Context, req Request, id identity.Identity, profile map[string]string) (*Response, error) {
		calls++
		return nil, NewTransportError(FailureServer, errors.New("internal error"))
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	// First fetch opens the circuit.
	_, err = c.Fetch(context.Background(), Request{Resource: "vid123"})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Fetch() error = %v, want ErrCircuitOpen", err)
	}
	if calls != 1 {
		t.Fatalf("transport calls = %d, want 1", calls)
	}

	// Subsequent fetches fail without touching the transport, and each
	// fast-fail still counts against the cooldown escalator.
	_, err = c.Fetch(context.Background(), Request{Resource: "vid123"})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Fetch() while open error = %v, want ErrCircuitOpen", err)
	}
	if calls != 1 {
		t.Errorf("transport calls = %d, want 1 (no I/O while open)", calls)
	}

	stats := c.Stats()
	if stats.Circuit.State != StateOpen {
		t.Errorf("Circuit.State = %v, want open", stats.Circuit.State)
	}
	if stats.Cooldown.ConsecutiveFailures != 2 {
		t.Errorf("Cooldown.ConsecutiveFailures = %d, want 2", stats.Cooldown.ConsecutiveFailures)
	}
}

func TestClient_AbandonedAttemptNeverLeaksResult(t *testing.T) {
	cfg := testClientConfig()
	cfg.Retry.MaxAttempts = 2
	cfg.AttemptTimeout = 5 * time.Millisecond
	cfg.Strategies = []Strategy{{Name: "web", Priority: 0}}

	// The first transport call ignores its context, outlives the attempt
	// deadline, and eventually returns a success. That goroutine has been
	// abandoned by then; its late result must neither reach the caller
	// nor race with the winning attempt.
	var calls atomic.Int32
	c, err := NewClient(cfg, func(ctx context.Context, req Request, id identity.Identity, profile map[string]string) (*Response, error) {
		if calls.Add(1) == 1 {
			time.Sleep(30 * time.Millisecond)
			return &Response{Body: []byte("stale")}, nil
		}
		return &Response{Body: []byte("fresh")}, nil
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	result, err := c.Fetch(context.Background(), Request{Resource: "vid123"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if string(result.Response.Body) != "fresh" {
		t.Errorf("Body = %q, want fresh (stale attempt must not win)", result.Response.Body)
	}
	if result.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", result.Attempts)
	}

	// Let the abandoned goroutine finish inside the test so the race
	// detector sees its late write overlap the assertions above.
	time.Sleep(50 * time.Millisecond)
	if string(result.Response.Body) != "fresh" {
		t.Errorf("Body = %q after stale attempt returned, want fresh", result.Response.Body)
	}
}

func TestClient_CancelledProbeReleased(t *testing.T) {
	clock := newFakeClock()
	cfg := testClientConfig()
	cfg.Breaker = BreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
		Now:              clock.Now,
	}
	cfg.Strategies = []Strategy{{Name: "web", Priority: 0}}

	// 0: fail, 1: block until cancelled, 2: succeed.
	var mode atomic.Int32
	c, err := NewClient(cfg, func(ctx context.Context, req Request, id identity.Identity, profile map[string]string) (*Response, error) {
		switch mode.Load() {
		case 0:
			return nil, NewTransportError(FailureServer, errors.New("down"))
		case 1:
			<-ctx.Done()
			return nil, ctx.Err()
		default:
			return &Response{Body: []byte("media")}, nil
		}
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	// Open the circuit, then wait out the cooldown.
	_, err = c.Fetch(context.Background(), Request{Resource: "vid123"})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Fetch() error = %v, want ErrCircuitOpen", err)
	}
	clock.Advance(time.Minute)

	// This fetch claims the half-open probe, then gets cancelled while
	// the transport is in flight.
	mode.Store(1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = c.Fetch(ctx, Request{Resource: "vid123"})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Fetch() error = %v, want ErrCancelled", err)
	}

	// The cancelled probe was handed back without an outcome.
	if got := c.breaker.State(); got != StateHalfOpen {
		t.Errorf("breaker state = %v, want half-open", got)
	}
	stats := c.Stats()
	if stats.Circuit.ConsecutiveFailures != 1 {
		t.Errorf("Circuit.ConsecutiveFailures = %d, want 1 (cancellation recorded nothing)", stats.Circuit.ConsecutiveFailures)
	}
	if stats.Strategies[0].Failures != 1 {
		t.Errorf("web failures = %d, want 1 (cancellation recorded nothing)", stats.Strategies[0].Failures)
	}

	// The probe slot is free again: the next caller claims it, and its
	// success closes the circuit.
	mode.Store(2)
	result, err := c.Fetch(context.Background(), Request{Resource: "vid123"})
	if err != nil {
		t.Fatalf("Fetch() after released probe error = %v", err)
	}
	if string(result.Response.Body) != "media" {
		t.Errorf("Body = %q, want media", result.Response.Body)
	}
	if got := c.breaker.State(); got != StateClosed {
		t.Errorf("breaker state = %v, want closed after probe success", got)
	}
}

func TestClient_CancellationSkipsCooldown(t *testing.T) {
	cfg := testClientConfig()
	cfg.Strategies = []Strategy{{Name: "web", Priority: 0}}

	c, err := NewClient(cfg, func(ctx context.Context, req Request, id identity.Identity, profile map[string]string) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = c.Fetch(ctx, Request{Resource: "vid123"})
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("Fetch() error = %v, want ErrCancelled", err)
	}

	// Cancellation is the caller's doing, not upstream weather.
	stats := c.Stats()
	if stats.Cooldown.ConsecutiveFailures != 0 {
		t.Errorf("Cooldown.ConsecutiveFailures = %d, want 0 after cancellation", stats.Cooldown.ConsecutiveFailures)
	}
	if stats.Circuit.ConsecutiveFailures != 0 {
		t.Errorf("Circuit.ConsecutiveFailures = %d, want 0 after cancellation", stats.Circuit.ConsecutiveFailures)
	}
}

func TestClient_InFlightCap(t *testing.T) {
	cfg := testClientConfig()
	cfg.MaxInFlight = 1
	cfg.Strategies = []Strategy{{Name: "web", Priority: 0}}

	release := make(chan struct{})
	started := make(chan struct{})
	c, err := NewClient(cfg, func(ctx context.Context, req Request, id identity.Identity, profile map[string]string) (*Response, error) {
		close(started)
		<-release
		return &Response{Body: []byte("media")}, nil
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.Fetch(context.Background(), Request{Resource: "vid123"})
		done <- err
	}()

	<-started
	_, err = c.Fetch(context.Background(), Request{Resource: "vid456"})
	if !errors.Is(err, ErrTooManyInFlight) {
		t.Errorf("Fetch() over cap error = %v, want ErrTooManyInFlight", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("in-flight Fetch() error = %v", err)
	}

	if got := c.Stats().Bulkhead.Rejected; got != 1 {
		t.Errorf("Bulkhead.Rejected = %d, want 1", got)
	}
}

func TestClient_NonRetryableSkipsRemainingAttempts(t *testing.T) {
	cfg := testClientConfig()
	cfg.Retry.MaxAttempts = 3
	cfg.Strategies = []Strategy{
		{Name: "web", Priority: 0},
		{Name: "android", Priority: 1},
	}

	calls := 0
	c, err := NewClient(cfg, func(ctx context.Context, req Request, id identity.Identity, profile map[string]string) (*Response, error) {
		calls++
		return nil, NewTransportError(FailureNotFound, errors.New("video gone"))
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	_, err = c.Fetch(context.Background(), Request{Resource: "vid123"})
	if !errors.Is(err, ErrStrategiesExhausted) {
		t.Errorf("Fetch() error = %v, want ErrStrategiesExhausted", err)
	}

	// One attempt per strategy: not-found is never retried, but the next
	// strategy still gets its turn.
	if calls != 2 {
		t.Errorf("transport calls = %d, want 2", calls)
	}
}

func TestClient_Stats(t *testing.T) {
	cfg := testClientConfig()
	cfg.MaxInFlight = 4
	cfg.Strategies = []Strategy{
		{Name: "web", Priority: 0},
		{Name: "ios", Priority: 1},
	}

	c, err := NewClient(cfg, func(ctx context.Context, req Request, id identity.Identity, profile map[string]string) (*Response, error) {
		return &Response{Body: []byte("media")}, nil
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if _, err := c.Fetch(context.Background(), Request{Resource: "vid123"}); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	stats := c.Stats()
	if stats.Target != "test-upstream" {
		t.Errorf("Target = %q, want test-upstream", stats.Target)
	}
	if len(stats.Strategies) != 2 {
		t.Fatalf("Strategies = %d entries, want 2", len(stats.Strategies))
	}
	if stats.Strategies[0].Successes != 1 {
		t.Errorf("web successes = %d, want 1", stats.Strategies[0].Successes)
	}
	if stats.RateOccupancy.Minute != 1 {
		t.Errorf("RateOccupancy.Minute = %d, want 1", stats.RateOccupancy.Minute)
	}
	if stats.Bulkhead.MaxInFlight != 4 {
		t.Errorf("Bulkhead.MaxInFlight = %d, want 4", stats.Bulkhead.MaxInFlight)
	}
}
