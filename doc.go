// Package upstream provides a resilient client for unreliable,
// anti-abuse-protected media providers.
//
// Callers hand the client a transport function and call Fetch; the
// client decides whether, when, and via which identity and strategy each
// attempt is made. Retry, throttling, failover, and fault isolation
// never leak to the caller.
//
// # Components
//
// The client composes five patterns around every fetch:
//
//   - Rate limiter: dual sliding-window admission control with per-minute
//     and per-hour ceilings, plus randomized post-admission jitter.
//
//   - Circuit breaker: a closed/open/half-open fault isolator shared by
//     all strategies, with a single mutually exclusive half-open probe.
//
//   - Retry: exponential backoff with jitter within one strategy attempt.
//
//   - Strategy chain: an ordered list of request-shaping profiles tried
//     until one succeeds or the circuit opens mid-chain.
//
//   - Cooldown escalator: operation-level exponential pacing after total
//     strategy exhaustion, reset on the first success.
//
// # Usage
//
//	client, err := upstream.NewClient(upstream.ClientConfig{
//	    Target: "mediahub",
//	    RateLimit: upstream.RateLimiterConfig{PerMinute: 10, PerHour: 100},
//	    Strategies: []upstream.Strategy{
//	        {Name: "web", Priority: 0, Profile: map[string]string{"surface": "web"}},
//	        {Name: "android", Priority: 1, Profile: map[string]string{"surface": "android"}},
//	    },
//	}, transport)
//	if err != nil {
//	    return err
//	}
//
//	result, err := client.Fetch(ctx, upstream.Request{Resource: "video/abc123"})
//
// All shared state is in-memory and scoped to the client instance; a
// restart clears history.
package upstream
