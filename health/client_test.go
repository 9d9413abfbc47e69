package health

import (
	"context"
	"testing"
	"time"

	"github.com/mediaforge/upstream"
)

func statsSource(s upstream.Stats) func() upstream.Stats {
	return func() upstream.Stats { return s }
}

func nominalStats() upstream.Stats {
	return upstream.Stats{
		Target: "media-provider",
		Circuit: upstream.BreakerStats{
			State: upstream.StateClosed,
		},
		Strategies: []upstream.StrategyStats{
			{Name: "web", Priority: 0, Successes: 10, Failures: 1},
		},
		RateOccupancy: upstream.WindowOccupancy{
			Minute:      2,
			MinuteLimit: 10,
			Hour:        15,
			HourLimit:   100,
		},
	}
}

func TestNewClientChecker_Defaults(t *testing.T) {
	c := NewClientChecker("", statsSource(nominalStats()), ClientCheckerConfig{})

	if c.Name() != "upstream" {
		t.Errorf("Name() = %q, want upstream", c.Name())
	}
	if c.config.WindowWarnRatio != 0.9 {
		t.Errorf("WindowWarnRatio = %v, want 0.9", c.config.WindowWarnRatio)
	}
}

func TestClientChecker_Healthy(t *testing.T) {
	c := NewClientChecker("media", statsSource(nominalStats()), ClientCheckerConfig{})

	res := c.Check(context.Background())
	if res.Status != StatusHealthy {
		t.Fatalf("Status = %v, want healthy: %s", res.Status, res.Message)
	}

	if res.Details["circuit_state"] != "closed" {
		t.Errorf("circuit_state = %v, want closed", res.Details["circuit_state"])
	}
	if res.Details["target"] != "media-provider" {
		t.Errorf("target = %v, want media-provider", res.Details["target"])
	}
	if _, ok := res.Details["strategy.web"]; !ok {
		t.Error("per-strategy detail missing")
	}
}

func TestClientChecker_OpenCircuitUnhealthy(t *testing.T) {
	stats := nominalStats()
	stats.Circuit.State = upstream.StateOpen
	stats.Circuit.OpenedAt = time.Now()

	c := NewClientChecker("media", statsSource(stats), ClientCheckerConfig{})

	res := c.Check(context.Background())
	if res.Status != StatusUnhealthy {
		t.Errorf("Status = %v, want unhealthy", res.Status)
	}
}

func TestClientChecker_HalfOpenDegraded(t *testing.T) {
	stats := nominalStats()
	stats.Circuit.State = upstream.StateHalfOpen

	c := NewClientChecker("media", statsSource(stats), ClientCheckerConfig{})

	res := c.Check(context.Background())
	if res.Status != StatusDegraded {
		t.Errorf("Status = %v, want degraded", res.Status)
	}
}

func TestClientChecker_EscalatedCooldownDegraded(t *testing.T) {
	stats := nominalStats()
	stats.Cooldown.ConsecutiveFailures = 3
	stats.Cooldown.Current = 4 * time.Minute

	c := NewClientChecker("media", statsSource(stats), ClientCheckerConfig{})

	res := c.Check(context.Background())
	if res.Status != StatusDegraded {
		t.Errorf("Status = %v, want degraded", res.Status)
	}
	if res.Details["cooldown_failures"] != 3 {
		t.Errorf("cooldown_failures = %v, want 3", res.Details["cooldown_failures"])
	}
}

func TestClientChecker_FullMinuteWindowDegraded(t *testing.T) {
	stats := nominalStats()
	stats.RateOccupancy.Minute = 9

	c := NewClientChecker("media", statsSource(stats), ClientCheckerConfig{WindowWarnRatio: 0.9})

	res := c.Check(context.Background())
	if res.Status != StatusDegraded {
		t.Errorf("Status = %v, want degraded at 90%% fill", res.Status)
	}
}

func TestClientChecker_CancelledContext(t *testing.T) {
	c := NewClientChecker("media", statsSource(nominalStats()), ClientCheckerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := c.Check(ctx)
	if res.Status != StatusUnhealthy {
		t.Errorf("Status = %v, want unhealthy on cancelled context", res.Status)
	}
}
