package health

import (
	"context"
	"fmt"

	"github.com/mediaforge/upstream"
)

// ClientCheckerConfig configures the resilient-client health checker.
type ClientCheckerConfig struct {
	// WindowWarnRatio is the minute-window fill ratio that degrades the
	// status. Value should be between 0 and 1.
	// Default: 0.9 (90%)
	WindowWarnRatio float64
}

// ClientChecker maps a resilient client's stats onto a health status:
// an open circuit is unhealthy; a half-open circuit, a nearly full
// minute window, or an escalated cooldown is degraded.
type ClientChecker struct {
	config ClientCheckerConfig
	name   string
	stats  func() upstream.Stats
}

// NewClientChecker creates a checker over the given stats source.
func NewClientChecker(name string, stats func() upstream.Stats, config ClientCheckerConfig) *ClientChecker {
	if config.WindowWarnRatio <= 0 || config.WindowWarnRatio >= 1 {
		config.WindowWarnRatio = 0.9
	}
	if name == "" {
		name = "upstream"
	}

	return &ClientChecker{
		config: config,
		name:   name,
		stats:  stats,
	}
}

// Name returns the name of this checker.
func (c *ClientChecker) Name() string {
	return c.name
}

// Check performs the health check against the current client stats.
func (c *ClientChecker) Check(ctx context.Context) Result {
	select {
	case <-ctx.Done():
		return Unhealthy("context cancelled", ctx.Err())
	default:
	}

	stats := c.stats()

	details := map[string]any{
		"target":               stats.Target,
		"circuit_state":        stats.Circuit.State.String(),
		"consecutive_failures": stats.Circuit.ConsecutiveFailures,
		"cooldown_failures":    stats.Cooldown.ConsecutiveFailures,
		"cooldown_current":     stats.Cooldown.Current.String(),
		"rate_minute":          stats.RateOccupancy.Minute,
		"rate_minute_limit":    stats.RateOccupancy.MinuteLimit,
		"rate_hour":            stats.RateOccupancy.Hour,
		"rate_hour_limit":      stats.RateOccupancy.HourLimit,
	}
	for _, s := range stats.Strategies {
		details["strategy."+s.Name] = fmt.Sprintf("ok=%d fail=%d", s.Successes, s.Failures)
	}

	switch stats.Circuit.State {
	case upstream.StateOpen:
		return Unhealthy(
			fmt.Sprintf("circuit open since %s", stats.Circuit.OpenedAt.Format("15:04:05")),
			ErrCheckFailed,
		).WithDetails(details)
	case upstream.StateHalfOpen:
		return Degraded("circuit half-open, probing recovery").WithDetails(details)
	}

	if stats.Cooldown.ConsecutiveFailures > 0 {
		return Degraded(
			fmt.Sprintf("cooldown escalated after %d operation failures", stats.Cooldown.ConsecutiveFailures),
		).WithDetails(details)
	}

	if stats.RateOccupancy.MinuteLimit > 0 {
		fill := float64(stats.RateOccupancy.Minute) / float64(stats.RateOccupancy.MinuteLimit)
		if fill >= c.config.WindowWarnRatio {
			return Degraded(
				fmt.Sprintf("minute window %.0f%% full", fill*100),
			).WithDetails(details)
		}
	}

	return Healthy("upstream client nominal").WithDetails(details)
}
