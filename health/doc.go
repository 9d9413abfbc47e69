// Package health exposes the resilient client's state to probes and
// dashboards.
//
// The ClientChecker maps a client's stats snapshot onto a
// healthy/degraded/unhealthy status (open circuit is unhealthy, a
// half-open circuit or escalated cooldown is degraded), and the
// ProcessChecker watches the hosting process. An Aggregator fans checks
// out in parallel with a timeout, and plain net/http handlers serve the
// results.
//
// # Usage
//
//	agg := health.NewAggregator()
//	agg.Register("upstream", health.NewClientChecker("upstream", client.Stats, health.ClientCheckerConfig{}))
//	agg.Register("process", health.NewProcessChecker(health.ProcessCheckerConfig{}))
//
//	mux := http.NewServeMux()
//	health.RegisterHandlers(mux, agg, client.Stats)
//	// /healthz, /readyz, /health, /stats
package health
