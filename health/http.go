package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mediaforge/upstream"
)

// LivenessHandler returns an HTTP handler for liveness probes.
// This is a simple check that the service is running.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// ReadinessHandler returns an HTTP handler for readiness probes.
// This runs all health checks in the aggregator.
func ReadinessHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		results := agg.CheckAll(ctx)
		status := agg.OverallStatus(results)

		w.Header().Set("Content-Type", "text/plain")

		switch status {
		case StatusHealthy:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		case StatusDegraded:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("DEGRADED"))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("UNHEALTHY"))
		}
	}
}

// HealthResponse is the JSON response for the detailed health endpoint.
type HealthResponse struct {
	Status    string                   `json:"status"`
	Timestamp string                   `json:"timestamp"`
	Checks    map[string]CheckResponse `json:"checks,omitempty"`
}

// CheckResponse is the JSON response for a single health check.
type CheckResponse struct {
	Status   string         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// DetailedHandler returns an HTTP handler that provides detailed health information.
func DetailedHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		results := agg.CheckAll(ctx)
		status := agg.OverallStatus(results)

		response := HealthResponse{
			Status:    status.String(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    make(map[string]CheckResponse, len(results)),
		}

		for name, result := range results {
			check := CheckResponse{
				Status:   result.Status.String(),
				Message:  result.Message,
				Duration: result.Duration.String(),
				Details:  result.Details,
			}
			if result.Error != nil {
				check.Error = result.Error.Error()
			}
			response.Checks[name] = check
		}

		w.Header().Set("Content-Type", "application/json")

		switch status {
		case StatusHealthy, StatusDegraded:
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		_ = json.NewEncoder(w).Encode(response)
	}
}

// StatsResponse is the JSON dump of the resilient client's counters.
type StatsResponse struct {
	Target   string              `json:"target"`
	Circuit  CircuitStatsJSON    `json:"circuit"`
	Strategy []StrategyStatsJSON `json:"strategies"`
	Cooldown CooldownStatsJSON   `json:"cooldown"`
	Rate     RateStatsJSON       `json:"rate"`
}

// CircuitStatsJSON is the circuit breaker slice of StatsResponse.
type CircuitStatsJSON struct {
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	OpenedAt            string `json:"opened_at,omitempty"`
}

// StrategyStatsJSON is one strategy's counters in StatsResponse.
type StrategyStatsJSON struct {
	Name        string `json:"name"`
	Priority    int    `json:"priority"`
	Successes   int64  `json:"successes"`
	Failures    int64  `json:"failures"`
	LastOutcome string `json:"last_outcome,omitempty"`
}

// CooldownStatsJSON is the escalator slice of StatsResponse.
type CooldownStatsJSON struct {
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Current             string `json:"current"`
}

// RateStatsJSON is the window occupancy slice of StatsResponse.
type RateStatsJSON struct {
	Minute      int `json:"minute"`
	MinuteLimit int `json:"minute_limit"`
	Hour        int `json:"hour"`
	HourLimit   int `json:"hour_limit"`
}

// StatsHandler returns an HTTP handler dumping the client stats snapshot
// for dashboards.
func StatsHandler(stats func() upstream.Stats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := stats()

		response := StatsResponse{
			Target: s.Target,
			Circuit: CircuitStatsJSON{
				State:               s.Circuit.State.String(),
				ConsecutiveFailures: s.Circuit.ConsecutiveFailures,
			},
			Cooldown: CooldownStatsJSON{
				ConsecutiveFailures: s.Cooldown.ConsecutiveFailures,
				Current:             s.Cooldown.Current.String(),
			},
			Rate: RateStatsJSON{
				Minute:      s.RateOccupancy.Minute,
				MinuteLimit: s.RateOccupancy.MinuteLimit,
				Hour:        s.RateOccupancy.Hour,
				HourLimit:   s.RateOccupancy.HourLimit,
			},
		}
		if !s.Circuit.OpenedAt.IsZero() {
			response.Circuit.OpenedAt = s.Circuit.OpenedAt.UTC().Format(time.RFC3339)
		}
		for _, st := range s.Strategies {
			row := StrategyStatsJSON{
				Name:      st.Name,
				Priority:  st.Priority,
				Successes: st.Successes,
				Failures:  st.Failures,
			}
			if !st.LastOutcome.IsZero() {
				row.LastOutcome = st.LastOutcome.UTC().Format(time.RFC3339)
			}
			response.Strategy = append(response.Strategy, row)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// RegisterHandlers registers all health and stats handlers on the given mux.
func RegisterHandlers(mux *http.ServeMux, agg *Aggregator, stats func() upstream.Stats) {
	mux.HandleFunc("/healthz", LivenessHandler())
	mux.HandleFunc("/readyz", ReadinessHandler(agg))
	mux.HandleFunc("/health", DetailedHandler(agg))
	if stats != nil {
		mux.HandleFunc("/stats", StatsHandler(stats))
	}
}
