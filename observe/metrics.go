package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records fetch operation metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordFetch records a fetch with its duration, transport attempt
	// count, and error status.
	RecordFetch(ctx context.Context, meta FetchMeta, duration time.Duration, attempts int64, err error)

	// RecordCircuitTransition records a circuit breaker state change.
	RecordCircuitTransition(ctx context.Context, target, from, to string)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	meter        metric.Meter
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	durationHist metric.Float64Histogram
	attemptsHist metric.Int64Histogram
	transitions  metric.Int64Counter
}

// newMetrics creates a new Metrics instance with the given meter.
func newMetrics(meter metric.Meter) (*metricsImpl, error) {
	totalCount, err := meter.Int64Counter(
		"upstream.fetch.total",
		metric.WithDescription("Total number of fetch operations"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"upstream.fetch.errors",
		metric.WithDescription("Total number of terminally failed fetch operations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"upstream.fetch.duration_ms",
		metric.WithDescription("Fetch operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	attemptsHist, err := meter.Int64Histogram(
		"upstream.fetch.attempts",
		metric.WithDescription("Transport attempts consumed per fetch operation"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter(
		"upstream.circuit.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		meter:        meter,
		totalCount:   totalCount,
		errorCount:   errorCount,
		durationHist: durationHist,
		attemptsHist: attemptsHist,
		transitions:  transitions,
	}, nil
}

// RecordFetch records metrics for one fetch operation.
func (m *metricsImpl) RecordFetch(ctx context.Context, meta FetchMeta, duration time.Duration, attempts int64, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("target", meta.Target),
	}
	if meta.Strategy != "" {
		attrs = append(attrs, attribute.String("strategy", meta.Strategy))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("outcome", "error"))
	} else {
		attrs = append(attrs, attribute.String("outcome", "success"))
	}

	opt := metric.WithAttributes(attrs...)

	m.totalCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
	m.attemptsHist.Record(ctx, attempts, opt)
}

// RecordCircuitTransition records one breaker state change.
func (m *metricsImpl) RecordCircuitTransition(ctx context.Context, target, from, to string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("target", target),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

func (m *noopMetrics) RecordFetch(ctx context.Context, meta FetchMeta, duration time.Duration, attempts int64, err error) {
}

func (m *noopMetrics) RecordCircuitTransition(ctx context.Context, target, from, to string) {}
