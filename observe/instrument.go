package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Instrumentation bundles the tracer, metrics, and logger a resilient
// client needs around each fetch operation.
//
// Contract:
//   - Concurrency: all methods are safe for concurrent use.
//   - Errors: recording is best-effort; errors from the wrapped fetch are
//     recorded and must be propagated unchanged by the caller.
type Instrumentation struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewInstrumentation creates an Instrumentation from an Observer. A nil
// Observer yields a fully no-op bundle.
func NewInstrumentation(obs Observer) (*Instrumentation, error) {
	if obs == nil {
		return NopInstrumentation(), nil
	}

	metrics, err := newMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return &Instrumentation{
		tracer:  newTracer(obs.Tracer()),
		metrics: metrics,
		logger:  obs.Logger(),
	}, nil
}

// NopInstrumentation returns an Instrumentation that records nothing.
func NopInstrumentation() *Instrumentation {
	return &Instrumentation{
		tracer:  newNoopTracer(),
		metrics: &noopMetrics{},
		logger:  &noopLogger{},
	}
}

// StartFetch opens a span for the fetch operation.
func (in *Instrumentation) StartFetch(ctx context.Context, meta FetchMeta) (context.Context, trace.Span) {
	return in.tracer.StartFetch(ctx, meta)
}

// EndFetch closes the span, recording the terminal error if any.
func (in *Instrumentation) EndFetch(span trace.Span, err error) {
	in.tracer.EndFetch(span, err)
}

// RecordFetch records the metrics and log line for one finished fetch.
func (in *Instrumentation) RecordFetch(ctx context.Context, meta FetchMeta, duration time.Duration, attempts int64, err error) {
	in.metrics.RecordFetch(ctx, meta, duration, attempts, err)

	logger := in.logger.WithFetch(meta)
	fields := []Field{
		{Key: "duration_ms", Value: float64(duration.Milliseconds())},
		{Key: "attempts", Value: attempts},
	}
	if err != nil {
		fields = append(fields, Field{Key: "error", Value: err.Error()})
		logger.Error(ctx, "fetch failed", fields...)
	} else {
		logger.Info(ctx, "fetch completed", fields...)
	}
}

// RecordCircuitTransition records a breaker state change with a warning
// log line.
func (in *Instrumentation) RecordCircuitTransition(ctx context.Context, target, from, to string) {
	in.metrics.RecordCircuitTransition(ctx, target, from, to)
	in.logger.Warn(ctx, "circuit state changed",
		Field{Key: "target", Value: target},
		Field{Key: "from", Value: from},
		Field{Key: "to", Value: to},
	)
}

// Logger returns the bundled logger.
func (in *Instrumentation) Logger() Logger {
	return in.logger
}
