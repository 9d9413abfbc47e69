package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// FetchMeta contains metadata about one fetch operation for telemetry.
type FetchMeta struct {
	Target   string // Upstream target name (required)
	Resource string // Provider-specific resource identifier (optional)
	Strategy string // Strategy that served the fetch (optional)
	OpID     string // Per-fetch operation ID (optional)
}

// SpanName returns the deterministic span name for this fetch.
// Format: upstream.fetch.<target>
func (m FetchMeta) SpanName() string {
	return "upstream.fetch." + m.Target
}

// Tracer wraps OpenTelemetry tracing with fetch-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndFetch must be best-effort and must not panic.
type Tracer interface {
	// StartFetch starts a new span for a fetch operation.
	StartFetch(ctx context.Context, meta FetchMeta) (context.Context, trace.Span)

	// EndFetch ends the span, recording any error.
	EndFetch(span trace.Span, err error)
}

// tracerImpl is the concrete implementation of Tracer.
type tracerImpl struct {
	tracer trace.Tracer
}

// newTracer creates a new Tracer wrapping the given OpenTelemetry tracer.
func newTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

// StartFetch starts a new span with fetch metadata as attributes.
func (t *tracerImpl) StartFetch(ctx context.Context, meta FetchMeta) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("fetch.target", meta.Target),
		attribute.Bool("fetch.error", false), // Updated in EndFetch on error
	}
	if meta.Resource != "" {
		attrs = append(attrs, attribute.String("fetch.resource", meta.Resource))
	}
	if meta.Strategy != "" {
		attrs = append(attrs, attribute.String("fetch.strategy", meta.Strategy))
	}
	if meta.OpID != "" {
		attrs = append(attrs, attribute.String("fetch.op_id", meta.OpID))
	}

	ctx, span := t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)

	return ctx, span
}

// EndFetch ends the span and records the error status if present.
func (t *tracerImpl) EndFetch(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("fetch.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// noopTracer is a tracer that does nothing.
type noopTracer struct {
	noop trace.Tracer
}

func newNoopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartFetch(ctx context.Context, meta FetchMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndFetch(span trace.Span, err error) {
	span.End()
}
