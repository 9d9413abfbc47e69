package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	out := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumValue(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s data type = %T, want Sum[int64]", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_RecordFetch(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := newMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("newMetrics() error = %v", err)
	}

	ctx := context.Background()
	meta := FetchMeta{Target: "media-provider", Strategy: "web"}
	m.RecordFetch(ctx, meta, 120*time.Millisecond, 2, nil)
	m.RecordFetch(ctx, meta, 340*time.Millisecond, 5, errors.New("exhausted"))

	collected := collectMetrics(t, reader)

	total, ok := collected["upstream.fetch.total"]
	if !ok {
		t.Fatal("upstream.fetch.total not recorded")
	}
	if got := sumValue(t, total); got != 2 {
		t.Errorf("fetch.total = %d, want 2", got)
	}

	errs, ok := collected["upstream.fetch.errors"]
	if !ok {
		t.Fatal("upstream.fetch.errors not recorded")
	}
	if got := sumValue(t, errs); got != 1 {
		t.Errorf("fetch.errors = %d, want 1", got)
	}

	durations, ok := collected["upstream.fetch.duration_ms"]
	if !ok {
		t.Fatal("upstream.fetch.duration_ms not recorded")
	}
	hist, ok := durations.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("duration data type = %T, want Histogram[float64]", durations.Data)
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 2 {
		t.Errorf("duration histogram count = %d, want 2", count)
	}

	attempts, ok := collected["upstream.fetch.attempts"]
	if !ok {
		t.Fatal("upstream.fetch.attempts not recorded")
	}
	attemptsHist, ok := attempts.Data.(metricdata.Histogram[int64])
	if !ok {
		t.Fatalf("attempts data type = %T, want Histogram[int64]", attempts.Data)
	}
	var attemptsTotal int64
	for _, dp := range attemptsHist.DataPoints {
		attemptsTotal += dp.Sum
	}
	if attemptsTotal != 7 {
		t.Errorf("attempts histogram sum = %d, want 7", attemptsTotal)
	}
}

func TestMetrics_RecordCircuitTransition(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := newMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("newMetrics() error = %v", err)
	}

	ctx := context.Background()
	m.RecordCircuitTransition(ctx, "media-provider", "closed", "open")
	m.RecordCircuitTransition(ctx, "media-provider", "open", "half-open")

	collected := collectMetrics(t, reader)
	transitions, ok := collected["upstream.circuit.transitions"]
	if !ok {
		t.Fatal("upstream.circuit.transitions not recorded")
	}
	if got := sumValue(t, transitions); got != 2 {
		t.Errorf("circuit.transitions = %d, want 2", got)
	}
}

func TestNoopMetrics(t *testing.T) {
	var m noopMetrics
	ctx := context.Background()

	// Must be callable without any setup.
	m.RecordFetch(ctx, FetchMeta{Target: "x"}, time.Second, 1, nil)
	m.RecordCircuitTransition(ctx, "x", "closed", "open")
}
