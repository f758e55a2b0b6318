package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		hist metric.Float64Histogram
	}{
		{"frontdesk.asr.duration", m.ASRDuration},
		{"frontdesk.llm.duration", m.LLMDuration},
		{"frontdesk.tts.duration", m.TTSDuration},
		{"frontdesk.turn.first_audio", m.FirstAudioLatency},
		{"frontdesk.turn.duration", m.TurnDuration},
	}
	for _, h := range histograms {
		h.hist.Record(ctx, 0.123)
	}

	rm := collect(t, reader)
	for _, h := range histograms {
		met := findMetric(rm, h.name)
		if met == nil {
			t.Errorf("metric %s not found", h.name)
			continue
		}
		data, ok := met.Data.(metricdata.Histogram[float64])
		if !ok {
			t.Errorf("metric %s: unexpected data type %T", h.name, met.Data)
			continue
		}
		if len(data.DataPoints) != 1 || data.DataPoints[0].Count != 1 {
			t.Errorf("metric %s: want one observation", h.name)
		}
	}
}

func TestTurnCounterAttributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.Turns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("intent", "booking"),
		attribute.String("state", "CollectService"),
	))
	m.Turns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("intent", "booking"),
		attribute.String("state", "CollectService"),
	))

	rm := collect(t, reader)
	met := findMetric(rm, "frontdesk.turns")
	if met == nil {
		t.Fatal("frontdesk.turns not found")
	}
	data := met.Data.(metricdata.Sum[int64])
	if len(data.DataPoints) != 1 {
		t.Fatalf("data points: want 1, got %d", len(data.DataPoints))
	}
	if data.DataPoints[0].Value != 2 {
		t.Errorf("counter value: want 2, got %d", data.DataPoints[0].Value)
	}
}

func TestRecordProviderError(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderError(ctx, "deepgram", "dial")
	m.RecordProviderError(ctx, "elevenlabs", "synthesize")

	rm := collect(t, reader)
	met := findMetric(rm, "frontdesk.provider.errors")
	if met == nil {
		t.Fatal("frontdesk.provider.errors not found")
	}
	data := met.Data.(metricdata.Sum[int64])
	if len(data.DataPoints) != 2 {
		t.Errorf("data points: want 2, got %d", len(data.DataPoints))
	}

	// Nil receiver must be a no-op.
	var nilMetrics *Metrics
	nilMetrics.RecordProviderError(ctx, "x", "y")
}

func TestActiveCallsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveCalls.Add(ctx, 3)
	m.ActiveCalls.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "frontdesk.calls.active")
	if met == nil {
		t.Fatal("frontdesk.calls.active not found")
	}
	data := met.Data.(metricdata.Sum[int64])
	if data.DataPoints[0].Value != 2 {
		t.Errorf("gauge: want 2, got %d", data.DataPoints[0].Value)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05, metric.WithAttributes(
		attribute.String("method", "POST"),
		attribute.String("path", "/voice"),
	))

	rm := collect(t, reader)
	if findMetric(rm, "frontdesk.http.request.duration") == nil {
		t.Fatal("frontdesk.http.request.duration not found")
	}
}
