// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, distributed tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/voxline/frontdesk"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ASRDuration tracks time from end of caller speech to the final
	// transcript.
	ASRDuration metric.Float64Histogram

	// LLMDuration tracks intent extraction latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks speech synthesis latency (request to last frame).
	TTSDuration metric.Float64Histogram

	// FirstAudioLatency tracks end-of-utterance to first synthesized frame,
	// the caller-perceived response time.
	FirstAudioLatency metric.Float64Histogram

	// TurnDuration tracks full turn latency.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts completed dialogue turns. Use with attributes:
	//   attribute.String("intent", ...), attribute.String("state", ...)
	Turns metric.Int64Counter

	// BargeIns counts TTS interruptions by caller speech.
	BargeIns metric.Int64Counter

	// DroppedFrames counts inbound audio frames discarded on overflow.
	DroppedFrames metric.Int64Counter

	// CallsCompleted counts finished calls. Use with attribute:
	//   attribute.String("status", ...)
	CallsCompleted metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live calls.
	ActiveCalls metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBucketsMs defines histogram bucket boundaries (in milliseconds)
// optimised for voice-pipeline latencies; the spoken-response budget is
// 1500 ms from end of utterance to first audio.
var latencyBucketsMs = []float64{
	10, 25, 50, 100, 250, 500, 1000, 1500, 2500, 5000, 10000,
}

// httpBuckets defines request-duration boundaries in seconds for the HTTP
// surface (webhook, health, metrics).
var httpBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.ASRDuration, "frontdesk.asr.duration", "Latency from end of speech to final transcript."},
		{&met.LLMDuration, "frontdesk.llm.duration", "Latency of intent extraction."},
		{&met.TTSDuration, "frontdesk.tts.duration", "Latency of speech synthesis."},
		{&met.FirstAudioLatency, "frontdesk.turn.first_audio", "End of utterance to first synthesized frame."},
		{&met.TurnDuration, "frontdesk.turn.duration", "Full dialogue turn latency."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("ms"),
			metric.WithExplicitBucketBoundaries(latencyBucketsMs...),
		); err != nil {
			return nil, err
		}
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("frontdesk.http.request.duration",
		metric.WithDescription("HTTP request processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(httpBuckets...),
	); err != nil {
		return nil, err
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.Turns, "frontdesk.turns", "Completed dialogue turns."},
		{&met.BargeIns, "frontdesk.barge_ins", "TTS interruptions by caller speech."},
		{&met.DroppedFrames, "frontdesk.audio.dropped_frames", "Inbound audio frames dropped on overflow."},
		{&met.CallsCompleted, "frontdesk.calls.completed", "Finished calls by status."},
		{&met.ProviderErrors, "frontdesk.provider.errors", "Provider errors by provider and kind."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name,
			metric.WithDescription(c.desc),
			metric.WithUnit("1"),
		); err != nil {
			return nil, err
		}
	}

	if met.ActiveCalls, err = m.Int64UpDownCounter("frontdesk.calls.active",
		metric.WithDescription("Live calls."),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] instance built on the
// global OTel meter provider. Initialised lazily on first use; instrument
// creation errors panic since they indicate a programming error (duplicate
// registration or invalid names).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordProviderError increments [Metrics.ProviderErrors] with standard
// attributes. Safe to call on a nil receiver.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	if m == nil {
		return
	}
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		))
}
