// Package observe provides application-wide observability primitives for
// tutorlink: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all tutorlink metrics.
const meterName = "github.com/MrWong99/tutorlink"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TutorDuration tracks the round trip of one question to the tutor
	// backend, from request encoding to reply decoding.
	TutorDuration metric.Float64Histogram

	// RecorderDuration tracks the length (in seconds of audio) of finished
	// push-to-talk recordings.
	RecorderDuration metric.Float64Histogram

	// --- Counters ---

	// TutorRequests counts tutor questions. Use with attribute:
	//   attribute.String("status", ...)  // ok, error, superseded
	TutorRequests metric.Int64Counter

	// AudioEncodedBytes counts WAV bytes produced for outgoing questions.
	AudioEncodedBytes metric.Int64Counter

	// --- Error counters ---

	// TutorErrors counts tutor failures and degradations. Use with attribute:
	//   attribute.String("kind", ...)  // transport, status, decode, malformed_audio
	TutorErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes, labelled
	// with the breaker name and the state entered.
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// BridgeConnections tracks the number of connected front-end clients.
	BridgeConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time, labelled
	// with method, path and status by [Middleware].
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) tuned for
// remote tutor round trips, which include speech synthesis on the backend.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30,
}

// recordingBuckets covers push-to-talk clips up to the recorder cap.
var recordingBuckets = []float64{
	0.25, 0.5, 1, 2, 3, 5, 7.5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TutorDuration, err = m.Float64Histogram("tutorlink.tutor.duration",
		metric.WithDescription("Latency of one tutor question round trip."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecorderDuration, err = m.Float64Histogram("tutorlink.recorder.duration",
		metric.WithDescription("Length of finished push-to-talk recordings."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(recordingBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TutorRequests, err = m.Int64Counter("tutorlink.tutor.requests",
		metric.WithDescription("Total tutor questions by status."),
	); err != nil {
		return nil, err
	}
	if met.AudioEncodedBytes, err = m.Int64Counter("tutorlink.audio.encoded_bytes",
		metric.WithDescription("Total WAV bytes encoded for outgoing questions."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.TutorErrors, err = m.Int64Counter("tutorlink.tutor.errors",
		metric.WithDescription("Total tutor failures and degraded replies by kind."),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("tutorlink.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by state entered."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.BridgeConnections, err = m.Int64UpDownCounter("tutorlink.bridge.connections",
		metric.WithDescription("Number of connected front-end bridge clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("tutorlink.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordTutorRequest records one finished tutor question with its status and
// round-trip latency in seconds.
func (m *Metrics) RecordTutorRequest(ctx context.Context, status string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.TutorRequests.Add(ctx, 1, attrs)
	m.TutorDuration.Record(ctx, seconds, attrs)
}

// RecordTutorError records a tutor failure or degradation of the given kind.
func (m *Metrics) RecordTutorError(ctx context.Context, kind string) {
	m.TutorErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordEncodedAudio adds n encoded WAV bytes.
func (m *Metrics) RecordEncodedAudio(ctx context.Context, n int) {
	m.AudioEncodedBytes.Add(ctx, int64(n))
}

// RecordRecording records the length of a finished recording in seconds.
func (m *Metrics) RecordRecording(ctx context.Context, seconds float64) {
	m.RecorderDuration.Record(ctx, seconds)
}

// RecordBreakerTransition counts one transition of the named breaker into
// state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("state", to),
	))
}
