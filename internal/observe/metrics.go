// Package observe provides application-wide observability primitives for
// parley: OpenTelemetry metrics, distributed tracing, structured logging,
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all parley metrics.
const meterName = "github.com/MrWong99/parley"

// Turn outcomes recorded by [Metrics.RecordTurn].
const (
	OutcomeCompleted = "completed"
	OutcomeNoSpeech  = "no_speech"
	OutcomeEmpty     = "empty_transcript"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Speech unit statuses recorded by [Metrics.RecordSpeechUnit].
const (
	UnitSpoken    = "spoken"
	UnitSkipped   = "skipped"
	UnitFailed    = "failed"
	UnitDiscarded = "discarded"
)

// Provider kinds for the "kind" attribute of the provider counters. The
// "provider" attribute carries the configured provider name ("whisper",
// "polly", ...) or [UnnamedProvider] when the caller was not told it.
const (
	KindSTT = "stt"
	KindLLM = "llm"
	KindTTS = "tts"

	UnnamedProvider = "unnamed"
)

// Provider request statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// CaptureDuration tracks the length of captured utterances. Use with
	// attribute.String("reason", ...).
	CaptureDuration metric.Float64Histogram

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMTimeToFirstToken tracks the delay until the first streamed delta.
	LLMTimeToFirstToken metric.Float64Histogram

	// LLMDuration tracks full streaming completion latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency per sentence.
	TTSDuration metric.Float64Histogram

	// PlaybackDuration tracks how long each sentence took to play.
	PlaybackDuration metric.Float64Histogram

	// TurnDuration tracks a full capture-to-playback-drained turn.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// Turns counts conversation turns by outcome.
	Turns metric.Int64Counter

	// SpeechUnits counts sentence units handled by the speech pipeline by
	// status.
	SpeechUnits metric.Int64Counter

	// DroppedChunks counts capture chunks dropped because the consumer fell
	// behind the device.
	DroppedChunks metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveTurns is 1 while a turn is in progress.
	ActiveTurns metric.Int64UpDownCounter

	// SpeechQueueDepth tracks the number of units waiting in the speech queue.
	SpeechQueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// utteranceBuckets covers utterance lengths up to the capture ceiling.
var utteranceBuckets = []float64{
	0.5, 1, 2, 3, 5, 8, 12, 16, 20, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string, buckets []float64) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(buckets...),
		)
	}

	// Histograms.
	if met.CaptureDuration, err = histogram("parley.capture.duration",
		"Length of captured utterances.", utteranceBuckets); err != nil {
		return nil, err
	}
	if met.STTDuration, err = histogram("parley.stt.duration",
		"Latency of speech-to-text transcription.", latencyBuckets); err != nil {
		return nil, err
	}
	if met.LLMTimeToFirstToken, err = histogram("parley.llm.time_to_first_token",
		"Delay until the first streamed LLM delta.", latencyBuckets); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = histogram("parley.llm.duration",
		"Latency of a full streaming LLM completion.", latencyBuckets); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = histogram("parley.tts.duration",
		"Latency of text-to-speech synthesis per sentence.", latencyBuckets); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = histogram("parley.playback.duration",
		"Time spent playing one synthesised sentence.", latencyBuckets); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = histogram("parley.turn.duration",
		"Duration of a full conversation turn.", utteranceBuckets); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("parley.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("parley.turns",
		metric.WithDescription("Total conversation turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SpeechUnits, err = m.Int64Counter("parley.speech.units",
		metric.WithDescription("Total sentence units handled by the speech pipeline by status."),
	); err != nil {
		return nil, err
	}
	if met.DroppedChunks, err = m.Int64Counter("parley.capture.dropped_chunks",
		metric.WithDescription("Capture chunks dropped because the consumer fell behind."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("parley.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveTurns, err = m.Int64UpDownCounter("parley.active_turns",
		metric.WithDescription("Number of conversation turns in progress."),
	); err != nil {
		return nil, err
	}
	if met.SpeechQueueDepth, err = m.Int64UpDownCounter("parley.speech.queue_depth",
		metric.WithDescription("Number of sentence units waiting to be spoken."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTurn records a finished turn with its outcome and duration.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Turns.Add(ctx, 1, attrs)
	m.TurnDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordSpeechUnit records one speech pipeline unit with its final status.
func (m *Metrics) RecordSpeechUnit(ctx context.Context, status string) {
	m.SpeechUnits.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordCapture records the length of a captured utterance and why capture
// ended.
func (m *Metrics) RecordCapture(ctx context.Context, reason string, d time.Duration) {
	m.CaptureDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("reason", reason)))
}
