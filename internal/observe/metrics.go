// Package observe provides application-wide observability primitives for
// brainstorm: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all brainstorm metrics.
const meterName = "github.com/MrWong99/brainstorm"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks the time from session start until the remote
	// side reports the session open.
	ConnectDuration metric.Float64Histogram

	// PlaybackLead tracks how far in the future a fragment was scheduled
	// relative to the output clock. A growing lead means playback lags
	// behind the model.
	PlaybackLead metric.Float64Histogram

	// --- Counters ---

	// FramesSent counts capture frames delivered to the live session.
	FramesSent metric.Int64Counter

	// FramesDropped counts capture frames that were not delivered. Use with
	// attribute:
	//   attribute.String("reason", "not_open"|"overflow"|"send_error"|"closed"|"cancelled"|"overrun")
	FramesDropped metric.Int64Counter

	// Fragments counts model audio fragments. Use with attribute:
	//   attribute.String("status", "scheduled"|"decode_error")
	Fragments metric.Int64Counter

	// Interruptions counts barge-in interruptions.
	Interruptions metric.Int64Counter

	// VoicesStopped counts playback voices cut off by interruptions.
	VoicesStopped metric.Int64Counter

	// TranscriptFragments counts transcription fragments. Use with attribute:
	//   attribute.String("speaker", "user"|"model")
	TranscriptFragments metric.Int64Counter

	// --- Error counters ---

	// SessionErrors counts failed sessions. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	SessionErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of sessions that are connecting or
	// connected.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveVoices tracks the number of scheduled, unfinished playback voices.
	ActiveVoices metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for realtime voice latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("brainstorm.session.connect.duration",
		metric.WithDescription("Time from session start until the live session is open."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackLead, err = m.Float64Histogram("brainstorm.playback.lead",
		metric.WithDescription("Distance between a fragment's scheduled start and the output clock."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesSent, err = m.Int64Counter("brainstorm.capture.frames_sent",
		metric.WithDescription("Total capture frames sent to the live session."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("brainstorm.capture.frames_dropped",
		metric.WithDescription("Total capture frames dropped by reason."),
	); err != nil {
		return nil, err
	}
	if met.Fragments, err = m.Int64Counter("brainstorm.playback.fragments",
		metric.WithDescription("Total model audio fragments by status."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("brainstorm.playback.interruptions",
		metric.WithDescription("Total barge-in interruptions."),
	); err != nil {
		return nil, err
	}
	if met.VoicesStopped, err = m.Int64Counter("brainstorm.playback.voices_stopped",
		metric.WithDescription("Total playback voices stopped by interruptions."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptFragments, err = m.Int64Counter("brainstorm.transcript.fragments",
		metric.WithDescription("Total transcription fragments by speaker."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.SessionErrors, err = m.Int64Counter("brainstorm.session.errors",
		metric.WithDescription("Total failed sessions by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("brainstorm.active_sessions",
		metric.WithDescription("Number of connecting or connected sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveVoices, err = m.Int64UpDownCounter("brainstorm.playback.active_voices",
		metric.WithDescription("Number of scheduled, unfinished playback voices."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("brainstorm.http.request.duration",
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

// RecordFrameSent records one capture frame delivered to the session.
func (m *Metrics) RecordFrameSent(ctx context.Context) {
	m.FramesSent.Add(ctx, 1)
}

// RecordFramesDropped records n capture frames dropped for reason.
func (m *Metrics) RecordFramesDropped(ctx context.Context, reason string, n int) {
	if n <= 0 {
		return
	}
	m.FramesDropped.Add(ctx, int64(n),
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordFragment records a model audio fragment with the given status.
func (m *Metrics) RecordFragment(ctx context.Context, status string) {
	m.Fragments.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordInterruption records one interruption that stopped the given number
// of voices.
func (m *Metrics) RecordInterruption(ctx context.Context, stopped int) {
	m.Interruptions.Add(ctx, 1)
	if stopped > 0 {
		m.VoicesStopped.Add(ctx, int64(stopped))
	}
}

// RecordTranscriptFragment records one transcription fragment for speaker.
func (m *Metrics) RecordTranscriptFragment(ctx context.Context, speaker string) {
	m.TranscriptFragments.Add(ctx, 1,
		metric.WithAttributes(attribute.String("speaker", speaker)),
	)
}

// RecordSessionError records a failed session.
func (m *Metrics) RecordSessionError(ctx context.Context, provider, kind string) {
	m.SessionErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
