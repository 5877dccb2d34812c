// Package observe provides application-wide observability primitives for the
// voice assistant: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all application metrics.
const meterName = "github.com/marcomolinaleija/GIC"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Audio pipeline ---

	// CaptureFrames counts microphone frames submitted upstream.
	CaptureFrames metric.Int64Counter

	// CaptureDropped counts frames dropped because no session was open. Use
	// with attribute:
	//   attribute.String("reason", ...)
	CaptureDropped metric.Int64Counter

	// PlaybackChunks counts inbound audio chunks scheduled for playback.
	PlaybackChunks metric.Int64Counter

	// PlaybackDecodeErrors counts inbound chunks dropped because they could
	// not be decoded.
	PlaybackDecodeErrors metric.Int64Counter

	// PlaybackInterruptions counts hard playback flushes.
	PlaybackInterruptions metric.Int64Counter

	// --- Conversation ---

	// TranscriptTurns counts finalised transcript turns.
	TranscriptTurns metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ToolDuration tracks local tool execution latency.
	ToolDuration metric.Float64Histogram

	// SessionTransitions counts session state changes. Use with attribute:
	//   attribute.String("state", ...)
	SessionTransitions metric.Int64Counter

	// ActiveSessions tracks the number of live (connecting or active) voice
	// sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Providers ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// ProviderDuration tracks request/response provider call latency. Use
	// with attribute:
	//   attribute.String("kind", ...)
	ProviderDuration metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Image
// generation routinely takes several seconds, hence the long tail.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Audio pipeline.
	if met.CaptureFrames, err = m.Int64Counter("gic.capture.frames",
		metric.WithDescription("Total microphone frames submitted upstream."),
	); err != nil {
		return nil, err
	}
	if met.CaptureDropped, err = m.Int64Counter("gic.capture.dropped",
		metric.WithDescription("Total microphone frames dropped by reason."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackChunks, err = m.Int64Counter("gic.playback.chunks",
		metric.WithDescription("Total inbound audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDecodeErrors, err = m.Int64Counter("gic.playback.decode_errors",
		metric.WithDescription("Total inbound audio chunks dropped on decode failure."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackInterruptions, err = m.Int64Counter("gic.playback.interruptions",
		metric.WithDescription("Total hard playback flushes."),
	); err != nil {
		return nil, err
	}

	// Conversation.
	if met.TranscriptTurns, err = m.Int64Counter("gic.transcript.turns",
		metric.WithDescription("Total finalised transcript turns."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("gic.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolDuration, err = m.Float64Histogram("gic.tool.duration",
		metric.WithDescription("Latency of local tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionTransitions, err = m.Int64Counter("gic.session.transitions",
		metric.WithDescription("Total session state transitions by target state."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("gic.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// Providers.
	if met.ProviderRequests, err = m.Int64Counter("gic.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("gic.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ProviderDuration, err = m.Float64Histogram("gic.provider.duration",
		metric.WithDescription("Latency of request/response provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("gic.http.request.duration",
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

// RecordToolCall records a tool call counter increment with the standard
// attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordTransition records a session state transition.
func (m *Metrics) RecordTransition(ctx context.Context, state string) {
	m.SessionTransitions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("state", state)),
	)
}

// RecordCaptureDrop records a dropped microphone frame.
func (m *Metrics) RecordCaptureDrop(ctx context.Context, reason string) {
	m.RecordCaptureDrops(ctx, reason, 1)
}

// RecordCaptureDrops records n dropped microphone frames.
func (m *Metrics) RecordCaptureDrops(ctx context.Context, reason string, n int) {
	m.CaptureDropped.Add(ctx, int64(n),
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
