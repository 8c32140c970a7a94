// Package observe provides the observability primitives for simchat:
// OpenTelemetry metrics and tracing, trace-aware structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]; [MetricsHandler] serves them on /metrics.
// [DefaultMetrics] is a lazily created package-level instance. Tests should
// call [NewMetrics] with their own [metric.MeterProvider] instead.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all simchat metrics.
const meterName = "github.com/MrWong99/simchat"

// Reply outcome labels used with [Metrics.RecordReply].
const (
	StatusOK       = "ok"
	StatusFallback = "fallback"
	StatusError    = "error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// ReplyDuration tracks the round trip to the reply source. Attributes:
	// provider, status.
	ReplyDuration metric.Float64Histogram

	// ReplyRequests counts reply dispatches. Attributes: provider, status.
	ReplyRequests metric.Int64Counter

	// ReplyErrors counts failed dispatches. Attributes: provider, op.
	ReplyErrors metric.Int64Counter

	// PlaybackChunks counts chunks revealed to the transcript. Attribute:
	// surface.
	PlaybackChunks metric.Int64Counter

	// PlaybackPreemptions counts playbacks cancelled before their last chunk.
	// Attribute: surface.
	PlaybackPreemptions metric.Int64Counter

	// WidgetSubmissions counts submit attempts. Attributes: surface, outcome
	// ("accepted", "ignored").
	WidgetSubmissions metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	// breaker, to.
	BreakerTransitions metric.Int64Counter

	// GatewaySockets tracks open WebSocket connections. Attribute: surface.
	GatewaySockets metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// replyBuckets are histogram boundaries (in seconds) for webhook and LLM round
// trips, which range from tens of milliseconds to tens of seconds.
var replyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30,
}

// NewMetrics creates all instruments on the given [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ReplyDuration, err = m.Float64Histogram("simchat.reply.duration",
		metric.WithDescription("Latency of reply source round trips."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(replyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ReplyRequests, err = m.Int64Counter("simchat.reply.requests",
		metric.WithDescription("Reply dispatches by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ReplyErrors, err = m.Int64Counter("simchat.reply.errors",
		metric.WithDescription("Failed reply dispatches by provider and failing step."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackChunks, err = m.Int64Counter("simchat.playback.chunks",
		metric.WithDescription("Reply chunks revealed to the transcript."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackPreemptions, err = m.Int64Counter("simchat.playback.preemptions",
		metric.WithDescription("Playbacks cancelled before their last chunk."),
	); err != nil {
		return nil, err
	}
	if met.WidgetSubmissions, err = m.Int64Counter("simchat.widget.submissions",
		metric.WithDescription("Submit attempts by surface and outcome."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("simchat.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}
	if met.GatewaySockets, err = m.Int64UpDownCounter("simchat.gateway.sockets",
		metric.WithDescription("Open WebSocket connections by surface."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("simchat.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. Call it after [InitProvider] so the
// instruments bind to the exporting provider. Panics if instrument creation
// fails.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordReply records one completed dispatch: its latency and outcome.
func (m *Metrics) RecordReply(ctx context.Context, provider, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	)
	m.ReplyDuration.Record(ctx, d.Seconds(), attrs)
	m.ReplyRequests.Add(ctx, 1, attrs)
}

// RecordReplyError records a failed dispatch and the step that failed.
func (m *Metrics) RecordReplyError(ctx context.Context, provider, op string) {
	m.ReplyErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("op", op),
		),
	)
}

// RecordChunk records one revealed playback chunk.
func (m *Metrics) RecordChunk(ctx context.Context, surface string) {
	m.PlaybackChunks.Add(ctx, 1, metric.WithAttributes(attribute.String("surface", surface)))
}

// RecordPreemption records a playback cancelled with chunks still pending.
func (m *Metrics) RecordPreemption(ctx context.Context, surface string) {
	m.PlaybackPreemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("surface", surface)))
}

// RecordSubmission records a submit attempt and whether it was accepted.
func (m *Metrics) RecordSubmission(ctx context.Context, surface string, accepted bool) {
	outcome := "ignored"
	if accepted {
		outcome = "accepted"
	}
	m.WidgetSubmissions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("surface", surface),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordBreakerTransition records a circuit breaker moving to state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("to", to),
		),
	)
}

// SocketOpened increments the open WebSocket gauge for surface.
func (m *Metrics) SocketOpened(ctx context.Context, surface string) {
	m.GatewaySockets.Add(ctx, 1, metric.WithAttributes(attribute.String("surface", surface)))
}

// SocketClosed decrements the open WebSocket gauge for surface.
func (m *Metrics) SocketClosed(ctx context.Context, surface string) {
	m.GatewaySockets.Add(ctx, -1, metric.WithAttributes(attribute.String("surface", surface)))
}
