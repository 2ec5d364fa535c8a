// Package observe provides observability primitives for voxgate:
// OpenTelemetry metrics and tracing, trace-aware structured logging, and HTTP
// middleware for the ops endpoints.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus via [InitProvider]. [DefaultMetrics] returns a package-level
// instance bound to the global provider; tests should use [NewMetrics] with
// their own [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxgate metrics.
const meterName = "github.com/MrWong99/voxgate"

// Metrics holds all OpenTelemetry instruments for the application. The
// underlying OTel types are safe for concurrent use.
type Metrics struct {
	// --- Sessions ---

	// ActiveSessions tracks the number of sessions currently Active.
	ActiveSessions metric.Int64UpDownCounter

	// SessionDuration tracks locally measured session length. Use with
	// attribute.String("cause", ...).
	SessionDuration metric.Float64Histogram

	// StartFailures counts sessions that failed to start. Use with
	// attribute.String("kind", ...).
	StartFailures metric.Int64Counter

	// --- Channel traffic ---

	// InboundEvents counts messages received from the remote agent. Use with
	// attribute.String("kind", ...).
	InboundEvents metric.Int64Counter

	// OutboundFrames counts capture frames by fate. Use with
	// attribute.String("result", "sent"|"dropped"|"error").
	OutboundFrames metric.Int64Counter

	// --- Playback ---

	// PlaybackFeeds counts render sink feed calls. Use with
	// attribute.String("status", "ok"|"error").
	PlaybackFeeds metric.Int64Counter

	// PlaybackBytes counts PCM bytes accepted by the render sink.
	PlaybackBytes metric.Int64Counter

	// --- Turn-taking ---

	// ResumeDelay tracks the armed delay before the mic reopens. Use with
	// attribute.String("timer", "fallback"|"computed").
	ResumeDelay metric.Float64Histogram

	// MicTransitions counts speaking-state changes. Use with
	// attribute.Bool("open", ...).
	MicTransitions metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks ops endpoint latency. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// delayBuckets covers resume delays from a few hundred milliseconds up to
// long assistant monologues (seconds).
var delayBuckets = []float64{
	0.1, 0.25, 0.5, 0.8, 1, 1.5, 2, 3, 5, 10, 30,
}

// sessionBuckets covers session lengths (seconds) up to an hour.
var sessionBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voxgate.active_sessions",
		metric.WithDescription("Number of voice sessions currently active."),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("voxgate.session.duration",
		metric.WithDescription("Locally measured voice session length by end cause."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StartFailures, err = m.Int64Counter("voxgate.start.failures",
		metric.WithDescription("Voice sessions that failed to start, by failure kind."),
	); err != nil {
		return nil, err
	}

	if met.InboundEvents, err = m.Int64Counter("voxgate.inbound.events",
		metric.WithDescription("Messages received from the remote agent, by type."),
	); err != nil {
		return nil, err
	}
	if met.OutboundFrames, err = m.Int64Counter("voxgate.outbound.frames",
		metric.WithDescription("Capture frames sent, dropped by the gate, or failed."),
	); err != nil {
		return nil, err
	}

	if met.PlaybackFeeds, err = m.Int64Counter("voxgate.playback.feeds",
		metric.WithDescription("Render sink feed calls by status."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackBytes, err = m.Int64Counter("voxgate.playback.bytes",
		metric.WithDescription("PCM bytes accepted by the render sink."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if met.ResumeDelay, err = m.Float64Histogram("voxgate.turn.resume_delay",
		metric.WithDescription("Delay armed before the microphone reopens, by timer kind."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(delayBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MicTransitions, err = m.Int64Counter("voxgate.mic.transitions",
		metric.WithDescription("Microphone open/close transitions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxgate.http.request.duration",
		metric.WithDescription("Ops HTTP request latency by method and path."),
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
// first call from [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// RecordInbound counts one inbound message of the given kind.
func (m *Metrics) RecordInbound(ctx context.Context, kind string) {
	m.InboundEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordOutbound counts one capture frame with the given result.
func (m *Metrics) RecordOutbound(ctx context.Context, result string) {
	m.OutboundFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordFeed counts one render feed. Successful feeds also add n to
// [Metrics.PlaybackBytes].
func (m *Metrics) RecordFeed(ctx context.Context, n int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.PlaybackFeeds.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	if err == nil {
		m.PlaybackBytes.Add(ctx, int64(n))
	}
}

// RecordResumeDelay records an armed resume delay for the given timer kind.
func (m *Metrics) RecordResumeDelay(ctx context.Context, timer string, d time.Duration) {
	m.ResumeDelay.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("timer", timer)))
}

// RecordMicTransition counts one microphone state change.
func (m *Metrics) RecordMicTransition(ctx context.Context, open bool) {
	m.MicTransitions.Add(ctx, 1, metric.WithAttributes(attribute.Bool("open", open)))
}

// RecordStartFailure counts one failed session start.
func (m *Metrics) RecordStartFailure(ctx context.Context, kind string) {
	m.StartFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordSessionEnd records the length of a finished session.
func (m *Metrics) RecordSessionEnd(ctx context.Context, cause string, d time.Duration) {
	m.SessionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("cause", cause)))
}
