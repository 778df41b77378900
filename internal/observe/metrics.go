// Package observe provides application-wide observability primitives for
// Readalong: OpenTelemetry metrics, tracing, trace-aware logging and HTTP
// middleware.
//
// Metrics go through the OpenTelemetry Metrics API and are exposed for
// Prometheus scraping by [InitProvider]. [DefaultMetrics] returns a
// package-level instance; tests should call [NewMetrics] with their own
// [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Readalong metrics.
const meterName = "github.com/MrWong99/readalong"

// Metrics holds all OpenTelemetry instruments for the application. All fields
// are safe for concurrent use.
type Metrics struct {
	// AlignDuration tracks how long one alignment takes.
	AlignDuration metric.Float64Histogram

	// AlignScore records the score of every scored attempt.
	AlignScore metric.Float64Histogram

	// AlignTokens counts classified tokens. Use with attribute:
	//   attribute.String("type", "ok"|"missing"|"mismatch")
	AlignTokens metric.Int64Counter

	// TimerEvents counts lifecycle events. Use with attribute:
	//   attribute.String("status", ...)
	TimerEvents metric.Int64Counter

	// TimerElapsed records the active time carried by terminal events.
	TimerElapsed metric.Float64Histogram

	// SinkErrors counts failed analytics deliveries. Use with attribute:
	//   attribute.String("sink", ...)
	SinkErrors metric.Int64Counter

	// ActiveSessions tracks open timer sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

var (
	alignBuckets   = []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05}
	scoreBuckets   = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1}
	elapsedBuckets = []float64{5, 15, 30, 60, 120, 300, 600, 1200, 3600}
)

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.AlignDuration, err = m.Float64Histogram("readalong.align.duration",
		metric.WithDescription("Latency of aligning a transcript against its reference text."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(alignBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AlignScore, err = m.Float64Histogram("readalong.align.score",
		metric.WithDescription("Accuracy score of scored reading attempts."),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AlignTokens, err = m.Int64Counter("readalong.align.tokens",
		metric.WithDescription("Classified expected tokens by type."),
	); err != nil {
		return nil, err
	}
	if met.TimerEvents, err = m.Int64Counter("readalong.timer.events",
		metric.WithDescription("Timer lifecycle events by status."),
	); err != nil {
		return nil, err
	}
	if met.TimerElapsed, err = m.Float64Histogram("readalong.timer.elapsed",
		metric.WithDescription("Active time reported by terminal timer events."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(elapsedBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SinkErrors, err = m.Int64Counter("readalong.analytics.errors",
		metric.WithDescription("Failed analytics deliveries by sink."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("readalong.active_sessions",
		metric.WithDescription("Number of open timer sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("readalong.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordAlignment records one alignment's latency, score and token tallies.
func (m *Metrics) RecordAlignment(ctx context.Context, took time.Duration, score float64, ok, missing, mismatch int) {
	m.AlignDuration.Record(ctx, took.Seconds())
	m.AlignScore.Record(ctx, score)
	for typ, n := range map[string]int{"ok": ok, "missing": missing, "mismatch": mismatch} {
		if n > 0 {
			m.AlignTokens.Add(ctx, int64(n), metric.WithAttributes(Attr("type", typ)))
		}
	}
}

// RecordTimerEvent counts a lifecycle event. When terminal is set the event's
// active time is recorded as well.
func (m *Metrics) RecordTimerEvent(ctx context.Context, status string, elapsed time.Duration, terminal bool) {
	m.TimerEvents.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
	if terminal {
		m.TimerElapsed.Record(ctx, elapsed.Seconds(), metric.WithAttributes(Attr("status", status)))
	}
}

// RecordSinkError counts a failed analytics delivery.
func (m *Metrics) RecordSinkError(ctx context.Context, sink string) {
	m.SinkErrors.Add(ctx, 1, metric.WithAttributes(Attr("sink", sink)))
}
