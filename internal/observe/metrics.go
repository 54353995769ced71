// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, tracing, structured logging, and HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so metrics can be scraped
// from the standard /metrics endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/oculo-ai/oculo"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ResponseDuration tracks one voice turn from response start to
	// completion.
	ResponseDuration metric.Float64Histogram

	// VisionDuration tracks one vision query including failover attempts.
	// Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	VisionDuration metric.Float64Histogram

	// --- Counters ---

	// ConnectionAttempts counts dial attempts. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	ConnectionAttempts metric.Int64Counter

	// Reconnects counts automatic reconnection chains entered.
	Reconnects metric.Int64Counter

	// Interruptions counts user barge-ins that cancelled a response.
	Interruptions metric.Int64Counter

	// EchoDrops counts utterances suppressed as echoes of the assistant's
	// own speech.
	EchoDrops metric.Int64Counter

	// VisionQueries counts dispatched vision queries. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	VisionQueries metric.Int64Counter

	// --- Gauges ---

	// ConnectionUp is 1 while the streaming connection is established.
	ConnectionUp metric.Int64UpDownCounter

	// InFlightResponses tracks responses currently playing out (0 or 1).
	InFlightResponses metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for conversational latencies.
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
	if met.ResponseDuration, err = m.Float64Histogram("oculo.response.duration",
		metric.WithDescription("Duration of one voice response turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.VisionDuration, err = m.Float64Histogram("oculo.vision.duration",
		metric.WithDescription("Duration of one vision query including failover."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ConnectionAttempts, err = m.Int64Counter("oculo.connection.attempts",
		metric.WithDescription("Total dial attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("oculo.connection.reconnects",
		metric.WithDescription("Total automatic reconnection chains entered."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("oculo.response.interruptions",
		metric.WithDescription("Total user barge-ins that cancelled a response."),
	); err != nil {
		return nil, err
	}
	if met.EchoDrops, err = m.Int64Counter("oculo.router.echo_drops",
		metric.WithDescription("Total utterances suppressed as playback echo."),
	); err != nil {
		return nil, err
	}
	if met.VisionQueries, err = m.Int64Counter("oculo.vision.queries",
		metric.WithDescription("Total vision queries by provider and status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ConnectionUp, err = m.Int64UpDownCounter("oculo.connection.up",
		metric.WithDescription("1 while the streaming connection is established."),
	); err != nil {
		return nil, err
	}
	if met.InFlightResponses, err = m.Int64UpDownCounter("oculo.response.in_flight",
		metric.WithDescription("Responses currently being assembled."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("oculo.http.request.duration",
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

// RecordConnectionAttempt records one dial attempt with its outcome.
func (m *Metrics) RecordConnectionAttempt(ctx context.Context, status string) {
	m.ConnectionAttempts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordVisionQuery records one vision query with the standard attribute set.
func (m *Metrics) RecordVisionQuery(ctx context.Context, provider, status string) {
	m.VisionQueries.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}
