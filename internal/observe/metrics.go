// Package observe provides the pipeline's observability primitives:
// OpenTelemetry metrics recorded in-process and flushed into the run summary
// at the end of a build.
//
// The pipeline is a batch process, not a server, so there is no scrape
// endpoint: metrics are read once through a [sdkmetric.ManualReader] when the
// run completes. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
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

// meterName is the instrumentation scope name used for all pipeline metrics.
const meterName = "github.com/hollowvale/dreadhex"

// Metrics holds all OpenTelemetry metric instruments for the pipeline.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// StageDuration tracks wall time per pipeline stage. Use with attribute:
	//   attribute.String("stage", ...)
	StageDuration metric.Float64Histogram

	// OracleDuration tracks oracle round-trip latency per request.
	OracleDuration metric.Float64Histogram

	// --- Counters ---

	// OracleRequests counts oracle API calls. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("status", ...)
	OracleRequests metric.Int64Counter

	// OracleTokens counts tokens spent. Use with attribute:
	//   attribute.String("kind", "prompt"|"completion")
	OracleTokens metric.Int64Counter

	// CacheEvents counts cache lookups. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("result", "hit"|"miss")
	CacheEvents metric.Int64Counter

	// EntitiesProcessed counts entities flowing through extraction. Use with
	// attribute: attribute.String("category", ...)
	EntitiesProcessed metric.Int64Counter

	// ResolutionWarnings counts dangling edges and authority conflicts. Use
	// with attribute: attribute.String("kind", ...)
	ResolutionWarnings metric.Int64Counter

	// --- Gauges ---

	// ActiveWorkers tracks the number of busy analysis workers.
	ActiveWorkers metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// pipeline stages: oracle calls run seconds, full stages minutes.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("dreadhex.stage.duration",
		metric.WithDescription("Wall time per pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.OracleDuration, err = m.Float64Histogram("dreadhex.oracle.duration",
		metric.WithDescription("Oracle round-trip latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.OracleRequests, err = m.Int64Counter("dreadhex.oracle.requests",
		metric.WithDescription("Total oracle API requests by stage and status."),
	); err != nil {
		return nil, err
	}
	if met.OracleTokens, err = m.Int64Counter("dreadhex.oracle.tokens",
		metric.WithDescription("Total oracle tokens spent by kind."),
	); err != nil {
		return nil, err
	}
	if met.CacheEvents, err = m.Int64Counter("dreadhex.cache.events",
		metric.WithDescription("Cache lookups by stage and result."),
	); err != nil {
		return nil, err
	}
	if met.EntitiesProcessed, err = m.Int64Counter("dreadhex.entities.processed",
		metric.WithDescription("Entities categorized, by category."),
	); err != nil {
		return nil, err
	}
	if met.ResolutionWarnings, err = m.Int64Counter("dreadhex.resolution.warnings",
		metric.WithDescription("Dangling edges and authority conflicts by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveWorkers, err = m.Int64UpDownCounter("dreadhex.active_workers",
		metric.WithDescription("Number of busy analysis workers."),
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

// RecordOracleRequest records one oracle call with the standard attribute
// set.
func (m *Metrics) RecordOracleRequest(ctx context.Context, stage, status string) {
	m.OracleRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("status", status),
		),
	)
}

// RecordTokens records token spend from one oracle response.
func (m *Metrics) RecordTokens(ctx context.Context, prompt, completion int) {
	if prompt > 0 {
		m.OracleTokens.Add(ctx, int64(prompt),
			metric.WithAttributes(attribute.String("kind", "prompt")))
	}
	if completion > 0 {
		m.OracleTokens.Add(ctx, int64(completion),
			metric.WithAttributes(attribute.String("kind", "completion")))
	}
}

// RecordCacheEvent records one cache lookup outcome.
func (m *Metrics) RecordCacheEvent(ctx context.Context, stage string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheEvents.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("result", result),
		),
	)
}

// RecordEntity records one categorized entity.
func (m *Metrics) RecordEntity(ctx context.Context, category string) {
	m.EntitiesProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("category", category)),
	)
}

// RecordResolutionWarning records one dangling edge or authority conflict.
func (m *Metrics) RecordResolutionWarning(ctx context.Context, kind string) {
	m.ResolutionWarnings.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
