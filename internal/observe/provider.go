package observe

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ProviderConfig configures the OpenTelemetry SDK provider.
type ProviderConfig struct {
	// ServiceName is the service name reported in telemetry. Default:
	// "dreadhex".
	ServiceName string

	// ServiceVersion is the service version reported in telemetry.
	ServiceVersion string
}

// Provider wraps the metric SDK for one pipeline run. Metrics accumulate in
// process and are read once through the manual reader when the run ends.
type Provider struct {
	mp     *sdkmetric.MeterProvider
	reader *sdkmetric.ManualReader
}

// InitProvider initialises the OTel metric SDK with a manual reader and
// registers it as the global meter provider.
func InitProvider(cfg ProviderConfig) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "dreadhex"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	return &Provider{mp: mp, reader: reader}, nil
}

// MeterProvider exposes the underlying provider for [NewMetrics].
func (p *Provider) MeterProvider() *sdkmetric.MeterProvider { return p.mp }

// Shutdown flushes and closes the SDK. Call it in a defer from main().
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.mp.Shutdown(ctx)
}

// Snapshot collects all accumulated metrics and flattens the sums into
// "name{attr=value,...}" → value lines, sorted by name, for the run summary.
// Histogram instruments contribute their count and total.
func (p *Provider) Snapshot(ctx context.Context) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("observe: collect metrics: %w", err)
	}

	out := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name+attrSuffix(dp.Attributes.ToSlice())] = dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					key := m.Name + attrSuffix(dp.Attributes.ToSlice())
					out[key+".count"] = int64(dp.Count)
					out[key+".total_ms"] = int64(dp.Sum * 1000)
				}
			}
		}
	}
	return out, nil
}

func attrSuffix(attrs []attribute.KeyValue) string {
	if len(attrs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(attrs))
	for _, a := range attrs {
		parts = append(parts, string(a.Key)+"="+a.Value.Emit())
	}
	sort.Strings(parts)
	out := "{"
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out + "}"
}
