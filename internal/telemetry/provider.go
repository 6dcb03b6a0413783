package telemetry

import (
	"cmp"
	"context"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Provider is an SDK meter provider read on demand, for processes that report
// their own counters on exit instead of exporting them.
type Provider struct {
	reader *sdkmetric.ManualReader
	mp     *sdkmetric.MeterProvider
}

func NewProvider() *Provider {
	reader := sdkmetric.NewManualReader()
	return &Provider{
		reader: reader,
		mp:     sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
}

func (p *Provider) MeterProvider() metric.MeterProvider { return p.mp }

// Sample is one series. Counters report their value in Count and Value;
// histograms report the number of observations and their sum.
type Sample struct {
	Name       string  `json:"name"`
	Attributes string  `json:"attributes,omitempty"`
	Count      uint64  `json:"count"`
	Value      float64 `json:"value"`
}

// Snapshot collects the engine instruments, sorted by name then attributes.
func (p *Provider) Snapshot(ctx context.Context) ([]Sample, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}

	var out []Sample
	for _, scope := range rm.ScopeMetrics {
		if scope.Scope.Name != MeterName {
			continue
		}
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out = append(out, Sample{
						Name:       m.Name,
						Attributes: encode(dp.Attributes),
						Count:      uint64(max(dp.Value, 0)),
						Value:      float64(dp.Value),
					})
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					out = append(out, Sample{
						Name:       m.Name,
						Attributes: encode(dp.Attributes),
						Count:      dp.Count,
						Value:      dp.Sum,
					})
				}
			}
		}
	}
	slices.SortFunc(out, func(a, b Sample) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.Attributes, b.Attributes))
	})
	return out, nil
}

func (p *Provider) Shutdown(ctx context.Context) error {
	return p.mp.Shutdown(ctx)
}

func encode(set attribute.Set) string {
	return set.Encoded(attribute.DefaultEncoder())
}
