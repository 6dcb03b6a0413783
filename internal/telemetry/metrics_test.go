package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		if scope.Scope.Name != MeterName {
			continue
		}
		for _, m := range scope.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestNewMetricsNilProvider(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	// nil metrics must not panic
	m.RecordSourceFetch(context.Background(), "spotify", "success", time.Second)
	m.RecordCacheLookup(context.Background(), CacheHit)
	m.RecordAggregation(context.Background(), true, 90)
}

func TestRecordSourceFetch(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	m, err := NewMetrics(mp)
	require.NoError(t, err)

	m.RecordSourceFetch(context.Background(), "spotify", "success", 200*time.Millisecond)
	m.RecordSourceFetch(context.Background(), "spotify", "success", 300*time.Millisecond)
	m.RecordSourceFetch(context.Background(), "genius", "timeout", 8*time.Second)

	metrics := collect(t, reader)
	sum, ok := metrics["isrc_source_fetch_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)

	counts := map[string]int64{}
	for _, dp := range sum.DataPoints {
		provider, _ := dp.Attributes.Value(attribute.Key("provider"))
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		counts[provider.AsString()+"/"+status.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"spotify/success": 2, "genius/timeout": 1}, counts)

	hist, ok := metrics["isrc_source_fetch_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	assert.Equal(t, uint64(3), total)
}

func TestRecordAggregation(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	m, err := NewMetrics(mp)
	require.NoError(t, err)

	m.RecordAggregation(context.Background(), true, 87.5)
	m.RecordAggregation(context.Background(), false, 0)
	m.RecordCacheLookup(context.Background(), CacheMiss)

	metrics := collect(t, reader)

	scores, ok := metrics["isrc_confidence_score"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, scores.DataPoints, 1)
	assert.Equal(t, uint64(1), scores.DataPoints[0].Count)
	assert.InDelta(t, 87.5, scores.DataPoints[0].Sum, 1e-9)

	runs, ok := metrics["isrc_aggregations_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, runs.DataPoints, 2)

	assert.Contains(t, metrics, "isrc_cache_lookups_total")
}
