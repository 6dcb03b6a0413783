// Package telemetry provides OpenTelemetry instruments for the aggregation engine.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope used for every engine instrument.
const MeterName = "github.com/ces0491/isrc-meta-data-finder/engine"

// Cache lookup results.
const (
	CacheHit     = "hit"
	CacheMiss    = "miss"
	CacheExpired = "expired"
	CacheForced  = "forced"
)

// Aggregation outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the engine instruments. A nil *Metrics records nothing.
type Metrics struct {
	sourceFetches   metric.Int64Counter
	sourceDuration  metric.Float64Histogram
	cacheLookups    metric.Int64Counter
	aggregations    metric.Int64Counter
	confidenceScore metric.Float64Histogram
}

// NewMetrics creates the instruments from provider.
// If provider is nil, it returns nil (no-op metrics).
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(MeterName)

	sourceFetches, err := meter.Int64Counter(
		"isrc_source_fetch_total",
		metric.WithDescription("Provider fetches by final status"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, err
	}

	sourceDuration, err := meter.Float64Histogram(
		"isrc_source_fetch_duration_seconds",
		metric.WithDescription("Duration of provider fetches in seconds, retries included"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	cacheLookups, err := meter.Int64Counter(
		"isrc_cache_lookups_total",
		metric.WithDescription("Analysis cache lookups by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	aggregations, err := meter.Int64Counter(
		"isrc_aggregations_total",
		metric.WithDescription("Aggregation runs by outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	confidenceScore, err := meter.Float64Histogram(
		"isrc_confidence_score",
		metric.WithDescription("Confidence totals of successful aggregations"),
		metric.WithExplicitBucketBoundaries(40, 60, 75, 90, 100),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		sourceFetches:   sourceFetches,
		sourceDuration:  sourceDuration,
		cacheLookups:    cacheLookups,
		aggregations:    aggregations,
		confidenceScore: confidenceScore,
	}, nil
}

// RecordSourceFetch records one provider fetch and its latency.
func (m *Metrics) RecordSourceFetch(ctx context.Context, provider, status string, latency time.Duration) {
	if m == nil {
		return
	}
	m.sourceFetches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	))
	m.sourceDuration.Record(ctx, latency.Seconds(), metric.WithAttributes(
		attribute.String("provider", provider),
	))
}

// RecordCacheLookup counts one cache lookup.
func (m *Metrics) RecordCacheLookup(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordAggregation counts one aggregation run. The score is only recorded for
// successful runs.
func (m *Metrics) RecordAggregation(ctx context.Context, success bool, score float64) {
	if m == nil {
		return
	}
	outcome := OutcomeFailure
	if success {
		outcome = OutcomeSuccess
		m.confidenceScore.Record(ctx, score)
	}
	m.aggregations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
