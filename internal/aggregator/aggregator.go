// Package aggregator fans one ISRC out to the applicable sources under a
// single deadline and merges whatever comes back.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ces0491/isrc-meta-data-finder/internal/apperrors"
	"github.com/ces0491/isrc-meta-data-finder/internal/logging"
	"github.com/ces0491/isrc-meta-data-finder/internal/models"
	"github.com/ces0491/isrc-meta-data-finder/internal/registry"
	"github.com/ces0491/isrc-meta-data-finder/internal/sources"
	"github.com/ces0491/isrc-meta-data-finder/internal/telemetry"
)

const (
	DefaultQuickDeadline         = 12 * time.Second
	DefaultComprehensiveDeadline = 30 * time.Second
)

// Result is the outcome of one aggregation run.
type Result struct {
	Record     *models.CanonicalTrackRecord
	Provenance *models.Provenance
	Sources    []models.SourceResult
}

type Aggregator struct {
	registry              *registry.Registry
	logger                *slog.Logger
	metrics               *telemetry.Metrics
	quickDeadline         time.Duration
	comprehensiveDeadline time.Duration
}

type Option func(*Aggregator)

func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = logging.NewComponentLogger(l, "aggregator") }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithDeadlines overrides the overall run deadlines. Non-positive values keep
// the defaults.
func WithDeadlines(quick, comprehensive time.Duration) Option {
	return func(a *Aggregator) {
		if quick > 0 {
			a.quickDeadline = quick
		}
		if comprehensive > 0 {
			a.comprehensiveDeadline = comprehensive
		}
	}
}

func New(reg *registry.Registry, opts ...Option) *Aggregator {
	a := &Aggregator{
		registry:              reg,
		logger:                logging.NewComponentLogger(nil, "aggregator"),
		quickDeadline:         DefaultQuickDeadline,
		comprehensiveDeadline: DefaultComprehensiveDeadline,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Deadline returns the overall run deadline for opts.
func (a *Aggregator) Deadline(opts models.Options) time.Duration {
	if opts.Comprehensive {
		return a.comprehensiveDeadline
	}
	return a.quickDeadline
}

// Aggregate runs every applicable source for isrc. Sources that search by ISRC
// go first; the rest run second with a title and artist taken from the first
// wave. Both waves share one deadline, and a source still pending when it
// passes is reported as timed out. Zero usable results is a total failure.
func (a *Aggregator) Aggregate(ctx context.Context, isrc string, opts models.Options) (*Result, error) {
	runID := uuid.NewString()
	logger := a.logger.With(logging.String(logging.FieldRunID, runID), logging.String(logging.FieldISRC, isrc))

	clients := a.registry.Applicable(opts)
	if len(clients) == 0 {
		return nil, apperrors.Wrap(apperrors.ErrAggregationTotalFailure, "aggregator", "dispatch", "no source is configured for these options", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, a.Deadline(opts))
	defer cancel()

	var byISRC, byHint []sources.Client
	for _, c := range clients {
		if registry.NeedsHint(c.Name()) {
			byHint = append(byHint, c)
		} else {
			byISRC = append(byISRC, c)
		}
	}

	started := time.Now()
	query := sources.Query{ISRC: isrc, Options: opts}
	results := a.dispatch(ctx, logger, byISRC, query)
	if len(byHint) > 0 {
		query.Title, query.Artist = hint(results)
		logger.Debug("resolved search hint",
			logging.String("title", query.Title),
			logging.String("artist", query.Artist))
		results = append(results, a.dispatch(ctx, logger, byHint, query)...)
	}
	sortCanonical(results)

	record, fields := Merge(isrc, results)
	prov := &models.Provenance{RunID: runID, Fields: fields}
	for _, res := range results {
		prov.Attempted = append(prov.Attempted, res.Source)
		if res.Usable() {
			prov.Succeeded = append(prov.Succeeded, res.Source)
		}
		summary := models.SourceSummary{Source: res.Source, Status: res.Status, Latency: res.Latency, Error: res.Detail}
		prov.Sources = append(prov.Sources, summary)
	}

	logger.Info("aggregation finished",
		logging.Int("attempted", len(prov.Attempted)),
		logging.Int("succeeded", len(prov.Succeeded)),
		logging.Duration(logging.FieldLatency, time.Since(started)))

	if len(prov.Succeeded) == 0 {
		return nil, apperrors.Wrap(apperrors.ErrAggregationTotalFailure, "aggregator", "merge",
			fmt.Sprintf("none of %d sources returned usable data", len(results)), nil)
	}
	return &Result{Record: record, Provenance: prov, Sources: results}, nil
}

// dispatch runs clients concurrently and collects their results until all
// have reported or ctx is done. Pending clients are then reported as timed
// out; their goroutines finish on their own once they observe ctx.
func (a *Aggregator) dispatch(ctx context.Context, logger *slog.Logger, clients []sources.Client, q sources.Query) []models.SourceResult {
	started := time.Now()
	out := make(chan models.SourceResult, len(clients))
	for _, c := range clients {
		go func(c sources.Client) {
			out <- a.fetch(ctx, c, q)
		}(c)
	}

	pending := make(map[models.Provider]bool, len(clients))
	for _, c := range clients {
		pending[c.Name()] = true
	}

	results := make([]models.SourceResult, 0, len(clients))
	for len(pending) > 0 {
		select {
		case res := <-out:
			delete(pending, res.Source)
			results = append(results, res)
			a.observe(ctx, logger, res)
		case <-ctx.Done():
			for _, c := range clients {
				if !pending[c.Name()] {
					continue
				}
				res := models.SourceResult{
					Source:  c.Name(),
					Status:  models.StatusTimeout,
					Latency: time.Since(started),
					Err:     apperrors.Wrap(apperrors.ErrSourceTimeout, string(c.Name()), "fetch", "aggregation deadline passed", ctx.Err()),
				}
				res.Detail = res.Err.Error()
				results = append(results, res)
				a.observe(ctx, logger, res)
			}
			return results
		}
	}
	return results
}

// fetch calls one client and turns a panic into a failure result.
func (a *Aggregator) fetch(ctx context.Context, c sources.Client, q sources.Query) (res models.SourceResult) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err := apperrors.Wrap(apperrors.ErrSourceUnavailable, string(c.Name()), "fetch", fmt.Sprintf("panic: %v", r), nil)
			res = sources.Failed(c.Name(), started, err)
		}
	}()
	res = c.Fetch(ctx, q)
	res.Source = c.Name()
	return res
}

func (a *Aggregator) observe(ctx context.Context, logger *slog.Logger, res models.SourceResult) {
	a.metrics.RecordSourceFetch(context.WithoutCancel(ctx), string(res.Source), string(res.Status), res.Latency)

	attrs := []any{
		logging.String(logging.FieldProvider, string(res.Source)),
		logging.String(logging.FieldStatus, string(res.Status)),
		logging.Duration(logging.FieldLatency, res.Latency),
	}
	switch res.Status {
	case models.StatusSuccess:
		logger.Debug("source finished", attrs...)
	case models.StatusPartial:
		logger.Info("source returned partial data", append(attrs, logging.String(logging.FieldErrorHint, res.Detail))...)
	default:
		logger.Warn("source failed", append(attrs, logging.String(logging.FieldErrorHint, res.Detail))...)
	}
}

func sortCanonical(results []models.SourceResult) {
	slices.SortStableFunc(results, func(a, b models.SourceResult) int {
		return slices.Index(models.AllProviders, a.Source) - slices.Index(models.AllProviders, b.Source)
	})
}
