// Package engine exposes the analysis operations: validate, serve from cache
// or aggregate once per key, score, persist.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ces0491/isrc-meta-data-finder/internal/aggregator"
	"github.com/ces0491/isrc-meta-data-finder/internal/apperrors"
	"github.com/ces0491/isrc-meta-data-finder/internal/batch"
	"github.com/ces0491/isrc-meta-data-finder/internal/cache"
	"github.com/ces0491/isrc-meta-data-finder/internal/isrc"
	"github.com/ces0491/isrc-meta-data-finder/internal/logging"
	"github.com/ces0491/isrc-meta-data-finder/internal/models"
	"github.com/ces0491/isrc-meta-data-finder/internal/scoring"
	"github.com/ces0491/isrc-meta-data-finder/internal/telemetry"
)

// Repository stores merged records. Load returns a score with total and
// rating only.
type Repository interface {
	Save(ctx context.Context, record *models.CanonicalTrackRecord, score models.ConfidenceScore) error
	Load(ctx context.Context, isrc string) (*models.CanonicalTrackRecord, models.ConfidenceScore, error)
}

// HistoryRecorder receives one audit entry per Analyze call.
type HistoryRecorder interface {
	RecordAnalysis(ctx context.Context, entry models.HistoryEntry) error
}

type Service struct {
	aggregator *aggregator.Aggregator
	cache      *cache.Cache
	batchOpts  []batch.Option
	repo       Repository
	history    HistoryRecorder
	metrics    *telemetry.Metrics
	base       *slog.Logger
	logger     *slog.Logger
}

type Option func(*Service)

func WithRepository(r Repository) Option {
	return func(s *Service) { s.repo = r }
}

func WithHistory(h HistoryRecorder) Option {
	return func(s *Service) { s.history = h }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.base = l
		s.logger = logging.NewComponentLogger(l, "engine")
	}
}

// WithBatchOptions configures the coordinator used by AnalyzeBulk.
func WithBatchOptions(opts ...batch.Option) Option {
	return func(s *Service) { s.batchOpts = append(s.batchOpts, opts...) }
}

func New(agg *aggregator.Aggregator, c *cache.Cache, opts ...Option) *Service {
	s := &Service{
		aggregator: agg,
		cache:      c,
		logger:     logging.NewComponentLogger(nil, "engine"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Analyze returns the analysis of one ISRC. Only an invalid code, a total
// aggregation failure or the caller's own cancellation come back as errors;
// source failures lower the score instead. On total failure a previously
// cached analysis is returned alongside the error, marked stale.
func (s *Service) Analyze(ctx context.Context, raw string, opts models.Options) (*models.Analysis, error) {
	started := time.Now()
	code, err := isrc.Normalize(raw)
	if err != nil {
		return nil, err
	}

	a, err := s.cache.GetOrLoad(ctx, cache.Key(code, opts), opts.ForceRefresh, s.aggregator.Deadline(opts),
		func(ctx context.Context) (*models.Analysis, error) {
			return s.aggregate(ctx, code, opts)
		})

	s.record(ctx, code, opts, a, err, time.Since(started))
	return a, err
}

func (s *Service) aggregate(ctx context.Context, code string, opts models.Options) (*models.Analysis, error) {
	res, err := s.aggregator.Aggregate(ctx, code, opts)
	if err != nil {
		s.metrics.RecordAggregation(ctx, false, 0)
		return nil, err
	}

	score := scoring.Score(res.Record, res.Provenance, res.Provenance.Attempted)
	s.metrics.RecordAggregation(ctx, true, score.Total)

	if s.repo != nil {
		if err := s.repo.Save(ctx, res.Record, score); err != nil {
			s.logger.Warn("persisting record failed",
				logging.String(logging.FieldISRC, code),
				logging.String(logging.FieldRunID, res.Provenance.RunID),
				logging.Error(err))
		}
	}
	return &models.Analysis{Record: res.Record, Score: score, Provenance: res.Provenance}, nil
}

func (s *Service) record(ctx context.Context, code string, opts models.Options, a *models.Analysis, err error, elapsed time.Duration) {
	entry := models.HistoryEntry{
		ISRC:           code,
		AnalysisType:   opts.AnalysisType(),
		Status:         models.HistorySuccess,
		ProcessingTime: elapsed,
	}
	switch {
	case err != nil:
		entry.Status = models.HistoryFailed
		entry.Error = err.Error()
	case a.FromCache:
		entry.Status = models.HistoryCached
	}
	if err == nil {
		entry.Confidence = models.Ptr(a.Score.Total)
	}

	logger := s.logger.With(
		logging.String(logging.FieldISRC, code),
		logging.String(logging.FieldStatus, entry.Status),
		logging.Duration(logging.FieldLatency, elapsed))
	switch {
	case errors.Is(err, context.Canceled):
		logger.Info("analysis abandoned by caller")
	case err != nil:
		logger.Warn("analysis failed", logging.Error(err))
	default:
		logger.Info("analysis complete",
			logging.Float64("confidence", a.Score.Total),
			logging.String("rating", string(a.Score.Rating)))
	}

	if s.history == nil {
		return
	}
	if herr := s.history.RecordAnalysis(context.WithoutCancel(ctx), entry); herr != nil {
		logger.Warn("recording analysis history failed", logging.Error(herr))
	}
}

// AnalyzeBulk analyzes isrcs with bounded concurrency. The report has one item
// per input, in input order; invalid codes become failed items.
func (s *Service) AnalyzeBulk(ctx context.Context, isrcs []string, opts models.Options) *batch.Report {
	return s.StartBulk(ctx, isrcs, opts).Wait()
}

// StartBulk is AnalyzeBulk without waiting, for callers that poll progress.
func (s *Service) StartBulk(ctx context.Context, isrcs []string, opts models.Options) *batch.Run {
	coordinator := batch.New(append([]batch.Option{batch.WithLogger(s.base)}, s.batchOpts...)...)
	return coordinator.Start(ctx, isrcs, func(ctx context.Context, code string) (*models.Analysis, error) {
		return s.Analyze(ctx, code, opts)
	})
}

// Invalidate drops the cached analysis for (isrc, opts).
func (s *Service) Invalidate(raw string, opts models.Options) error {
	code, err := isrc.Normalize(raw)
	if err != nil {
		return err
	}
	s.cache.Invalidate(cache.Key(code, opts))
	return nil
}

// Stored loads the persisted record for isrc.
func (s *Service) Stored(ctx context.Context, raw string) (*models.CanonicalTrackRecord, models.ConfidenceScore, error) {
	code, err := isrc.Normalize(raw)
	if err != nil {
		return nil, models.ConfidenceScore{}, err
	}
	if s.repo == nil {
		return nil, models.ConfidenceScore{}, apperrors.Wrap(apperrors.ErrConfiguration, "engine", "load", "no repository configured", nil)
	}
	return s.repo.Load(ctx, code)
}
