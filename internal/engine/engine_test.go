package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ces0491/isrc-meta-data-finder/internal/aggregator"
	"github.com/ces0491/isrc-meta-data-finder/internal/apperrors"
	"github.com/ces0491/isrc-meta-data-finder/internal/batch"
	"github.com/ces0491/isrc-meta-data-finder/internal/cache"
	"github.com/ces0491/isrc-meta-data-finder/internal/models"
	"github.com/ces0491/isrc-meta-data-finder/internal/registry"
	"github.com/ces0491/isrc-meta-data-finder/internal/sources"
	"github.com/ces0491/isrc-meta-data-finder/internal/sources/sourcetest"
)

const brightside = "USRC17607839"

type memoryRepo struct {
	mu      sync.Mutex
	saved   map[string]*models.CanonicalTrackRecord
	history []models.HistoryEntry
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{saved: map[string]*models.CanonicalTrackRecord{}}
}

func (m *memoryRepo) Save(_ context.Context, r *models.CanonicalTrackRecord, _ models.ConfidenceScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[r.ISRC] = r.Clone()
	return nil
}

func (m *memoryRepo) Load(_ context.Context, isrc string) (*models.CanonicalTrackRecord, models.ConfidenceScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.saved[isrc]
	if !ok {
		return nil, models.ConfidenceScore{}, apperrors.ErrNotFound
	}
	return r.Clone(), models.ConfidenceScore{}, nil
}

func (m *memoryRepo) RecordAnalysis(_ context.Context, e models.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, e)
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	service *Service
	spotify *sourcetest.Client
	mb      *sourcetest.Client
	repo    *memoryRepo
	clock   *clock
}

func newFixture(t *testing.T, deadline time.Duration, extra ...sources.Client) *fixture {
	t.Helper()
	f := &fixture{
		spotify: sourcetest.Succeeding(models.Spotify, models.FieldSet{
			Title:       "Mr. Brightside",
			Artist:      "The Killers",
			Album:       "Hot Fuss",
			DurationMS:  222075,
			ReleaseDate: "2004-06-07",
			ExternalIDs: map[models.Provider]string{models.Spotify: "003vvx7Niy0yvhvHt4a68B"},
		}),
		mb: sourcetest.Succeeding(models.MusicBrainz, models.FieldSet{
			Title:       "Mr. Brightside",
			Artist:      "The Killers",
			Album:       "Hot Fuss",
			DurationMS:  222000,
			ReleaseDate: "2003-09-29",
			ExternalIDs: map[models.Provider]string{models.MusicBrainz: "mbid"},
		}),
		repo:  newMemoryRepo(),
		clock: &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	clients := append([]sources.Client{f.spotify, f.mb}, extra...)
	agg := aggregator.New(registry.FromClients(clients...), aggregator.WithDeadlines(deadline, deadline))
	f.service = New(agg, cache.New(24*time.Hour, cache.WithClock(f.clock.Now)),
		WithRepository(f.repo),
		WithHistory(f.repo),
		WithBatchOptions(batch.WithWorkers(2)),
	)
	return f
}

func TestAnalyzeRejectsInvalidISRC(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Second)
	_, err := f.service.Analyze(context.Background(), "not-an-isrc", models.Options{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidFormat)
	assert.Zero(t, f.spotify.Calls())
	assert.Zero(t, f.mb.Calls())
}

func TestAnalyzeCacheHitMakesNoCalls(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Second)
	first, err := f.service.Analyze(context.Background(), "us-rc1-76-07839", models.Options{})
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, brightside, first.Record.ISRC)

	second, err := f.service.Analyze(context.Background(), brightside, models.Options{})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Record, second.Record)
	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, 1, f.spotify.Calls())
	assert.Equal(t, 1, f.mb.Calls())

	require.Len(t, f.repo.history, 2)
	assert.Equal(t, models.HistorySuccess, f.repo.history[0].Status)
	assert.Equal(t, models.HistoryCached, f.repo.history[1].Status)
	assert.Contains(t, f.repo.saved, brightside)
}

func TestAnalyzeSingleFlight(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Second)
	f.spotify.Delay = 50 * time.Millisecond
	f.mb.Delay = 50 * time.Millisecond

	const callers = 8
	results := make([]*models.Analysis, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := f.service.Analyze(context.Background(), brightside, models.Options{})
			assert.NoError(t, err)
			results[i] = a
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.spotify.Calls())
	assert.Equal(t, 1, f.mb.Calls())
	for _, a := range results {
		require.NotNil(t, a)
		assert.Equal(t, results[0].Record, a.Record)
		assert.Equal(t, results[0].Provenance.RunID, a.Provenance.RunID)
	}
}

func TestAnalyzeTotalFailureKeepsCachedEntry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 50*time.Millisecond)
	good, err := f.service.Analyze(context.Background(), brightside, models.Options{})
	require.NoError(t, err)

	f.spotify.Delay = time.Second
	f.mb.Delay = time.Second
	stale, err := f.service.Analyze(context.Background(), brightside, models.Options{ForceRefresh: true})
	require.ErrorIs(t, err, apperrors.ErrAggregationTotalFailure)
	require.NotNil(t, stale)
	assert.True(t, stale.Stale)
	assert.Equal(t, good.Record, stale.Record)

	again, err := f.service.Analyze(context.Background(), brightside, models.Options{})
	require.NoError(t, err)
	assert.True(t, again.FromCache)
	assert.Equal(t, good.Record, again.Record)
	assert.Equal(t, good.CachedAt, again.CachedAt)
}

func TestAnalyzeTotalFailureWithoutEntry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Second)
	spotifyOK, mbOK := f.spotify.Result, f.mb.Result
	f.spotify.Result = models.SourceResult{Source: models.Spotify, Status: models.StatusTimeout}
	f.mb.Result = models.SourceResult{Source: models.MusicBrainz, Status: models.StatusTimeout}

	a, err := f.service.Analyze(context.Background(), brightside, models.Options{})
	require.ErrorIs(t, err, apperrors.ErrAggregationTotalFailure)
	assert.Nil(t, a)
	assert.Empty(t, f.repo.saved)

	f.spotify.Result, f.mb.Result = spotifyOK, mbOK
	a, err = f.service.Analyze(context.Background(), brightside, models.Options{})
	require.NoError(t, err)
	assert.False(t, a.FromCache, "failure must not have created an entry")
	assert.Equal(t, models.HistoryFailed, f.repo.history[0].Status)
}

func TestAnalyzeTTL(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Second)
	_, err := f.service.Analyze(context.Background(), brightside, models.Options{})
	require.NoError(t, err)

	f.clock.Advance(23 * time.Hour)
	a, err := f.service.Analyze(context.Background(), brightside, models.Options{})
	require.NoError(t, err)
	assert.True(t, a.FromCache)
	assert.Equal(t, 1, f.mb.Calls())

	f.clock.Advance(2 * time.Hour)
	a, err = f.service.Analyze(context.Background(), brightside, models.Options{})
	require.NoError(t, err)
	assert.False(t, a.FromCache)
	assert.Equal(t, 2, f.mb.Calls())
}

func TestAnalyzeOnlyMusicBrainzSucceeds(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Second,
		sourcetest.Failing(models.YouTube, models.StatusRateLimited),
		sourcetest.Failing(models.Genius, models.StatusAuthError),
		sourcetest.Failing(models.LastFM, models.StatusFailure),
		sourcetest.Failing(models.Discogs, models.StatusTimeout),
	)
	f.spotify.Result = models.SourceResult{Source: models.Spotify, Status: models.StatusTimeout}

	a, err := f.service.Analyze(context.Background(), brightside, models.Options{Comprehensive: true, IncludeLyrics: true})
	require.NoError(t, err)

	assert.Len(t, a.Provenance.Attempted, 6)
	assert.Equal(t, []models.Provider{models.MusicBrainz}, a.Provenance.Succeeded)
	ds, ok := a.Score.Factor(models.FactorDataSources)
	require.True(t, ok)
	assert.InDelta(t, 25.0/6, ds.Contribution, 0.01)
	assert.LessOrEqual(t, a.Score.Rating.Rank(), models.RatingFair.Rank())
	assert.Equal(t, "Mr. Brightside", a.Record.Title)
}

func TestAnalyzeBulkPreservesOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Second)
	input := []string{brightside, "bogus", "GBAYE0601498", "usrc17607839"}

	report := f.service.AnalyzeBulk(context.Background(), input, models.Options{})

	require.Len(t, report.Items, len(input))
	for i, item := range report.Items {
		assert.Equal(t, i, item.Index)
		assert.Equal(t, input[i], item.ISRC)
	}
	assert.Equal(t, batch.ItemDone, report.Items[0].Status)
	assert.Equal(t, batch.ItemFailed, report.Items[1].Status)
	assert.ErrorIs(t, report.Items[1].Err, apperrors.ErrInvalidFormat)
	assert.Equal(t, batch.ItemDone, report.Items[2].Status)
	assert.Equal(t, "GBAYE0601498", report.Items[2].Analysis.Record.ISRC)
	assert.Equal(t, batch.ItemDone, report.Items[3].Status)
	assert.Equal(t, brightside, report.Items[3].Analysis.Record.ISRC)
}

func TestInvalidate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Second)
	opts := models.Options{IncludeCredits: true}
	_, err := f.service.Analyze(context.Background(), brightside, opts)
	require.NoError(t, err)

	require.NoError(t, f.service.Invalidate(brightside, models.Options{}))
	a, err := f.service.Analyze(context.Background(), brightside, opts)
	require.NoError(t, err)
	assert.True(t, a.FromCache, "other option sets are untouched")

	require.NoError(t, f.service.Invalidate("US-RC1-76-07839", opts))
	a, err = f.service.Analyze(context.Background(), brightside, opts)
	require.NoError(t, err)
	assert.False(t, a.FromCache)

	assert.ErrorIs(t, f.service.Invalidate("nope", opts), apperrors.ErrInvalidFormat)
}

func TestStored(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Second)
	_, err := f.service.Analyze(context.Background(), brightside, models.Options{})
	require.NoError(t, err)

	rec, _, err := f.service.Stored(context.Background(), brightside)
	require.NoError(t, err)
	assert.Equal(t, "Hot Fuss", rec.Album)

	_, _, err = New(nil, cache.New(0)).Stored(context.Background(), brightside)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}
