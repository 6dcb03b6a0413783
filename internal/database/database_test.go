package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ces0491/isrc-meta-data-finder/internal/apperrors"
	"github.com/ces0491/isrc-meta-data-finder/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func brightside() *models.CanonicalTrackRecord {
	return &models.CanonicalTrackRecord{
		ISRC:        "USRC17607839",
		Title:       "Mr. Brightside",
		Artist:      "The Killers",
		Album:       "Hot Fuss",
		DurationMS:  222075,
		ReleaseDate: "2004-06-07",
		AudioFeatures: models.AudioFeatures{
			Tempo: models.Ptr(148.1),
			Key:   models.Ptr(1),
			Mode:  models.Ptr(1),
		},
		ExternalIDs: map[models.Provider]string{
			models.Spotify:     "003vvx7Niy0yvhvHt4a68B",
			models.MusicBrainz: "0d7b8a4c-7b0f-4b8e-8b0a-2a5c8a4c7b0f",
		},
		Popularity: models.PopularityMetrics{SpotifyPopularity: models.Ptr(88)},
		Lyrics:     &models.Lyrics{Text: "Coming out of my cage", Language: "en", URL: "https://genius.com/x"},
		Credits: []models.Credit{
			{Role: "writer", Name: "Brandon Flowers"},
			{Role: "producer", Name: "Jeff Saltzman"},
		},
		Sources: []models.Provider{models.Spotify, models.MusicBrainz, models.Genius},
	}
}

func TestSaveAndLoad(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()
	score := models.ConfidenceScore{Total: 81.25, Rating: models.RatingGood}

	require.NoError(t, db.Save(ctx, brightside(), score))

	got, gotScore, err := db.Load(ctx, "USRC17607839")
	require.NoError(t, err)
	assert.Equal(t, brightside(), got)
	assert.Equal(t, 81.25, gotScore.Total)
	assert.Equal(t, models.RatingGood, gotScore.Rating)
}

func TestSaveKeepsExistingExternalIDs(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.Save(ctx, brightside(), models.ConfidenceScore{Total: 80}))

	update := &models.CanonicalTrackRecord{
		ISRC:        "USRC17607839",
		Title:       "Mr. Brightside",
		ExternalIDs: map[models.Provider]string{models.YouTube: "gGdGFtwCNBE"},
		Sources:     []models.Provider{models.YouTube},
	}
	require.NoError(t, db.Save(ctx, update, models.ConfidenceScore{Total: 30, Rating: models.RatingInsufficient}))

	got, score, err := db.Load(ctx, "USRC17607839")
	require.NoError(t, err)
	assert.Equal(t, map[models.Provider]string{
		models.Spotify:     "003vvx7Niy0yvhvHt4a68B",
		models.MusicBrainz: "0d7b8a4c-7b0f-4b8e-8b0a-2a5c8a4c7b0f",
		models.YouTube:     "gGdGFtwCNBE",
	}, got.ExternalIDs)
	assert.Empty(t, got.Album)
	assert.Nil(t, got.AudioFeatures.Tempo)
	assert.Equal(t, 30.0, score.Total)
	// lyrics and credits survive an update that lacks them
	require.NotNil(t, got.Lyrics)
	assert.Len(t, got.Credits, 2)
}

func TestSaveReplacesCredits(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.Save(ctx, brightside(), models.ConfidenceScore{}))

	rec := brightside()
	rec.Credits = []models.Credit{{Role: "composer", Name: "Dave Keuning"}}
	require.NoError(t, db.Save(ctx, rec, models.ConfidenceScore{}))

	got, _, err := db.Load(ctx, rec.ISRC)
	require.NoError(t, err)
	assert.Equal(t, rec.Credits, got.Credits)
}

func TestLoadMissing(t *testing.T) {
	t.Parallel()

	_, _, err := openTestDB(t).Load(context.Background(), "GBAYE0601498")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSaveRejectsEmptyISRC(t *testing.T) {
	t.Parallel()

	err := openTestDB(t).Save(context.Background(), &models.CanonicalTrackRecord{}, models.ConfidenceScore{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidFormat)
}

func TestHistoryAndStats(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.Save(ctx, brightside(), models.ConfidenceScore{Total: 90}))

	require.NoError(t, db.RecordAnalysis(ctx, models.HistoryEntry{
		ISRC: "USRC17607839", AnalysisType: "quick", Status: models.HistorySuccess,
		Confidence: models.Ptr(90.0), ProcessingTime: 1500 * time.Millisecond,
	}))
	require.NoError(t, db.RecordAnalysis(ctx, models.HistoryEntry{
		ISRC: "USRC17607839", AnalysisType: "comprehensive", Status: models.HistoryFailed,
		Error: "aggregation total failure",
	}))

	history, err := db.History(ctx, "USRC17607839", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.HistoryFailed, history[0].Status)
	assert.Nil(t, history[0].Confidence)
	assert.Equal(t, "aggregation total failure", history[0].Error)
	assert.Equal(t, 1500*time.Millisecond, history[1].ProcessingTime)
	assert.InDelta(t, 90.0, *history[1].Confidence, 1e-9)
	assert.False(t, history[1].CreatedAt.IsZero())

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Tracks: 1, WithLyrics: 1, Credits: 2, Analyses: 2, AverageConfidence: 90}, stats)
}

func TestOpenFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "isrc.db")
	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, db.Save(context.Background(), brightside(), models.ConfidenceScore{}))
	require.NoError(t, db.Close())

	reopened, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer reopened.Close()
	got, _, err := reopened.Load(context.Background(), "USRC17607839")
	require.NoError(t, err)
	assert.Equal(t, "Hot Fuss", got.Album)
}
