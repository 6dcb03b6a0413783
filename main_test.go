package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ces0491/isrc-meta-data-finder/internal/apperrors"
	"github.com/ces0491/isrc-meta-data-finder/internal/batch"
	"github.com/ces0491/isrc-meta-data-finder/internal/database"
	"github.com/ces0491/isrc-meta-data-finder/internal/models"
	"github.com/ces0491/isrc-meta-data-finder/internal/registry"
)

const recordingPayload = `{
  "isrc": "USRC17607839",
  "recordings": [{
    "id": "0d5a4f3e-1111-2222-3333-444455556666",
    "title": "Mr. Brightside",
    "length": 222075,
    "first-release-date": "2003-09-29",
    "artist-credit": [{"name": "The Killers", "joinphrase": ""}],
    "releases": [{"id": "r1", "title": "Hot Fuss", "date": "2004-06-07"}]
  }]
}`

var credentialEnv = []string{
	"ISRCFINDER_CONFIG", "SPOTIFY_CLIENT_ID", "SPOTIFY_CLIENT_SECRET", "YOUTUBE_API_KEY",
	"GENIUS_API_KEY", "LASTFM_API_KEY", "DISCOGS_USER_TOKEN", "DATABASE_PATH",
	"LOG_LEVEL", "LOG_FORMAT", "ISRCFINDER_BATCH_WORKERS", "ISRCFINDER_CACHE_TTL",
}

// setup writes a config that points MusicBrainz at a fake server and keeps the
// database in a temp dir. Only MusicBrainz is configured.
func setup(t *testing.T) (configPath string, calls *atomic.Int32) {
	t.Helper()
	for _, env := range credentialEnv {
		t.Setenv(env, "")
	}

	calls = &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/isrc/USRC17607839" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(recordingPayload))
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	configPath = filepath.Join(dir, "isrcfinder.yaml")
	yaml := strings.Join([]string{
		"logLevel: error",
		"database:",
		"  path: " + filepath.Join(dir, "isrc.db"),
		"providers:",
		"  musicbrainz:",
		"    baseUrl: " + srv.URL,
		"    maxRetries: 0",
	}, "\n")
	require.NoError(t, os.WriteFile(configPath, []byte(yaml), 0o600))
	return configPath, calls
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	stdout, _, err := runWithStderr(t, args...)
	return stdout, err
}

func runWithStderr(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestAnalyzeWritesJSON(t *testing.T) {
	configPath, calls := setup(t)

	out, err := run(t, "--config", configPath, "analyze", "usrc1-76-07839")
	require.NoError(t, err)

	var analyses []models.Analysis
	require.NoError(t, json.Unmarshal([]byte(out), &analyses))
	require.Len(t, analyses, 1)
	a := analyses[0]
	assert.Equal(t, "USRC17607839", a.Record.ISRC)
	assert.Equal(t, "Mr. Brightside", a.Record.Title)
	assert.Equal(t, "The Killers", a.Record.Artist)
	assert.Equal(t, []models.Provider{models.MusicBrainz}, a.Record.Sources)
	assert.False(t, a.FromCache)
	assert.Len(t, a.Score.Breakdown, 8)
	assert.Positive(t, calls.Load())
}

func TestAnalyzeInvalidISRC(t *testing.T) {
	configPath, calls := setup(t)

	_, err := run(t, "--config", configPath, "analyze", "NOT-AN-ISRC")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidFormat)
	assert.Zero(t, calls.Load())
}

func TestShowAndStatsReadStoredAnalysis(t *testing.T) {
	configPath, _ := setup(t)

	_, err := run(t, "--config", configPath, "analyze", "USRC17607839")
	require.NoError(t, err)

	out, err := run(t, "--config", configPath, "show", "USRC17607839")
	require.NoError(t, err)
	var shown struct {
		Record  models.CanonicalTrackRecord `json:"record"`
		Score   models.ConfidenceScore      `json:"score"`
		History []map[string]any            `json:"history"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "Hot Fuss", shown.Record.Album)
	assert.Positive(t, shown.Score.Total)
	require.Len(t, shown.History, 1)
	assert.Equal(t, models.HistorySuccess, shown.History[0]["status"])
	assert.Equal(t, "quick", shown.History[0]["analysis_type"])

	out, err = run(t, "--config", configPath, "stats")
	require.NoError(t, err)
	var stats database.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, int64(1), stats.Tracks)
	assert.Equal(t, int64(1), stats.Analyses)
}

func TestShowUnknownISRC(t *testing.T) {
	configPath, _ := setup(t)

	_, err := run(t, "--config", configPath, "show", "GBAYE0601498")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestBulkFromFile(t *testing.T) {
	configPath, _ := setup(t)

	csvPath := filepath.Join(t.TempDir(), "isrcs.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("Track Name,ISRC\nMr. Brightside,USRC17607839\nBroken,bad\n"), 0o600))

	out, err := run(t, "--config", configPath, "bulk", "--file", csvPath, "--workers", "2")
	require.NoError(t, err)

	var report batch.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Items, 2)
	assert.Equal(t, batch.ItemDone, report.Items[0].Status)
	assert.Equal(t, "Mr. Brightside", report.Items[0].Analysis.Record.Title)
	assert.Equal(t, batch.ItemFailed, report.Items[1].Status)
	assert.NotEmpty(t, report.Items[1].Error)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, 1, report.Failed)
}

func TestBulkNeedsInput(t *testing.T) {
	configPath, _ := setup(t)

	_, err := run(t, "--config", configPath, "bulk")
	assert.ErrorContains(t, err, "no ISRCs given")
}

func TestSourcesReportsConfiguration(t *testing.T) {
	configPath, _ := setup(t)
	t.Setenv("GENIUS_API_KEY", "g-token")

	out, err := run(t, "--config", configPath, "sources")
	require.NoError(t, err)

	var status []registry.ProviderStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	require.Len(t, status, len(models.AllProviders))
	byProvider := map[models.Provider]string{}
	for _, s := range status {
		byProvider[s.Provider] = s.Status
	}
	assert.Equal(t, registry.StatusOperational, byProvider[models.MusicBrainz])
	assert.Equal(t, registry.StatusOperational, byProvider[models.Genius])
	assert.Equal(t, registry.StatusNotConfigured, byProvider[models.Spotify])
}

func TestBadConfigFails(t *testing.T) {
	configPath, _ := setup(t)
	require.NoError(t, os.WriteFile(configPath, []byte("providers:\n  napster: {}\n"), 0o600))

	_, err := run(t, "--config", configPath, "sources")
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestMetricsSummaryCountsTheRun(t *testing.T) {
	configPath, _ := setup(t)

	_, stderr, err := runWithStderr(t, "--config", configPath, "--metrics", "analyze", "USRC17607839")
	require.NoError(t, err)

	assert.Contains(t, stderr, "isrc_aggregations_total")
	assert.Contains(t, stderr, "outcome=success")
	assert.Contains(t, stderr, "isrc_cache_lookups_total")
	assert.Contains(t, stderr, "result=miss")
	assert.Contains(t, stderr, "provider=musicbrainz,status=success")
}

func TestMetricsSummaryOffByDefault(t *testing.T) {
	configPath, _ := setup(t)

	_, stderr, err := runWithStderr(t, "--config", configPath, "analyze", "USRC17607839")
	require.NoError(t, err)
	assert.NotContains(t, stderr, "isrc_aggregations_total")
}
