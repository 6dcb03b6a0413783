// Package database persists merged records and the analysis audit trail in
// sqlite.
package database

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ces0491/isrc-meta-data-finder/internal/apperrors"
	"github.com/ces0491/isrc-meta-data-finder/internal/models"
)

//go:embed schema.sql
var schema string

// externalIDColumns maps providers onto their tracks column.
var externalIDColumns = []struct {
	provider models.Provider
	column   string
}{
	{models.Spotify, "spotify_id"},
	{models.MusicBrainz, "musicbrainz_id"},
	{models.YouTube, "youtube_id"},
	{models.Genius, "genius_id"},
	{models.LastFM, "lastfm_id"},
	{models.Discogs, "discogs_id"},
}

type DB struct {
	db *sql.DB
}

// Open connects to the sqlite file at path and applies the schema.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if path == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := InitDatabase(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

// InitDatabase runs the embedded schema and sets performance PRAGMAs.
func InitDatabase(ctx context.Context, db *sql.DB) error {
	// WAL keeps history writes from blocking concurrent loads
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA cache_size=-2000;"); err != nil {
		return fmt.Errorf("set pragmas: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (d *DB) Close() error { return d.db.Close() }

// Save upserts the record with its score. External IDs already stored are kept
// when the new record lacks them. Lyrics and credits are replaced only when
// the record carries them.
func (d *DB) Save(ctx context.Context, record *models.CanonicalTrackRecord, score models.ConfidenceScore) error {
	if record == nil || record.ISRC == "" {
		return apperrors.Wrap(apperrors.ErrInvalidFormat, "database", "save", "record without isrc", nil)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save %s: %w", record.ISRC, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertTrack(ctx, tx, record, score); err != nil {
		return err
	}
	if record.Lyrics != nil && record.Lyrics.Text != "" {
		if err := upsertLyrics(ctx, tx, record.ISRC, record.Lyrics); err != nil {
			return err
		}
	}
	if len(record.Credits) > 0 {
		if err := replaceCredits(ctx, tx, record.ISRC, record.Credits); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save %s: %w", record.ISRC, err)
	}
	return nil
}

func upsertTrack(ctx context.Context, tx *sql.Tx, r *models.CanonicalTrackRecord, score models.ConfidenceScore) error {
	af, pop := r.AudioFeatures, r.Popularity
	columns := []string{
		"isrc", "title", "artist", "album", "duration_ms", "release_date",
		"tempo", "musical_key", "mode", "energy", "danceability", "valence",
		"spotify_popularity", "youtube_views", "lastfm_listeners", "lastfm_playcount",
		"confidence_score", "rating", "sources",
	}
	values := []any{
		r.ISRC, r.Title, r.Artist, r.Album, r.DurationMS, r.ReleaseDate,
		nullable(af.Tempo), nullable(af.Key), nullable(af.Mode), nullable(af.Energy), nullable(af.Danceability), nullable(af.Valence),
		nullable(pop.SpotifyPopularity), nullable(pop.YouTubeViews), nullable(pop.LastfmListeners), nullable(pop.LastfmPlaycount),
		score.Total, string(score.Rating), joinProviders(r.Sources),
	}

	updates := make([]string, 0, len(columns))
	for _, c := range columns[1:] {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	for _, ext := range externalIDColumns {
		columns = append(columns, ext.column)
		values = append(values, r.ExternalIDs[ext.provider])
		updates = append(updates, fmt.Sprintf("%s = COALESCE(NULLIF(excluded.%s, ''), tracks.%s)", ext.column, ext.column, ext.column))
	}
	updates = append(updates, "last_updated = CURRENT_TIMESTAMP")

	query, args, err := sq.Insert("tracks").
		Columns(columns...).
		Values(values...).
		Suffix("ON CONFLICT(isrc) DO UPDATE SET " + strings.Join(updates, ", ")).
		ToSql()
	if err != nil {
		return fmt.Errorf("build track upsert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert track %s: %w", r.ISRC, err)
	}
	return nil
}

func upsertLyrics(ctx context.Context, tx *sql.Tx, isrc string, l *models.Lyrics) error {
	query, args, err := sq.Insert("track_lyrics").
		Columns("isrc", "lyrics_text", "language_code", "url").
		Values(isrc, l.Text, l.Language, l.URL).
		Suffix(`ON CONFLICT(isrc) DO UPDATE SET
			lyrics_text = excluded.lyrics_text,
			language_code = excluded.language_code,
			url = COALESCE(NULLIF(excluded.url, ''), track_lyrics.url),
			updated_at = CURRENT_TIMESTAMP`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build lyrics upsert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert lyrics %s: %w", isrc, err)
	}
	return nil
}

func replaceCredits(ctx context.Context, tx *sql.Tx, isrc string, credits []models.Credit) error {
	query, args, err := sq.Delete("track_credits").Where(sq.Eq{"isrc": isrc}).ToSql()
	if err != nil {
		return fmt.Errorf("build credits delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete credits %s: %w", isrc, err)
	}

	insert := sq.Insert("track_credits").Columns("isrc", "person_name", "credit_type")
	for _, c := range credits {
		insert = insert.Values(isrc, c.Name, c.Role)
	}
	query, args, err = insert.ToSql()
	if err != nil {
		return fmt.Errorf("build credits insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert credits %s: %w", isrc, err)
	}
	return nil
}

// Load reads the stored record for isrc. The returned score carries the total
// and rating only. A missing track is ErrNotFound.
func (d *DB) Load(ctx context.Context, isrc string) (*models.CanonicalTrackRecord, models.ConfidenceScore, error) {
	columns := []string{
		"isrc", "title", "artist", "album", "duration_ms", "release_date",
		"tempo", "musical_key", "mode", "energy", "danceability", "valence",
		"spotify_popularity", "youtube_views", "lastfm_listeners", "lastfm_playcount",
		"confidence_score", "rating", "sources",
	}
	for _, ext := range externalIDColumns {
		columns = append(columns, ext.column)
	}
	query, args, err := sq.Select(columns...).From("tracks").Where(sq.Eq{"isrc": isrc}).ToSql()
	if err != nil {
		return nil, models.ConfidenceScore{}, fmt.Errorf("build track select: %w", err)
	}

	var (
		r                                 models.CanonicalTrackRecord
		score                             models.ConfidenceScore
		rating, sources                   string
		tempo, energy, dance, valence     sql.NullFloat64
		key, mode, spPop                  sql.NullInt64
		ytViews, lfListeners, lfPlaycount sql.NullInt64
		ids                               = make([]string, len(externalIDColumns))
	)
	dest := []any{
		&r.ISRC, &r.Title, &r.Artist, &r.Album, &r.DurationMS, &r.ReleaseDate,
		&tempo, &key, &mode, &energy, &dance, &valence,
		&spPop, &ytViews, &lfListeners, &lfPlaycount,
		&score.Total, &rating, &sources,
	}
	for i := range ids {
		dest = append(dest, &ids[i])
	}
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ConfidenceScore{}, apperrors.Wrap(apperrors.ErrNotFound, "database", "load", isrc, nil)
		}
		return nil, models.ConfidenceScore{}, fmt.Errorf("load track %s: %w", isrc, err)
	}

	r.AudioFeatures = models.AudioFeatures{
		Tempo:        floatPtr(tempo),
		Key:          intPtr(key),
		Mode:         intPtr(mode),
		Energy:       floatPtr(energy),
		Danceability: floatPtr(dance),
		Valence:      floatPtr(valence),
	}
	r.Popularity = models.PopularityMetrics{
		SpotifyPopularity: intPtr(spPop),
		YouTubeViews:      int64Ptr(ytViews),
		LastfmListeners:   int64Ptr(lfListeners),
		LastfmPlaycount:   int64Ptr(lfPlaycount),
	}
	for i, ext := range externalIDColumns {
		if ids[i] == "" {
			continue
		}
		if r.ExternalIDs == nil {
			r.ExternalIDs = map[models.Provider]string{}
		}
		r.ExternalIDs[ext.provider] = ids[i]
	}
	r.Sources = splitProviders(sources)
	score.Rating = models.QualityRating(rating)

	if r.Lyrics, err = d.loadLyrics(ctx, isrc); err != nil {
		return nil, models.ConfidenceScore{}, err
	}
	if r.Credits, err = d.loadCredits(ctx, isrc); err != nil {
		return nil, models.ConfidenceScore{}, err
	}
	return &r, score, nil
}

func (d *DB) loadLyrics(ctx context.Context, isrc string) (*models.Lyrics, error) {
	query, args, err := sq.Select("lyrics_text", "language_code", "url").
		From("track_lyrics").
		Where(sq.Eq{"isrc": isrc}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build lyrics select: %w", err)
	}
	var l models.Lyrics
	err = d.db.QueryRowContext(ctx, query, args...).Scan(&l.Text, &l.Language, &l.URL)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("load lyrics %s: %w", isrc, err)
	}
	return &l, nil
}

func (d *DB) loadCredits(ctx context.Context, isrc string) ([]models.Credit, error) {
	query, args, err := sq.Select("credit_type", "person_name").
		From("track_credits").
		Where(sq.Eq{"isrc": isrc}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build credits select: %w", err)
	}
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load credits %s: %w", isrc, err)
	}
	defer rows.Close()

	var credits []models.Credit
	for rows.Next() {
		var c models.Credit
		if err := rows.Scan(&c.Role, &c.Name); err != nil {
			return nil, fmt.Errorf("scan credit %s: %w", isrc, err)
		}
		credits = append(credits, c)
	}
	return credits, rows.Err()
}

// RecordAnalysis appends one audit row.
func (d *DB) RecordAnalysis(ctx context.Context, e models.HistoryEntry) error {
	query, args, err := sq.Insert("analysis_history").
		Columns("isrc", "analysis_type", "status", "confidence_score", "processing_time_ms", "error_message").
		Values(e.ISRC, e.AnalysisType, e.Status, nullable(e.Confidence), e.ProcessingTime.Milliseconds(), e.Error).
		ToSql()
	if err != nil {
		return fmt.Errorf("build history insert: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("record analysis %s: %w", e.ISRC, err)
	}
	return nil
}

// History returns the newest audit rows for isrc, newest first.
func (d *DB) History(ctx context.Context, isrc string, limit uint64) ([]models.HistoryEntry, error) {
	query, args, err := sq.Select("isrc", "analysis_type", "status", "confidence_score", "processing_time_ms", "error_message", "created_at").
		From("analysis_history").
		Where(sq.Eq{"isrc": isrc}).
		OrderBy("id DESC").
		Limit(limit).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build history select: %w", err)
	}
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", isrc, err)
	}
	defer rows.Close()

	var out []models.HistoryEntry
	for rows.Next() {
		var (
			e          models.HistoryEntry
			confidence sql.NullFloat64
			ms         int64
		)
		if err := rows.Scan(&e.ISRC, &e.AnalysisType, &e.Status, &confidence, &ms, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history %s: %w", isrc, err)
		}
		e.Confidence = floatPtr(confidence)
		e.ProcessingTime = time.Duration(ms) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stats summarizes the stored data.
type Stats struct {
	Tracks            int64   `json:"tracks"`
	WithLyrics        int64   `json:"with_lyrics"`
	Credits           int64   `json:"credits"`
	Analyses          int64   `json:"analyses"`
	AverageConfidence float64 `json:"average_confidence"`
}

func (d *DB) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	counts := []struct {
		table string
		dest  *int64
	}{
		{"tracks", &s.Tracks},
		{"track_lyrics", &s.WithLyrics},
		{"track_credits", &s.Credits},
		{"analysis_history", &s.Analyses},
	}
	for _, c := range counts {
		query, args, err := sq.Select("COUNT(*)").From(c.table).ToSql()
		if err != nil {
			return Stats{}, fmt.Errorf("build count %s: %w", c.table, err)
		}
		if err := d.db.QueryRowContext(ctx, query, args...).Scan(c.dest); err != nil {
			return Stats{}, fmt.Errorf("count %s: %w", c.table, err)
		}
	}

	query, args, err := sq.Select("COALESCE(AVG(confidence_score), 0)").From("tracks").ToSql()
	if err != nil {
		return Stats{}, fmt.Errorf("build average: %w", err)
	}
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&s.AverageConfidence); err != nil {
		return Stats{}, fmt.Errorf("average confidence: %w", err)
	}
	return s, nil
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func joinProviders(ps []models.Provider) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = string(p)
	}
	return strings.Join(parts, ",")
}

func splitProviders(s string) []models.Provider {
	if s == "" {
		return nil
	}
	var out []models.Provider
	for _, part := range strings.Split(s, ",") {
		out = append(out, models.Provider(part))
	}
	return out
}
