package aggregator

import (
	"slices"

	"github.com/ces0491/isrc-meta-data-finder/internal/models"
)

// priority lists, per field, the providers whose value wins, best first.
// Providers missing from a list follow in canonical order.
var priority = map[models.Field][]models.Provider{
	models.FieldTitle:             {models.MusicBrainz, models.Spotify, models.Discogs, models.YouTube, models.LastFM, models.Genius},
	models.FieldArtist:            {models.MusicBrainz, models.Spotify, models.Discogs, models.YouTube, models.LastFM, models.Genius},
	models.FieldAlbum:             {models.MusicBrainz, models.Spotify, models.Discogs, models.YouTube, models.LastFM, models.Genius},
	models.FieldDuration:          {models.Spotify, models.MusicBrainz, models.Discogs, models.YouTube, models.LastFM},
	models.FieldReleaseDate:       {models.MusicBrainz, models.Spotify, models.Discogs, models.Genius, models.LastFM},
	models.FieldAudioFeatures:     {models.Spotify},
	models.FieldSpotifyPopularity: {models.Spotify, models.YouTube, models.LastFM},
	models.FieldYouTubeViews:      {models.Spotify, models.YouTube, models.LastFM},
	models.FieldLastfmListeners:   {models.Spotify, models.YouTube, models.LastFM},
	models.FieldLastfmPlaycount:   {models.Spotify, models.YouTube, models.LastFM},
	models.FieldLyrics:            {models.Genius, models.MusicBrainz, models.Discogs},
	models.FieldCredits:           {models.Genius, models.MusicBrainz, models.Discogs},
}

// Priority returns the full provider order for field.
func Priority(field models.Field) []models.Provider {
	listed := priority[field]
	for _, p := range models.AllProviders {
		if field == models.ExternalIDField(p) {
			listed = []models.Provider{p}
			break
		}
	}
	out := slices.Clone(listed)
	for _, p := range models.AllProviders {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

type fieldSpec struct {
	field models.Field
	get   func(models.FieldSet) (any, bool)
	set   func(*models.CanonicalTrackRecord, any)
}

func stringField(field models.Field, get func(models.FieldSet) string, set func(*models.CanonicalTrackRecord, string)) fieldSpec {
	return fieldSpec{
		field: field,
		get: func(fs models.FieldSet) (any, bool) {
			v := get(fs)
			return v, v != ""
		},
		set: func(r *models.CanonicalTrackRecord, v any) { set(r, v.(string)) },
	}
}

func countField(field models.Field, get func(models.FieldSet) *int64, set func(*models.CanonicalTrackRecord, int64)) fieldSpec {
	return fieldSpec{
		field: field,
		get: func(fs models.FieldSet) (any, bool) {
			v := get(fs)
			if v == nil {
				return nil, false
			}
			return *v, true
		},
		set: func(r *models.CanonicalTrackRecord, v any) { set(r, v.(int64)) },
	}
}

func externalIDField(p models.Provider) fieldSpec {
	return stringField(models.ExternalIDField(p),
		func(fs models.FieldSet) string { return fs.ExternalIDs[p] },
		func(r *models.CanonicalTrackRecord, v string) {
			if r.ExternalIDs == nil {
				r.ExternalIDs = map[models.Provider]string{}
			}
			r.ExternalIDs[p] = v
		})
}

var fieldSpecs = buildFieldSpecs()

func buildFieldSpecs() []fieldSpec {
	specs := []fieldSpec{
		stringField(models.FieldTitle,
			func(fs models.FieldSet) string { return fs.Title },
			func(r *models.CanonicalTrackRecord, v string) { r.Title = v }),
		stringField(models.FieldArtist,
			func(fs models.FieldSet) string { return fs.Artist },
			func(r *models.CanonicalTrackRecord, v string) { r.Artist = v }),
		stringField(models.FieldAlbum,
			func(fs models.FieldSet) string { return fs.Album },
			func(r *models.CanonicalTrackRecord, v string) { r.Album = v }),
		{
			field: models.FieldDuration,
			get:   func(fs models.FieldSet) (any, bool) { return fs.DurationMS, fs.DurationMS > 0 },
			set:   func(r *models.CanonicalTrackRecord, v any) { r.DurationMS = v.(int64) },
		},
		stringField(models.FieldReleaseDate,
			func(fs models.FieldSet) string { return fs.ReleaseDate },
			func(r *models.CanonicalTrackRecord, v string) { r.ReleaseDate = v }),
		{
			field: models.FieldAudioFeatures,
			get:   func(fs models.FieldSet) (any, bool) { return fs.AudioFeatures, fs.AudioFeatures.Present() > 0 },
			set:   func(r *models.CanonicalTrackRecord, v any) { r.AudioFeatures = v.(models.AudioFeatures) },
		},
		{
			field: models.FieldSpotifyPopularity,
			get: func(fs models.FieldSet) (any, bool) {
				if fs.Popularity.SpotifyPopularity == nil {
					return nil, false
				}
				return *fs.Popularity.SpotifyPopularity, true
			},
			set: func(r *models.CanonicalTrackRecord, v any) { r.Popularity.SpotifyPopularity = models.Ptr(v.(int)) },
		},
		countField(models.FieldYouTubeViews,
			func(fs models.FieldSet) *int64 { return fs.Popularity.YouTubeViews },
			func(r *models.CanonicalTrackRecord, v int64) { r.Popularity.YouTubeViews = models.Ptr(v) }),
		countField(models.FieldLastfmListeners,
			func(fs models.FieldSet) *int64 { return fs.Popularity.LastfmListeners },
			func(r *models.CanonicalTrackRecord, v int64) { r.Popularity.LastfmListeners = models.Ptr(v) }),
		countField(models.FieldLastfmPlaycount,
			func(fs models.FieldSet) *int64 { return fs.Popularity.LastfmPlaycount },
			func(r *models.CanonicalTrackRecord, v int64) { r.Popularity.LastfmPlaycount = models.Ptr(v) }),
		{
			field: models.FieldLyrics,
			get: func(fs models.FieldSet) (any, bool) {
				if fs.Lyrics == nil || fs.Lyrics.Text == "" {
					return nil, false
				}
				return *fs.Lyrics, true
			},
			set: func(r *models.CanonicalTrackRecord, v any) {
				l := v.(models.Lyrics)
				r.Lyrics = &l
			},
		},
		{
			field: models.FieldCredits,
			get:   func(fs models.FieldSet) (any, bool) { return slices.Clone(fs.Credits), len(fs.Credits) > 0 },
			set:   func(r *models.CanonicalTrackRecord, v any) { r.Credits = slices.Clone(v.([]models.Credit)) },
		},
	}
	for _, p := range models.AllProviders {
		specs = append(specs, externalIDField(p))
	}
	return specs
}

// Merge folds the usable results into one record. The outcome depends only on
// the set of results, never on their order.
func Merge(isrc string, results []models.SourceResult) (*models.CanonicalTrackRecord, map[models.Field]models.FieldProvenance) {
	byProvider := make(map[models.Provider]models.FieldSet, len(results))
	for _, res := range results {
		if res.Usable() {
			byProvider[res.Source] = res.Fields
		}
	}

	record := &models.CanonicalTrackRecord{ISRC: isrc}
	fields := make(map[models.Field]models.FieldProvenance)
	contributed := make(map[models.Provider]bool)

	for _, spec := range fieldSpecs {
		var fp models.FieldProvenance
		for _, p := range Priority(spec.field) {
			fs, ok := byProvider[p]
			if !ok {
				continue
			}
			v, present := spec.get(fs)
			if !present {
				continue
			}
			fp.Candidates = append(fp.Candidates, models.Candidate{Source: p, Value: v})
		}
		if len(fp.Candidates) == 0 {
			continue
		}
		fp.Chosen = fp.Candidates[0].Source
		spec.set(record, fp.Candidates[0].Value)
		fields[spec.field] = fp
		contributed[fp.Chosen] = true
	}

	for _, p := range models.AllProviders {
		if contributed[p] {
			record.Sources = append(record.Sources, p)
		}
	}
	return record, fields
}

// hint picks the title and artist the hint-requiring sources search with.
func hint(results []models.SourceResult) (title, artist string) {
	record, _ := Merge("", results)
	return record.Title, record.Artist
}
