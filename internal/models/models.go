package models

import (
	"maps"
	"slices"
	"time"
)

// Provider names one external metadata source.
type Provider string

const (
	Spotify     Provider = "spotify"
	MusicBrainz Provider = "musicbrainz"
	YouTube     Provider = "youtube"
	Genius      Provider = "genius"
	LastFM      Provider = "lastfm"
	Discogs     Provider = "discogs"
)

// AllProviders lists every provider in canonical order. Ties in the merge table
// and every provider-ordered output follow this order.
var AllProviders = []Provider{Spotify, MusicBrainz, YouTube, Genius, LastFM, Discogs}

// Options selects which sources an analysis consults and how the cache is used.
type Options struct {
	Comprehensive  bool `json:"comprehensive"`
	IncludeLyrics  bool `json:"include_lyrics"`
	IncludeCredits bool `json:"include_credits"`
	ForceRefresh   bool `json:"force_refresh"`
}

type AudioFeatures struct {
	Tempo        *float64 `json:"tempo,omitempty"`
	Key          *int     `json:"key,omitempty"`
	Mode         *int     `json:"mode,omitempty"`
	Energy       *float64 `json:"energy,omitempty"`
	Danceability *float64 `json:"danceability,omitempty"`
	Valence      *float64 `json:"valence,omitempty"`
}

// Present counts the populated features.
func (a AudioFeatures) Present() int {
	n := 0
	for _, ok := range []bool{a.Tempo != nil, a.Key != nil, a.Mode != nil, a.Energy != nil, a.Danceability != nil, a.Valence != nil} {
		if ok {
			n++
		}
	}
	return n
}

type PopularityMetrics struct {
	SpotifyPopularity *int   `json:"spotify_popularity,omitempty"`
	YouTubeViews      *int64 `json:"youtube_views,omitempty"`
	LastfmListeners   *int64 `json:"lastfm_listeners,omitempty"`
	LastfmPlaycount   *int64 `json:"lastfm_playcount,omitempty"`
}

type Lyrics struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	URL      string `json:"url,omitempty"`
}

type Credit struct {
	Role string `json:"role"`
	Name string `json:"name"`
}

// CanonicalTrackRecord is the merged view of one recording.
type CanonicalTrackRecord struct {
	ISRC          string              `json:"isrc"`
	Title         string              `json:"title,omitempty"`
	Artist        string              `json:"artist,omitempty"`
	Album         string              `json:"album,omitempty"`
	DurationMS    int64               `json:"duration_ms,omitempty"`
	ReleaseDate   string              `json:"release_date,omitempty"`
	AudioFeatures AudioFeatures       `json:"audio_features"`
	ExternalIDs   map[Provider]string `json:"external_ids,omitempty"`
	Popularity    PopularityMetrics   `json:"popularity"`
	Lyrics        *Lyrics             `json:"lyrics,omitempty"`
	Credits       []Credit            `json:"credits,omitempty"`
	Sources       []Provider          `json:"sources"`
}

// Clone returns a deep copy so cached records are never shared mutably.
func (r *CanonicalTrackRecord) Clone() *CanonicalTrackRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.AudioFeatures = AudioFeatures{
		Tempo:        clonePtr(r.AudioFeatures.Tempo),
		Key:          clonePtr(r.AudioFeatures.Key),
		Mode:         clonePtr(r.AudioFeatures.Mode),
		Energy:       clonePtr(r.AudioFeatures.Energy),
		Danceability: clonePtr(r.AudioFeatures.Danceability),
		Valence:      clonePtr(r.AudioFeatures.Valence),
	}
	out.Popularity = PopularityMetrics{
		SpotifyPopularity: clonePtr(r.Popularity.SpotifyPopularity),
		YouTubeViews:      clonePtr(r.Popularity.YouTubeViews),
		LastfmListeners:   clonePtr(r.Popularity.LastfmListeners),
		LastfmPlaycount:   clonePtr(r.Popularity.LastfmPlaycount),
	}
	out.ExternalIDs = maps.Clone(r.ExternalIDs)
	out.Credits = slices.Clone(r.Credits)
	out.Sources = slices.Clone(r.Sources)
	if r.Lyrics != nil {
		l := *r.Lyrics
		out.Lyrics = &l
	}
	return &out
}

// Analysis is what an Analyze call hands back to its caller.
type Analysis struct {
	Record     *CanonicalTrackRecord `json:"record"`
	Score      ConfidenceScore       `json:"score"`
	Provenance *Provenance           `json:"provenance,omitempty"`
	CachedAt   time.Time             `json:"cached_at"`
	ExpiresAt  time.Time             `json:"expires_at"`
	FromCache  bool                  `json:"from_cache"`
	Stale      bool                  `json:"stale,omitempty"`
}

// Clone deep-copies the analysis for handing to one caller.
func (a *Analysis) Clone() *Analysis {
	if a == nil {
		return nil
	}
	out := *a
	out.Record = a.Record.Clone()
	out.Score.Breakdown = slices.Clone(a.Score.Breakdown)
	out.Provenance = a.Provenance.Clone()
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
