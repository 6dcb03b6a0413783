package models

import (
	"maps"
	"slices"
	"time"
)

// SourceStatus is the outcome of one provider fetch.
type SourceStatus string

const (
	StatusSuccess     SourceStatus = "success"
	StatusPartial     SourceStatus = "partial"
	StatusFailure     SourceStatus = "failure"
	StatusTimeout     SourceStatus = "timeout"
	StatusRateLimited SourceStatus = "rate_limited"
	StatusAuthError   SourceStatus = "auth_error"
)

// Usable reports whether results with this status contribute fields.
func (s SourceStatus) Usable() bool {
	return s == StatusSuccess || s == StatusPartial
}

// FieldSet carries the normalized candidate values one source produced. Zero
// values mean the source did not supply the field.
type FieldSet struct {
	Title         string
	Artist        string
	Album         string
	DurationMS    int64
	ReleaseDate   string
	AudioFeatures AudioFeatures
	ExternalIDs   map[Provider]string
	Popularity    PopularityMetrics
	Lyrics        *Lyrics
	Credits       []Credit
}

// SourceResult is produced once per provider per aggregation and never mutated.
type SourceResult struct {
	Source  Provider
	Status  SourceStatus
	Fields  FieldSet
	Latency time.Duration
	Err     error
	Detail  string
}

// Usable reports whether the result contributes fields to the merge.
func (r SourceResult) Usable() bool { return r.Status.Usable() }

// Field names one canonical record field for merge and provenance purposes.
type Field string

const (
	FieldTitle         Field = "title"
	FieldArtist        Field = "artist"
	FieldAlbum         Field = "album"
	FieldDuration      Field = "duration_ms"
	FieldReleaseDate   Field = "release_date"
	FieldAudioFeatures Field = "audio_features"
	FieldLyrics        Field = "lyrics"
	FieldCredits       Field = "credits"

	FieldSpotifyPopularity Field = "popularity.spotify_popularity"
	FieldYouTubeViews      Field = "popularity.youtube_views"
	FieldLastfmListeners   Field = "popularity.lastfm_listeners"
	FieldLastfmPlaycount   Field = "popularity.lastfm_playcount"
)

// ExternalIDField is the provenance field for one provider's identifier.
func ExternalIDField(p Provider) Field {
	return Field("external_ids." + string(p))
}

// Candidate is one value a source offered for a field.
type Candidate struct {
	Source Provider `json:"source"`
	Value  any      `json:"value"`
}

// FieldProvenance records the chosen source and every candidate considered, in
// priority order.
type FieldProvenance struct {
	Chosen     Provider    `json:"chosen"`
	Candidates []Candidate `json:"candidates"`
}

// SourceSummary is the audit view of one SourceResult.
type SourceSummary struct {
	Source  Provider      `json:"source"`
	Status  SourceStatus  `json:"status"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

type Provenance struct {
	RunID     string                    `json:"run_id"`
	Attempted []Provider                `json:"attempted"`
	Succeeded []Provider                `json:"succeeded"`
	Sources   []SourceSummary           `json:"sources"`
	Fields    map[Field]FieldProvenance `json:"fields"`
}

// Clone deep-copies the provenance. Candidate values are immutable scalars,
// slices or structs produced by normalizers and are shared.
func (p *Provenance) Clone() *Provenance {
	if p == nil {
		return nil
	}
	out := *p
	out.Attempted = slices.Clone(p.Attempted)
	out.Succeeded = slices.Clone(p.Succeeded)
	out.Sources = slices.Clone(p.Sources)
	out.Fields = maps.Clone(p.Fields)
	for k, v := range out.Fields {
		v.Candidates = slices.Clone(v.Candidates)
		out.Fields[k] = v
	}
	return &out
}
