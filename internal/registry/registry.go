// Package registry holds the configured source clients and the limiters they
// were built with, and decides which clients an analysis should consult.
package registry

import (
	"log/slog"
	"net/http"
	"slices"

	"golang.org/x/time/rate"

	"github.com/ces0491/isrc-meta-data-finder/internal/config"
	"github.com/ces0491/isrc-meta-data-finder/internal/logging"
	"github.com/ces0491/isrc-meta-data-finder/internal/models"
	"github.com/ces0491/isrc-meta-data-finder/internal/sources"
	"github.com/ces0491/isrc-meta-data-finder/internal/sources/discogs"
	"github.com/ces0491/isrc-meta-data-finder/internal/sources/genius"
	"github.com/ces0491/isrc-meta-data-finder/internal/sources/lastfm"
	"github.com/ces0491/isrc-meta-data-finder/internal/sources/musicbrainz"
	"github.com/ces0491/isrc-meta-data-finder/internal/sources/spotify"
	"github.com/ces0491/isrc-meta-data-finder/internal/sources/youtube"
)

// Status values reported per provider.
const (
	StatusOperational   = "operational"
	StatusNotConfigured = "not configured"
)

// capabilities lists the canonical fields each provider can supply.
var capabilities = map[models.Provider][]models.Field{
	models.Spotify: {
		models.FieldTitle, models.FieldArtist, models.FieldAlbum, models.FieldDuration,
		models.FieldReleaseDate, models.FieldAudioFeatures, models.FieldSpotifyPopularity,
		models.ExternalIDField(models.Spotify),
	},
	models.MusicBrainz: {
		models.FieldTitle, models.FieldArtist, models.FieldAlbum, models.FieldDuration,
		models.FieldReleaseDate, models.FieldCredits, models.ExternalIDField(models.MusicBrainz),
	},
	models.YouTube: {
		models.FieldTitle, models.FieldArtist, models.FieldDuration, models.FieldYouTubeViews,
		models.ExternalIDField(models.YouTube),
	},
	models.Genius: {
		models.FieldTitle, models.FieldArtist, models.FieldAlbum, models.FieldReleaseDate,
		models.FieldLyrics, models.FieldCredits, models.ExternalIDField(models.Genius),
	},
	models.LastFM: {
		models.FieldTitle, models.FieldArtist, models.FieldAlbum, models.FieldDuration,
		models.FieldReleaseDate, models.FieldLastfmListeners, models.FieldLastfmPlaycount,
		models.ExternalIDField(models.LastFM),
	},
	models.Discogs: {
		models.FieldTitle, models.FieldArtist, models.FieldAlbum, models.FieldDuration,
		models.FieldReleaseDate, models.FieldCredits, models.ExternalIDField(models.Discogs),
	},
}

// Fields returns the canonical fields p can supply.
func Fields(p models.Provider) []models.Field {
	return slices.Clone(capabilities[p])
}

// NeedsHint reports whether p can only search by title and artist.
func NeedsHint(p models.Provider) bool {
	switch p {
	case models.Genius, models.LastFM, models.Discogs:
		return true
	default:
		return false
	}
}

// Applies reports whether p should be consulted for opts. Spotify and
// MusicBrainz always run; YouTube, Last.fm and Discogs only for comprehensive
// analyses; Genius whenever lyrics or credits are asked for.
func Applies(p models.Provider, opts models.Options) bool {
	switch p {
	case models.Spotify, models.MusicBrainz:
		return true
	case models.YouTube, models.LastFM, models.Discogs:
		return opts.Comprehensive
	case models.Genius:
		return opts.IncludeLyrics || opts.IncludeCredits
	default:
		return false
	}
}

// ProviderStatus is one line of the registry status report.
type ProviderStatus struct {
	Provider          models.Provider `json:"provider"`
	Status            string          `json:"status"`
	RequestsPerMinute int             `json:"requests_per_minute,omitempty"`
}

type Registry struct {
	clients  map[models.Provider]sources.Client
	limiters map[models.Provider]*rate.Limiter
	rpm      map[models.Provider]int
}

// New builds a client for every provider that has credentials. MusicBrainz
// needs none and is always present. httpClient may be nil.
func New(cfg config.Config, httpClient *http.Client, logger *slog.Logger) *Registry {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	r := &Registry{
		clients:  map[models.Provider]sources.Client{},
		limiters: map[models.Provider]*rate.Limiter{},
		rpm:      map[models.Provider]int{},
	}
	for _, p := range models.AllProviders {
		if !cfg.Configured(p) {
			continue
		}
		pc := cfg.Providers[p]
		limiter := NewLimiter(pc.RequestsPerMinute)
		s := sources.Settings{
			BaseURL:    pc.BaseURL,
			HTTPClient: httpClient,
			Limiter:    limiter,
			Timeout:    pc.Timeout,
			MaxRetries: pc.Retries(),
			UserAgent:  cfg.UserAgent,
			Logger:     logging.NewComponentLogger(logger, "source").With(logging.String(logging.FieldProvider, string(p))),
		}
		r.limiters[p] = limiter
		r.rpm[p] = pc.RequestsPerMinute
		r.clients[p] = build(p, s, pc)
	}
	return r
}

func build(p models.Provider, s sources.Settings, pc config.ProviderConfig) sources.Client {
	switch p {
	case models.Spotify:
		return spotify.New(s, spotify.Credentials{ClientID: pc.ClientID, ClientSecret: pc.ClientSecret, TokenURL: pc.TokenURL})
	case models.MusicBrainz:
		return musicbrainz.New(s)
	case models.YouTube:
		return youtube.New(s, pc.APIKey)
	case models.Genius:
		return genius.New(s, pc.APIKey)
	case models.LastFM:
		return lastfm.New(s, pc.APIKey)
	default:
		return discogs.New(s, pc.APIKey)
	}
}

// NewLimiter converts a per-minute ceiling into a token bucket. The burst
// allows one second's worth of requests, at least one.
func NewLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := max(1, requestsPerMinute/60)
	return rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60), burst)
}

// FromClients wraps prebuilt clients, keeping the limiters they report.
func FromClients(clients ...sources.Client) *Registry {
	r := &Registry{
		clients:  map[models.Provider]sources.Client{},
		limiters: map[models.Provider]*rate.Limiter{},
		rpm:      map[models.Provider]int{},
	}
	for _, c := range clients {
		r.clients[c.Name()] = c
		r.limiters[c.Name()] = c.Limiter()
	}
	return r
}

// Client returns the configured client for p.
func (r *Registry) Client(p models.Provider) (sources.Client, bool) {
	c, ok := r.clients[p]
	return c, ok
}

// Limiter returns the limiter owned for p.
func (r *Registry) Limiter(p models.Provider) *rate.Limiter {
	return r.limiters[p]
}

// Providers lists the configured providers in canonical order.
func (r *Registry) Providers() []models.Provider {
	out := make([]models.Provider, 0, len(r.clients))
	for _, p := range models.AllProviders {
		if _, ok := r.clients[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Applicable returns the configured clients that apply to opts, in canonical order.
func (r *Registry) Applicable(opts models.Options) []sources.Client {
	var out []sources.Client
	for _, p := range r.Providers() {
		if Applies(p, opts) {
			out = append(out, r.clients[p])
		}
	}
	return out
}

// Status reports every provider, configured or not, in canonical order.
func (r *Registry) Status() []ProviderStatus {
	out := make([]ProviderStatus, 0, len(models.AllProviders))
	for _, p := range models.AllProviders {
		st := ProviderStatus{Provider: p, Status: StatusNotConfigured}
		if _, ok := r.clients[p]; ok {
			st.Status = StatusOperational
			st.RequestsPerMinute = r.rpm[p]
		}
		out = append(out, st)
	}
	return out
}
