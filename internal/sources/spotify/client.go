// Package spotify finds a track by ISRC with the Spotify Web API and adds its
// audio features. Requests are authorized with a client-credentials token that
// can be refreshed when the API rejects it.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	spotifyapi "github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/ces0491/isrc-meta-data-finder/internal/apperrors"
	"github.com/ces0491/isrc-meta-data-finder/internal/logging"
	"github.com/ces0491/isrc-meta-data-finder/internal/models"
	"github.com/ces0491/isrc-meta-data-finder/internal/sources"
)

const DefaultBaseURL = "https://api.spotify.com/v1"

type Credentials struct {
	ClientID     string
	ClientSecret string
	// TokenURL defaults to the Spotify accounts service.
	TokenURL string
}

type Client struct {
	settings sources.Settings
	tokens   *tokenSource
	api      *spotifyapi.Client
}

func New(s sources.Settings, creds Credentials) *Client {
	s = s.WithDefaults(DefaultBaseURL)
	if creds.TokenURL == "" {
		creds.TokenURL = spotifyauth.TokenURL
	}
	tokens := &tokenSource{
		cfg: &clientcredentials.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			TokenURL:     creds.TokenURL,
		},
		httpClient: s.HTTPClient,
	}
	base := s.HTTPClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	httpClient := &http.Client{
		Transport: &oauth2.Transport{Source: tokens, Base: base},
		Timeout:   s.HTTPClient.Timeout,
	}
	return &Client{
		settings: s,
		tokens:   tokens,
		api:      spotifyapi.New(httpClient, spotifyapi.WithBaseURL(s.BaseURL+"/")),
	}
}

func (c *Client) Name() models.Provider { return models.Spotify }

func (c *Client) Limiter() *rate.Limiter { return c.settings.Limiter }

// RefreshAuth drops the cached token and fetches a new one.
func (c *Client) RefreshAuth(ctx context.Context) error {
	return c.tokens.refresh(ctx)
}

// Fetch searches for "isrc:<code>" and reads the first track. Audio features are
// a second request; losing them leaves the result partial.
func (c *Client) Fetch(ctx context.Context, q sources.Query) models.SourceResult {
	started := time.Now()
	logger := c.settings.Logger.With(logging.String(logging.FieldISRC, q.ISRC))

	track, err := sources.Call(ctx, c.settings, "spotify", c.RefreshAuth, func(ctx context.Context) (spotifyapi.FullTrack, error) {
		return c.searchISRC(ctx, q.ISRC)
	})
	if err != nil {
		logger.Debug("track search failed", logging.Error(err))
		return sources.Failed(models.Spotify, started, err)
	}

	fields := trackFields(track)

	features, err := sources.Call(ctx, c.settings, "spotify", c.RefreshAuth, func(ctx context.Context) (*spotifyapi.AudioFeatures, error) {
		return c.audioFeatures(ctx, track.ID)
	})
	var secondary error
	if err != nil {
		logger.Debug("audio features unavailable", logging.Error(err))
		secondary = fmt.Errorf("spotify audio features: %w", err)
	} else {
		fields.AudioFeatures = audioFields(features)
	}

	return sources.Succeeded(models.Spotify, started, fields, secondary)
}

func (c *Client) searchISRC(ctx context.Context, isrc string) (spotifyapi.FullTrack, error) {
	res, err := c.api.Search(ctx, "isrc:"+isrc, spotifyapi.SearchTypeTrack, spotifyapi.Limit(1))
	if err != nil {
		return spotifyapi.FullTrack{}, classify(err)
	}
	if res == nil || res.Tracks == nil || len(res.Tracks.Tracks) == 0 {
		return spotifyapi.FullTrack{}, backoff.Permanent(apperrors.Wrap(apperrors.ErrNotFound, "spotify", "search", "no track for "+isrc, nil))
	}
	return res.Tracks.Tracks[0], nil
}

func (c *Client) audioFeatures(ctx context.Context, id spotifyapi.ID) (*spotifyapi.AudioFeatures, error) {
	list, err := c.api.GetAudioFeatures(ctx, id)
	if err != nil {
		return nil, classify(err)
	}
	if len(list) == 0 || list[0] == nil {
		return nil, backoff.Permanent(apperrors.Wrap(apperrors.ErrNotFound, "spotify", "audio features", "no features for "+string(id), nil))
	}
	return list[0], nil
}

// classify maps library and token errors onto the shared markers.
func classify(err error) error {
	if errors.Is(err, apperrors.ErrSourceAuth) {
		return err
	}
	var apiErr spotifyapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusTooManyRequests:
			return &sources.RateLimitError{Detail: "spotify: " + apiErr.Message}
		case http.StatusUnauthorized, http.StatusForbidden:
			return apperrors.Wrap(apperrors.ErrSourceAuth, "spotify", "request", apiErr.Message, err)
		case http.StatusNotFound:
			return backoff.Permanent(apperrors.Wrap(apperrors.ErrNotFound, "spotify", "request", apiErr.Message, err))
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return apperrors.Wrap(apperrors.ErrSourceUnavailable, "spotify", "request", apiErr.Message, err)
		default:
			return backoff.Permanent(apperrors.Wrap(apperrors.ErrSourceUnavailable, "spotify", "request", apiErr.Message, err))
		}
	}
	var tokenErr *oauth2.RetrieveError
	if errors.As(err, &tokenErr) {
		return apperrors.Wrap(apperrors.ErrSourceAuth, "spotify", "token", "client credentials rejected", err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return apperrors.Wrap(apperrors.ErrSourceUnavailable, "spotify", "request", "", err)
}

// tokenSource caches a client-credentials token and lets callers force a new
// one after the API rejects the current token.
type tokenSource struct {
	mu         sync.Mutex
	cfg        *clientcredentials.Config
	httpClient *http.Client
	tok        *oauth2.Token
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.tok.Valid() {
		return ts.tok, nil
	}
	return ts.fetchLocked(context.Background())
}

func (ts *tokenSource) refresh(ctx context.Context) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.tok = nil
	_, err := ts.fetchLocked(ctx)
	return err
}

func (ts *tokenSource) fetchLocked(ctx context.Context) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, ts.httpClient)
	tok, err := ts.cfg.Token(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSourceAuth, "spotify", "token", "client credentials exchange failed", err)
	}
	ts.tok = tok
	return tok, nil
}
