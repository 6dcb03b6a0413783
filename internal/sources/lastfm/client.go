// Package lastfm reads listener and play counts for a hinted track through
// the Last.fm track.getInfo method.
package lastfm

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/ces0491/isrc-meta-data-finder/internal/apperrors"
	"github.com/ces0491/isrc-meta-data-finder/internal/logging"
	"github.com/ces0491/isrc-meta-data-finder/internal/models"
	"github.com/ces0491/isrc-meta-data-finder/internal/sources"
)

const DefaultBaseURL = "https://ws.audioscrobbler.com/2.0"

// Last.fm API error codes, delivered in the body and often with HTTP 200.
const (
	codeInvalidService    = 2
	codeInvalidMethod     = 3
	codeAuthFailed        = 4
	codeInvalidParams     = 6
	codeOperationFailed   = 8
	codeInvalidKey        = 10
	codeServiceOffline    = 11
	codeTemporaryError    = 16
	codeSuspendedKey      = 26
	codeRateLimitExceeded = 29
)

var errNoHint = errors.New("last.fm needs a title and artist hint")

type Client struct {
	settings  sources.Settings
	transport *sources.Transport
	apiKey    string
}

func New(s sources.Settings, apiKey string) *Client {
	s = s.WithDefaults(DefaultBaseURL)
	t := sources.NewTransport(string(models.LastFM), s)
	t.Inspect = inspectError
	return &Client{settings: s, transport: t, apiKey: apiKey}
}

func (c *Client) Name() models.Provider { return models.LastFM }

func (c *Client) Limiter() *rate.Limiter { return c.settings.Limiter }

func (c *Client) RefreshAuth(context.Context) error { return sources.ErrNotRefreshable }

func (c *Client) Fetch(ctx context.Context, q sources.Query) models.SourceResult {
	started := time.Now()
	if !q.HasHint() {
		return sources.Failed(models.LastFM, started,
			apperrors.Wrap(apperrors.ErrNotFound, "lastfm", "track.getInfo", "", errNoHint))
	}

	track, err := sources.Call(ctx, c.settings, "lastfm", nil, func(ctx context.Context) (gjson.Result, error) {
		return c.trackInfo(ctx, q.Title, q.Artist)
	})
	if err != nil {
		c.settings.Logger.Debug("track.getInfo failed",
			logging.String(logging.FieldISRC, q.ISRC),
			logging.Error(err),
		)
		return sources.Failed(models.LastFM, started, err)
	}
	return sources.Succeeded(models.LastFM, started, trackFields(track), nil)
}

func (c *Client) trackInfo(ctx context.Context, title, artist string) (gjson.Result, error) {
	params := url.Values{}
	params.Set("method", "track.getInfo")
	params.Set("api_key", c.apiKey)
	params.Set("artist", artist)
	params.Set("track", title)
	params.Set("autocorrect", "1")
	params.Set("format", "json")

	body, err := c.transport.Get(ctx, c.settings.BaseURL+"/?"+params.Encode())
	if err != nil {
		return gjson.Result{}, err
	}
	track := gjson.GetBytes(body, "track")
	if !track.Exists() {
		return track, backoff.Permanent(apperrors.Wrap(apperrors.ErrNotFound, "lastfm", "track.getInfo", "empty response", nil))
	}
	return track, nil
}

func inspectError(status int, header http.Header, body []byte) error {
	code := gjson.GetBytes(body, "error")
	if !code.Exists() {
		return nil
	}
	message := gjson.GetBytes(body, "message").String()
	detail := "error " + strconv.FormatInt(code.Int(), 10) + ": " + message
	switch code.Int() {
	case codeRateLimitExceeded:
		return &sources.RateLimitError{
			RetryAfter: sources.ParseRetryAfter(header.Get("Retry-After"), time.Now()),
			Detail:     "lastfm: " + detail,
		}
	case codeAuthFailed, codeInvalidKey, codeSuspendedKey:
		return apperrors.Wrap(apperrors.ErrSourceAuth, "lastfm", "track.getInfo", detail, nil)
	case codeInvalidParams:
		return backoff.Permanent(apperrors.Wrap(apperrors.ErrNotFound, "lastfm", "track.getInfo", detail, nil))
	case codeOperationFailed, codeServiceOffline, codeTemporaryError:
		return apperrors.Wrap(apperrors.ErrSourceUnavailable, "lastfm", "track.getInfo", detail, nil)
	case codeInvalidService, codeInvalidMethod:
		return backoff.Permanent(apperrors.Wrap(apperrors.ErrConfiguration, "lastfm", "track.getInfo", detail, nil))
	default:
		return backoff.Permanent(apperrors.Wrap(apperrors.ErrSourceUnavailable, "lastfm", "track.getInfo",
			detail+" (http "+strconv.Itoa(status)+")", nil))
	}
}
