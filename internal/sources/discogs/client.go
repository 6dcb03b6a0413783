// Package discogs finds the release that carries a hinted track in the Discogs
// database and reads its release date, duration and credits.
package discogs

import (
	"context"
	"errors"
	"fmt"
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

const DefaultBaseURL = "https://api.discogs.com"

var errNoHint = errors.New("discogs needs a title and artist hint")

type Client struct {
	settings  sources.Settings
	transport *sources.Transport
}

func New(s sources.Settings, token string) *Client {
	s = s.WithDefaults(DefaultBaseURL)
	t := sources.NewTransport(string(models.Discogs), s)
	t.Authorize = func(r *http.Request) { r.Header.Set("Authorization", "Discogs token="+token) }
	return &Client{settings: s, transport: t}
}

func (c *Client) Name() models.Provider { return models.Discogs }

func (c *Client) Limiter() *rate.Limiter { return c.settings.Limiter }

func (c *Client) RefreshAuth(context.Context) error { return sources.ErrNotRefreshable }

// Fetch searches releases by artist and track title and reads the first match.
// When the release itself cannot be loaded the search hit still supplies the
// album and year, and the result is partial.
func (c *Client) Fetch(ctx context.Context, q sources.Query) models.SourceResult {
	started := time.Now()
	if !q.HasHint() {
		return sources.Failed(models.Discogs, started,
			apperrors.Wrap(apperrors.ErrNotFound, "discogs", "search", "", errNoHint))
	}
	logger := c.settings.Logger.With(logging.String(logging.FieldISRC, q.ISRC))

	hit, err := sources.Call(ctx, c.settings, "discogs", nil, func(ctx context.Context) (gjson.Result, error) {
		return c.search(ctx, q.Title, q.Artist)
	})
	if err != nil {
		logger.Debug("release search failed", logging.Error(err))
		return sources.Failed(models.Discogs, started, err)
	}

	releaseID := hit.Get("id").Int()
	rel, err := sources.Call(ctx, c.settings, "discogs", nil, func(ctx context.Context) (gjson.Result, error) {
		body, err := c.transport.Get(ctx, fmt.Sprintf("%s/releases/%d", c.settings.BaseURL, releaseID))
		if err != nil {
			return gjson.Result{}, err
		}
		return gjson.ParseBytes(body), nil
	})
	if err != nil {
		logger.Debug("release lookup failed", logging.Error(err))
		return sources.Succeeded(models.Discogs, started, hitFields(hit), fmt.Errorf("discogs release %d: %w", releaseID, err))
	}

	return sources.Succeeded(models.Discogs, started, releaseFields(rel, q.Title, q.Options.IncludeCredits), nil)
}

func (c *Client) search(ctx context.Context, title, artist string) (gjson.Result, error) {
	params := url.Values{}
	params.Set("type", "release")
	params.Set("artist", artist)
	params.Set("track", title)
	params.Set("per_page", "5")

	body, err := c.transport.Get(ctx, c.settings.BaseURL+"/database/search?"+params.Encode())
	if err != nil {
		return gjson.Result{}, err
	}
	hit := gjson.GetBytes(body, "results.0")
	if !hit.Exists() || hit.Get("id").Int() == 0 {
		return hit, backoff.Permanent(apperrors.Wrap(apperrors.ErrNotFound, "discogs", "search", strconv.Quote(artist+" - "+title), nil))
	}
	return hit, nil
}
