// Package genius resolves a title/artist hint to a Genius song and reads its
// credits and lyrics. Genius cannot search by ISRC, so it only runs once
// another source has named the track.
package genius

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

const DefaultBaseURL = "https://api.genius.com"

var errNoHint = errors.New("genius needs a title and artist hint")

type Client struct {
	settings sources.Settings
	api      *sources.Transport
	pages    *sources.Transport
}

func New(s sources.Settings, token string) *Client {
	s = s.WithDefaults(DefaultBaseURL)
	api := sources.NewTransport(string(models.Genius), s)
	api.Authorize = func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
	pages := sources.NewTransport(string(models.Genius), s)
	pages.Accept = "text/html"
	return &Client{settings: s, api: api, pages: pages}
}

func (c *Client) Name() models.Provider { return models.Genius }

func (c *Client) Limiter() *rate.Limiter { return c.settings.Limiter }

func (c *Client) RefreshAuth(context.Context) error { return sources.ErrNotRefreshable }

// Fetch searches with the hint, loads the song and, when lyrics were asked for,
// scrapes the lyrics page.
func (c *Client) Fetch(ctx context.Context, q sources.Query) models.SourceResult {
	started := time.Now()
	if !q.HasHint() {
		return sources.Failed(models.Genius, started,
			apperrors.Wrap(apperrors.ErrNotFound, "genius", "search", "", errNoHint))
	}
	logger := c.settings.Logger.With(logging.String(logging.FieldISRC, q.ISRC))

	songID, err := sources.Call(ctx, c.settings, "genius", nil, func(ctx context.Context) (int64, error) {
		return c.search(ctx, q.Title, q.Artist)
	})
	if err != nil {
		logger.Debug("song search failed", logging.Error(err))
		return sources.Failed(models.Genius, started, err)
	}

	song, err := sources.Call(ctx, c.settings, "genius", nil, func(ctx context.Context) (gjson.Result, error) {
		body, err := c.api.Get(ctx, fmt.Sprintf("%s/songs/%d?text_format=plain", c.settings.BaseURL, songID))
		if err != nil {
			return gjson.Result{}, err
		}
		song := gjson.GetBytes(body, "response.song")
		if !song.Exists() {
			return song, backoff.Permanent(apperrors.Wrap(apperrors.ErrNotFound, "genius", "song", strconv.FormatInt(songID, 10), nil))
		}
		return song, nil
	})
	if err != nil {
		logger.Debug("song lookup failed", logging.Error(err))
		return sources.Failed(models.Genius, started, err)
	}

	fields := songFields(song, q.Options.IncludeCredits)

	var secondary error
	if q.Options.IncludeLyrics {
		pageURL := song.Get("url").String()
		text, err := sources.Call(ctx, c.settings, "genius", nil, func(ctx context.Context) (string, error) {
			return c.scrapeLyrics(ctx, pageURL)
		})
		if err != nil {
			logger.Debug("lyrics scrape failed", logging.Error(err))
			secondary = fmt.Errorf("genius lyrics: %w", err)
		} else {
			fields.Lyrics = songLyrics(song, text, pageURL)
		}
	}

	return sources.Succeeded(models.Genius, started, fields, secondary)
}

func (c *Client) search(ctx context.Context, title, artist string) (int64, error) {
	params := url.Values{}
	params.Set("q", title+" "+artist)
	body, err := c.api.Get(ctx, c.settings.BaseURL+"/search?"+params.Encode())
	if err != nil {
		return 0, err
	}
	id, ok := bestHit(gjson.GetBytes(body, "response.hits").Array(), artist)
	if !ok {
		return 0, backoff.Permanent(apperrors.Wrap(apperrors.ErrNotFound, "genius", "search", strconv.Quote(title+" "+artist), nil))
	}
	return id, nil
}

func (c *Client) scrapeLyrics(ctx context.Context, pageURL string) (string, error) {
	if pageURL == "" {
		return "", backoff.Permanent(apperrors.Wrap(apperrors.ErrNotFound, "genius", "lyrics", "song has no page", nil))
	}
	body, err := c.pages.Get(ctx, pageURL)
	if err != nil {
		return "", err
	}
	text, err := extractLyrics(body)
	if err != nil {
		return "", backoff.Permanent(apperrors.Wrap(apperrors.ErrSourceUnavailable, "genius", "lyrics", "unreadable page", err))
	}
	if text == "" {
		return "", backoff.Permanent(apperrors.Wrap(apperrors.ErrNotFound, "genius", "lyrics", "no lyrics on page", nil))
	}
	return text, nil
}
