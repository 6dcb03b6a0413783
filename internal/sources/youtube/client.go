// Package youtube searches the YouTube Data API for a video tagged with the
// ISRC and reads its duration and view count.
package youtube

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	ytdl "github.com/kkdai/youtube/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/ces0491/isrc-meta-data-finder/internal/apperrors"
	"github.com/ces0491/isrc-meta-data-finder/internal/logging"
	"github.com/ces0491/isrc-meta-data-finder/internal/models"
	"github.com/ces0491/isrc-meta-data-finder/internal/sources"
)

const DefaultBaseURL = "https://www.googleapis.com/youtube/v3"

// VideoDetails loads the player metadata of one video.
type VideoDetails interface {
	GetVideoContext(ctx context.Context, id string) (*ytdl.Video, error)
}

type Client struct {
	settings  sources.Settings
	transport *sources.Transport
	apiKey    string
	details   VideoDetails
}

type Option func(*Client)

// WithVideoDetails replaces the kkdai player client.
func WithVideoDetails(d VideoDetails) Option {
	return func(c *Client) { c.details = d }
}

func New(s sources.Settings, apiKey string, opts ...Option) *Client {
	s = s.WithDefaults(DefaultBaseURL)
	c := &Client{
		settings:  s,
		transport: sources.NewTransport(string(models.YouTube), s),
		apiKey:    apiKey,
		details:   &ytdl.Client{HTTPClient: s.HTTPClient},
	}
	c.transport.Inspect = inspectAPIError
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() models.Provider { return models.YouTube }

func (c *Client) Limiter() *rate.Limiter { return c.settings.Limiter }

func (c *Client) RefreshAuth(context.Context) error { return sources.ErrNotRefreshable }

type searchHit struct {
	VideoID string
	Title   string
	Channel string
}

// Fetch searches for the quoted ISRC. The top hit supplies title and artist;
// duration and views come from the video's player details.
func (c *Client) Fetch(ctx context.Context, q sources.Query) models.SourceResult {
	started := time.Now()
	logger := c.settings.Logger.With(logging.String(logging.FieldISRC, q.ISRC))

	hit, err := sources.Call(ctx, c.settings, "youtube", nil, func(ctx context.Context) (searchHit, error) {
		return c.search(ctx, q.ISRC)
	})
	if err != nil {
		logger.Debug("video search failed", logging.Error(err))
		return sources.Failed(models.YouTube, started, err)
	}

	fields := hitFields(hit)

	video, err := sources.Call(ctx, c.settings, "youtube", nil, func(ctx context.Context) (*ytdl.Video, error) {
		v, err := c.details.GetVideoContext(ctx, hit.VideoID)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrSourceUnavailable, "youtube", "video details", hit.VideoID, err)
		}
		return v, nil
	})
	var secondary error
	if err != nil {
		logger.Debug("video details unavailable", logging.Error(err))
		secondary = fmt.Errorf("youtube video details: %w", err)
	} else {
		applyVideo(&fields, video)
	}

	return sources.Succeeded(models.YouTube, started, fields, secondary)
}

func (c *Client) search(ctx context.Context, isrc string) (searchHit, error) {
	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("type", "video")
	params.Set("maxResults", "1")
	params.Set("q", strconv.Quote(isrc))
	params.Set("key", c.apiKey)

	body, err := c.transport.Get(ctx, c.settings.BaseURL+"/search?"+params.Encode())
	if err != nil {
		return searchHit{}, err
	}
	item := gjson.GetBytes(body, "items.0")
	id := item.Get("id.videoId").String()
	if !item.Exists() || id == "" {
		return searchHit{}, backoff.Permanent(apperrors.Wrap(apperrors.ErrNotFound, "youtube", "search", "no video for "+isrc, nil))
	}
	return searchHit{
		VideoID: id,
		Title:   item.Get("snippet.title").String(),
		Channel: item.Get("snippet.channelTitle").String(),
	}, nil
}

// inspectAPIError reads the Data API error envelope, where quota exhaustion
// arrives as a 403 that must not be mistaken for bad credentials.
func inspectAPIError(status int, header http.Header, body []byte) error {
	if status < 400 {
		return nil
	}
	reason := gjson.GetBytes(body, "error.errors.0.reason").String()
	message := gjson.GetBytes(body, "error.message").String()
	switch reason {
	case "quotaExceeded", "rateLimitExceeded", "userRateLimitExceeded", "dailyLimitExceeded":
		return &sources.RateLimitError{
			RetryAfter: sources.ParseRetryAfter(header.Get("Retry-After"), time.Now()),
			Detail:     "youtube: " + reason,
		}
	case "keyInvalid", "keyExpired", "accessNotConfigured", "forbidden":
		return apperrors.Wrap(apperrors.ErrSourceAuth, "youtube", "request", reason+": "+message, nil)
	}
	return nil
}
