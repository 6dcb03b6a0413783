// Package musicbrainz looks recordings up by ISRC through the MusicBrainz web
// service. No credentials are needed, but MusicBrainz asks every client to send
// a descriptive User-Agent and stay under its request ceiling.
package musicbrainz

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/ces0491/isrc-meta-data-finder/internal/logging"
	"github.com/ces0491/isrc-meta-data-finder/internal/models"
	"github.com/ces0491/isrc-meta-data-finder/internal/sources"
)

const DefaultBaseURL = "https://musicbrainz.org/ws/2"

type isrcResponse struct {
	ISRC       string      `json:"isrc"`
	Recordings []recording `json:"recordings"`
}

type recording struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	Length           *int64         `json:"length"`
	FirstReleaseDate string         `json:"first-release-date"`
	ArtistCredit     []artistCredit `json:"artist-credit"`
	Releases         []release      `json:"releases"`
	Relations        []relation     `json:"relations"`
}

type artistCredit struct {
	Name       string `json:"name"`
	JoinPhrase string `json:"joinphrase"`
	Artist     struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"artist"`
}

type release struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Date  string `json:"date"`
}

type relation struct {
	Type       string `json:"type"`
	TargetType string `json:"target-type"`
	Artist     *struct {
		Name string `json:"name"`
	} `json:"artist"`
	Work *struct {
		Title     string     `json:"title"`
		Relations []relation `json:"relations"`
	} `json:"work"`
}

type Client struct {
	settings  sources.Settings
	transport *sources.Transport
}

func New(s sources.Settings) *Client {
	s = s.WithDefaults(DefaultBaseURL)
	return &Client{
		settings:  s,
		transport: sources.NewTransport(string(models.MusicBrainz), s),
	}
}

func (c *Client) Name() models.Provider { return models.MusicBrainz }

func (c *Client) Limiter() *rate.Limiter { return c.settings.Limiter }

func (c *Client) RefreshAuth(context.Context) error { return sources.ErrNotRefreshable }

// Fetch resolves the ISRC to its first recording. Credits come from a second
// lookup of that recording's relationships when the query asks for them.
func (c *Client) Fetch(ctx context.Context, q sources.Query) models.SourceResult {
	started := time.Now()
	logger := c.settings.Logger.With(logging.String(logging.FieldISRC, q.ISRC))

	rec, err := sources.Call(ctx, c.settings, "musicbrainz", nil, func(ctx context.Context) (recording, error) {
		return c.lookupISRC(ctx, q.ISRC)
	})
	if err != nil {
		logger.Debug("isrc lookup failed", logging.Error(err))
		return sources.Failed(models.MusicBrainz, started, err)
	}

	fields := recordingFields(rec)

	var secondary error
	if q.Options.IncludeCredits {
		detail, err := sources.Call(ctx, c.settings, "musicbrainz", nil, func(ctx context.Context) (recording, error) {
			return c.lookupRelations(ctx, rec.ID)
		})
		if err != nil {
			logger.Debug("credit lookup failed", logging.Error(err))
			secondary = fmt.Errorf("musicbrainz credits: %w", err)
		} else {
			fields.Credits = relationCredits(detail.Relations)
		}
	}

	return sources.Succeeded(models.MusicBrainz, started, fields, secondary)
}

func (c *Client) lookupISRC(ctx context.Context, isrc string) (recording, error) {
	endpoint := fmt.Sprintf("%s/isrc/%s?fmt=json&inc=%s", c.settings.BaseURL, url.PathEscape(isrc), url.QueryEscape("artist-credits+releases"))
	var res isrcResponse
	if err := c.transport.GetJSON(ctx, endpoint, &res); err != nil {
		return recording{}, err
	}
	if len(res.Recordings) == 0 {
		return recording{}, notFound(isrc)
	}
	return res.Recordings[0], nil
}

func (c *Client) lookupRelations(ctx context.Context, id string) (recording, error) {
	endpoint := fmt.Sprintf("%s/recording/%s?fmt=json&inc=%s", c.settings.BaseURL, url.PathEscape(id), url.QueryEscape("artist-rels+work-rels+work-level-rels+artist-credits"))
	var rec recording
	err := c.transport.GetJSON(ctx, endpoint, &rec)
	return rec, err
}
