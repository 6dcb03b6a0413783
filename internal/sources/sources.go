// Package sources defines the contract every metadata provider implements and
// the plumbing they share: rate limiting, bounded retries, auth refresh and
// HTTP status classification.
package sources

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ces0491/isrc-meta-data-finder/internal/apperrors"
	"github.com/ces0491/isrc-meta-data-finder/internal/logging"
	"github.com/ces0491/isrc-meta-data-finder/internal/models"
)

const (
	DefaultTimeout        = 8 * time.Second
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 8 * time.Second
)

// ErrNotRefreshable is returned by RefreshAuth for clients with static credentials.
var ErrNotRefreshable = errors.New("credentials are not refreshable")

// Query is what the aggregator asks a client for. Title and Artist are a hint
// resolved from earlier sources and may be empty.
type Query struct {
	ISRC    string
	Options models.Options
	Title   string
	Artist  string
}

// HasHint reports whether the query carries enough to search by name.
func (q Query) HasHint() bool {
	return strings.TrimSpace(q.Title) != "" && strings.TrimSpace(q.Artist) != ""
}

// Client is one provider. Fetch never returns an error or panics past its
// boundary; every failure is folded into the result status.
type Client interface {
	Name() models.Provider
	Fetch(ctx context.Context, q Query) models.SourceResult
	Limiter() *rate.Limiter
	RefreshAuth(ctx context.Context) error
}

// Settings are the per-provider knobs shared by every client.
type Settings struct {
	BaseURL        string
	HTTPClient     *http.Client
	Limiter        *rate.Limiter
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	UserAgent      string
	Logger         *slog.Logger
}

// WithDefaults fills unset fields.
func (s Settings) WithDefaults(baseURL string) Settings {
	if s.BaseURL == "" {
		s.BaseURL = baseURL
	}
	s.BaseURL = strings.TrimRight(s.BaseURL, "/")
	if s.HTTPClient == nil {
		s.HTTPClient = &http.Client{}
	}
	if s.Limiter == nil {
		s.Limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.MaxRetries < 0 {
		s.MaxRetries = 0
	}
	if s.InitialBackoff <= 0 {
		s.InitialBackoff = DefaultInitialBackoff
	}
	if s.MaxBackoff <= 0 {
		s.MaxBackoff = DefaultMaxBackoff
	}
	if s.UserAgent == "" {
		s.UserAgent = DefaultUserAgent
	}
	if s.Logger == nil {
		s.Logger = logging.NewNop()
	}
	return s
}

// StatusFor maps an error returned through Call to a result status.
func StatusFor(err error) models.SourceStatus {
	switch {
	case err == nil:
		return models.StatusSuccess
	case errors.Is(err, apperrors.ErrSourceRateLimited):
		return models.StatusRateLimited
	case errors.Is(err, apperrors.ErrSourceAuth):
		return models.StatusAuthError
	case errors.Is(err, apperrors.ErrSourceTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return models.StatusTimeout
	default:
		return models.StatusFailure
	}
}

// Failed builds the result for a fetch that produced nothing usable.
func Failed(p models.Provider, started time.Time, err error) models.SourceResult {
	res := models.SourceResult{
		Source:  p,
		Status:  StatusFor(err),
		Latency: time.Since(started),
		Err:     err,
	}
	if err != nil {
		res.Detail = err.Error()
	}
	if res.Status == models.StatusSuccess {
		res.Status = models.StatusFailure
	}
	return res
}

// Succeeded builds a usable result. A non-nil secondary error downgrades the
// status to partial and is kept for the audit trail.
func Succeeded(p models.Provider, started time.Time, fields models.FieldSet, secondary error) models.SourceResult {
	res := models.SourceResult{
		Source:  p,
		Status:  models.StatusSuccess,
		Fields:  fields,
		Latency: time.Since(started),
	}
	if secondary != nil {
		res.Status = models.StatusPartial
		res.Err = secondary
		res.Detail = secondary.Error()
	}
	return res
}
