package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ces0491/isrc-meta-data-finder/internal/apperrors"
)

const (
	DefaultUserAgent = "isrc-meta-data-finder/1.0 (https://github.com/ces0491/isrc-meta-data-finder)"

	maxBodyBytes = 8 << 20
)

// Transport performs a single HTTP exchange for one provider and turns the
// response into either a body or a classified error. Retrying is left to Call.
type Transport struct {
	Component  string
	HTTPClient *http.Client
	UserAgent  string
	Accept     string

	// Authorize decorates each request with credentials.
	Authorize func(*http.Request)
	// Inspect looks for provider-specific failure signals; it runs before the
	// generic status classification and may return nil to fall through.
	Inspect func(status int, header http.Header, body []byte) error
}

// NewTransport builds a transport from shared settings.
func NewTransport(component string, s Settings) *Transport {
	return &Transport{
		Component:  component,
		HTTPClient: s.HTTPClient,
		UserAgent:  s.UserAgent,
		Accept:     "application/json",
	}
}

// Do sets the shared headers and sends the request.
func (t *Transport) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", t.UserAgent)
	if t.Accept != "" {
		req.Header.Set("Accept", t.Accept)
	}
	if t.Authorize != nil {
		t.Authorize(req)
	}
	return t.HTTPClient.Do(req)
}

// Get fetches rawURL and returns the body of a successful response.
func (t *Transport) Get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, backoff.Permanent(apperrors.Wrap(apperrors.ErrSourceUnavailable, t.Component, "build request", "", err))
	}
	resp, err := t.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.Wrap(apperrors.ErrSourceUnavailable, t.Component, "request", "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSourceUnavailable, t.Component, "read body", "", err)
	}

	if t.Inspect != nil {
		if err := t.Inspect(resp.StatusCode, resp.Header, body); err != nil {
			return nil, err
		}
	}
	if err := t.classify(resp.StatusCode, resp.Header, body); err != nil {
		return nil, err
	}
	return body, nil
}

// GetJSON fetches rawURL and decodes the body into out.
func (t *Transport) GetJSON(ctx context.Context, rawURL string, out any) error {
	body, err := t.Get(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return backoff.Permanent(apperrors.Wrap(apperrors.ErrSourceUnavailable, t.Component, "decode", "malformed payload", err))
	}
	return nil
}

func (t *Transport) classify(status int, header http.Header, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return &RateLimitError{
			RetryAfter: ParseRetryAfter(header.Get("Retry-After"), time.Now()),
			Detail:     t.Component + ": http 429",
		}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.Wrap(apperrors.ErrSourceAuth, t.Component, "request", fmt.Sprintf("http %d", status), nil)
	case status == http.StatusNotFound:
		return backoff.Permanent(apperrors.Wrap(apperrors.ErrNotFound, t.Component, "request", "http 404", nil))
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		return apperrors.Wrap(apperrors.ErrSourceUnavailable, t.Component, "request", fmt.Sprintf("http %d", status), nil)
	default:
		return backoff.Permanent(apperrors.Wrap(apperrors.ErrSourceUnavailable, t.Component, "request",
			fmt.Sprintf("http %d: %s", status, snippet(body)), nil))
	}
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}
