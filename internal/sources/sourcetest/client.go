// Package sourcetest provides a scriptable sources.Client for tests.
package sourcetest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/ces0491/isrc-meta-data-finder/internal/models"
	"github.com/ces0491/isrc-meta-data-finder/internal/sources"
)

// Client returns Result after Delay, or a timeout result if ctx ends first.
type Client struct {
	Provider models.Provider
	Result   models.SourceResult
	Delay    time.Duration
	Panic    bool

	calls   atomic.Int32
	mu      sync.Mutex
	queries []sources.Query
}

// Succeeding returns a client that reports fields as a success.
func Succeeding(p models.Provider, fields models.FieldSet) *Client {
	return &Client{Provider: p, Result: models.SourceResult{Source: p, Status: models.StatusSuccess, Fields: fields}}
}

// Failing returns a client that reports status without fields.
func Failing(p models.Provider, status models.SourceStatus) *Client {
	return &Client{Provider: p, Result: models.SourceResult{Source: p, Status: status, Detail: "scripted " + string(status)}}
}

func (c *Client) Name() models.Provider { return c.Provider }

func (c *Client) Limiter() *rate.Limiter { return rate.NewLimiter(rate.Inf, 1) }

func (c *Client) RefreshAuth(context.Context) error { return sources.ErrNotRefreshable }

func (c *Client) Fetch(ctx context.Context, q sources.Query) models.SourceResult {
	c.calls.Add(1)
	c.mu.Lock()
	c.queries = append(c.queries, q)
	c.mu.Unlock()

	if c.Panic {
		panic("scripted panic from " + string(c.Provider))
	}
	if c.Delay > 0 {
		select {
		case <-time.After(c.Delay):
		case <-ctx.Done():
			return models.SourceResult{Source: c.Provider, Status: models.StatusTimeout, Err: ctx.Err(), Detail: ctx.Err().Error()}
		}
	}
	return c.Result
}

// Calls reports how many times Fetch ran.
func (c *Client) Calls() int { return int(c.calls.Load()) }

// Queries returns every query Fetch received.
func (c *Client) Queries() []sources.Query {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sources.Query(nil), c.queries...)
}
