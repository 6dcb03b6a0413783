// Package cache keeps the last successful analysis per (ISRC, option set) and
// makes sure at most one aggregation per key is in flight.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ces0491/isrc-meta-data-finder/internal/logging"
	"github.com/ces0491/isrc-meta-data-finder/internal/models"
	"github.com/ces0491/isrc-meta-data-finder/internal/telemetry"
)

const DefaultTTL = 24 * time.Hour

// Entry is one cached analysis.
type Entry struct {
	Analysis  *models.Analysis
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Loader produces a fresh analysis. It runs detached from the caller that
// triggered it.
type Loader func(ctx context.Context) (*models.Analysis, error)

type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	group   singleflight.Group

	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = logging.NewComponentLogger(l, "cache") }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates a cache whose entries live for ttl (DefaultTTL when ttl <= 0).
func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		entries: make(map[string]Entry),
		ttl:     ttl,
		now:     time.Now,
		logger:  logging.NewComponentLogger(nil, "cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key derives the cache key of an analysis request. ForceRefresh changes how
// the cache is used, not what is cached, so it is not part of the key.
func Key(isrc string, opts models.Options) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%t|%t|%t", isrc, opts.Comprehensive, opts.IncludeLyrics, opts.IncludeCredits))
	return hex.EncodeToString(sum[:])
}

// Get returns a copy of the unexpired entry for key.
func (c *Cache) Get(key string) (*models.Analysis, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || e.expired(c.now()) {
		return nil, false
	}
	return hit(e), true
}

// GetOrLoad serves key from the cache unless it is missing, expired or force
// is set. Otherwise callers for the same key share one call to load, bounded
// by deadline and unaffected by any single caller going away. A failed load
// leaves the existing entry alone; its copy comes back marked stale next to
// the error.
func (c *Cache) GetOrLoad(ctx context.Context, key string, force bool, deadline time.Duration, load Loader) (*models.Analysis, error) {
	c.mu.RLock()
	prev, had := c.entries[key]
	c.mu.RUnlock()

	switch {
	case force:
		c.metrics.RecordCacheLookup(ctx, telemetry.CacheForced)
	case !had:
		c.metrics.RecordCacheLookup(ctx, telemetry.CacheMiss)
	case prev.expired(c.now()):
		c.metrics.RecordCacheLookup(ctx, telemetry.CacheExpired)
	default:
		c.metrics.RecordCacheLookup(ctx, telemetry.CacheHit)
		return hit(prev), nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// a flight for key may have stored an entry between our lookup and
		// joining the group
		if !force {
			c.mu.RLock()
			cur, ok := c.entries[key]
			c.mu.RUnlock()
			if ok && !cur.expired(c.now()) {
				return hit(cur), nil
			}
		}
		loadCtx := context.WithoutCancel(ctx)
		if deadline > 0 {
			var cancel context.CancelFunc
			loadCtx, cancel = context.WithTimeout(loadCtx, deadline)
			defer cancel()
		}
		a, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		return c.store(key, a), nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			c.mu.RLock()
			prev, had = c.entries[key]
			c.mu.RUnlock()
			if had {
				stale := hit(prev)
				stale.Stale = true
				return stale, r.Err
			}
			return nil, r.Err
		}
		return r.Val.(*models.Analysis).Clone(), nil
	}
}

func (c *Cache) store(key string, a *models.Analysis) *models.Analysis {
	now := c.now()
	stored := a.Clone()
	stored.CachedAt = now
	stored.ExpiresAt = now.Add(c.ttl)
	stored.FromCache = false
	stored.Stale = false

	c.mu.Lock()
	c.entries[key] = Entry{Analysis: stored, CreatedAt: now, ExpiresAt: stored.ExpiresAt}
	c.mu.Unlock()

	c.logger.Debug("entry stored", logging.String("key", key[:min(12, len(key))]), slog.Time("expires_at", stored.ExpiresAt))
	return stored
}

// Invalidate removes the entry for key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Purge drops every expired entry and reports how many were removed.
func (c *Cache) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len counts entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func hit(e Entry) *models.Analysis {
	a := e.Analysis.Clone()
	a.FromCache = true
	return a
}
