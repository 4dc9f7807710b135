// Package session turns repository credentials into authenticated
// transport configuration and caches the expensive ones.
package session

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/reporoute/internal/repository"
)

// Cache defaults.
const (
	DefaultTTL          = time.Hour
	DefaultBuildTimeout = 2 * time.Minute
)

// Key identifies a credential identity. Repositories that share
// credentials share one cached session.
type Key string

// KeyFor derives the cache key from (domain, username, secret). Fields are
// length-prefixed so that no two distinct triples collide.
func KeyFor(domain, username, secret string) Key {
	h := sha256.Sum256(fmt.Appendf(nil, "%d:%s%d:%s%d:%s",
		len(domain), domain, len(username), username, len(secret), secret))

	return Key(fmt.Sprintf("%x", h))
}

// KeyForCredentials is KeyFor over c's identity fields.
func KeyForCredentials(c repository.Credentials) Key {
	return KeyFor(c.Domain, c.Username, c.Secret)
}

// BuildFunc constructs a new session. The context passed to it is detached
// from the requesting caller and bounded by the cache's build timeout.
type BuildFunc func(ctx context.Context) (*Config, error)

// CacheOptions configures a Cache. Zero fields take defaults.
type CacheOptions struct {
	TTL          time.Duration
	BuildTimeout time.Duration
}

// Cache stores sessions for TTL after they were built. Concurrent
// GetOrCreate calls for the same key share one in-flight build; unrelated
// keys build in parallel.
type Cache struct {
	ttl          time.Duration
	buildTimeout time.Duration
	logger       *slog.Logger
	metrics      *Metrics

	mu      sync.Mutex
	entries map[Key]*Config
	group   singleflight.Group

	// now is replaceable for TTL tests.
	now func() time.Time
}

// NewCache creates an empty Cache.
func NewCache(opts CacheOptions, logger *slog.Logger, metrics *Metrics) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}

	if opts.BuildTimeout <= 0 {
		opts.BuildTimeout = DefaultBuildTimeout
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{
		ttl:          opts.TTL,
		buildTimeout: opts.BuildTimeout,
		logger:       logger,
		metrics:      metrics,
		entries:      make(map[Key]*Config),
		now:          time.Now,
	}
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// GetOrCreate returns the cached session for key while it is younger than
// the TTL, and otherwise builds, stores and returns a new one.
//
// If ctx ends while waiting, GetOrCreate returns ctx.Err() but the build
// keeps running and its result is still cached for later callers.
func (c *Cache) GetOrCreate(ctx context.Context, key Key, build BuildFunc) (*Config, error) {
	if cfg, ok := c.lookup(key); ok {
		c.metrics.recordHit()
		c.logger.Debug("session cache hit", slog.String("session_id", cfg.ID))

		return cfg, nil
	}

	c.metrics.recordMiss()

	ch := c.group.DoChan(string(key), func() (any, error) {
		// A build that finished between lookup and DoChan already stored
		// a fresh entry.
		if cfg, ok := c.lookup(key); ok {
			return cfg, nil
		}

		return c.build(ctx, key, build)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		return res.Val.(*Config), nil //nolint:forcetypeassert // only *Config is stored
	}
}

func (c *Cache) build(ctx context.Context, key Key, build BuildFunc) (*Config, error) {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.buildTimeout)
	defer cancel()

	start := c.now()

	cfg, err := build(bctx)
	if err == nil && cfg == nil {
		err = errors.New("session: builder returned no session")
	}

	c.metrics.recordBuild(err == nil, c.now().Sub(start))

	if err != nil {
		return nil, err
	}

	cfg.CreatedAt = c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cfg
	c.metrics.setEntries(len(c.entries))

	c.logger.Info("session built",
		slog.String("session_id", cfg.ID),
		slog.String("kind", string(cfg.Kind)),
	)

	return cfg, nil
}

// lookup returns a fresh entry and evicts a stale one.
func (c *Cache) lookup(key Key) (*Config, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	if c.now().Sub(cfg.CreatedAt) < c.ttl {
		return cfg, true
	}

	delete(c.entries, key)
	c.metrics.recordExpired()
	c.metrics.setEntries(len(c.entries))
	c.logger.Debug("session expired", slog.String("session_id", cfg.ID))

	return nil, false
}

// Invalidate drops the entry for key so the next GetOrCreate rebuilds. A
// build already in flight for key is left alone: later callers join it, so
// at most one build per key runs at any time.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	cfg, ok := c.entries[key]
	c.evictLocked(key)
	c.mu.Unlock()

	if ok {
		c.logger.Info("session invalidated", slog.String("session_id", cfg.ID))
	}
}

// Refresh replaces stale, the session a caller found to be rejected. The
// cached entry is dropped only while it is still stale; if another caller
// has already replaced it, the newer session is returned, and a rebuild in
// progress is joined. Concurrent refreshes of one session therefore cause
// exactly one build. A nil stale drops whatever is cached.
func (c *Cache) Refresh(ctx context.Context, key Key, stale *Config, build BuildFunc) (*Config, error) {
	c.mu.Lock()

	cfg, ok := c.entries[key]
	if ok && (stale == nil || cfg.ID == stale.ID) {
		c.evictLocked(key)
		c.mu.Unlock()

		c.logger.Info("session invalidated", slog.String("session_id", cfg.ID))
	} else {
		c.mu.Unlock()
	}

	return c.GetOrCreate(ctx, key, build)
}

func (c *Cache) evictLocked(key Key) {
	delete(c.entries, key)
	c.metrics.setEntries(len(c.entries))
	c.metrics.recordInvalidation()
}

// Len returns the number of cached entries, fresh or stale.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
