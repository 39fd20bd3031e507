// Package queue hands tasks off to workers over Redis Streams using an
// ID-only broker payload — Foreman's Postgres rows remain the source of
// truth — plus a short-lived cache of the resolved broker/queue
// configuration so every enqueue doesn't have to re-resolve it.
package queue

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"foreman/internal/shared/config"
)

// Loader resolves the broker configuration to use for an organization. A
// single-tenant deployment can return the same config.BrokerConfig for
// every orgID; the cache exists for deployments that let an org override
// its queue names.
type Loader func(ctx context.Context, orgID string) (config.BrokerConfig, error)

type cacheEntry struct {
	cfg       config.BrokerConfig
	expiresAt time.Time
}

// ConfigCache caches resolved BrokerConfig values for up to ttl: an LRU keyed
// cache holding a manual expiresAt alongside each entry, checked on every
// Get rather than relying on a background eviction goroutine.
type ConfigCache struct {
	cache  *lru.Cache[string, cacheEntry]
	ttl    time.Duration
	loader Loader
	now    func() time.Time
}

// DefaultConfigCacheTTL is the default cache lifetime.
const DefaultConfigCacheTTL = 5 * time.Minute

// NewConfigCache builds a ConfigCache holding up to size entries.
func NewConfigCache(size int, ttl time.Duration, loader Loader) (*ConfigCache, error) {
	if loader == nil {
		return nil, fmt.Errorf("queue: config loader is required")
	}
	if size <= 0 {
		size = 256
	}
	if ttl <= 0 {
		ttl = DefaultConfigCacheTTL
	}
	cache, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("queue: build config cache: %w", err)
	}
	return &ConfigCache{cache: cache, ttl: ttl, loader: loader, now: time.Now}, nil
}

// Get returns the cached BrokerConfig for orgID, resolving and caching it
// through loader on a miss or an expired entry.
func (c *ConfigCache) Get(ctx context.Context, orgID string) (config.BrokerConfig, error) {
	if v, ok := c.cache.Get(orgID); ok && c.now().Before(v.expiresAt) {
		return v.cfg, nil
	}

	cfg, err := c.loader(ctx, orgID)
	if err != nil {
		return config.BrokerConfig{}, fmt.Errorf("resolve broker config for %q: %w", orgID, err)
	}
	c.cache.Add(orgID, cacheEntry{cfg: cfg, expiresAt: c.now().Add(c.ttl)})
	return cfg, nil
}

// Invalidate drops any cached entry for orgID, forcing the next Get to
// reload it.
func (c *ConfigCache) Invalidate(orgID string) {
	c.cache.Remove(orgID)
}
