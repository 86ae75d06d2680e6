package cache

import (
	"log/slog"
	"sync"

	"github.com/bradfitz/gomemcache/memcache"
)

// MemcacheCache is the shared strategy. The local in-process map is consulted
// first. Shared entries are sealed under the instance key, so entries written
// by any other daemon instance, including this daemon before a restart, fail
// to unseal and read as misses.
//
// The shared cache is treated as publicly readable and writable. Plaintext
// never reaches it, and any entry that fails authentication is a miss plus a
// tampering warning, never an error.
type MemcacheCache struct {
	namespace string
	client    *memcache.Client
	sealer    *Sealer
	logger    *slog.Logger

	mu    sync.RWMutex
	local map[string][]byte
}

// NewMemcacheCache creates the shared cache client for the configured
// server list.
func NewMemcacheCache(
	namespace string,
	servers []string,
	sealer *Sealer,
	logger *slog.Logger,
) *MemcacheCache {
	return &MemcacheCache{
		namespace: namespace,
		client:    memcache.New(servers...),
		sealer:    sealer,
		logger:    logger,
		local:     make(map[string][]byte),
	}
}

// Get returns the plaintext for key from the local map, then from the shared
// cache after unsealing.
func (c *MemcacheCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	value, ok := c.local[key]
	c.mu.RUnlock()
	if ok {
		return value, true
	}

	cacheKey := CacheKey(c.namespace, key)
	item, err := c.client.Get(cacheKey)
	if err != nil {
		if err != memcache.ErrCacheMiss {
			c.logger.Warn("shared cache read failed",
				slog.String("cache_key", cacheKey),
				slog.Any("error", err),
			)
		}
		return nil, false
	}

	plaintext, err := c.sealer.Unseal(cacheKey, item.Value)
	if err != nil {
		c.logger.Warn("shared cache entry failed authentication, treating as miss",
			slog.String("cache_key", cacheKey),
			slog.Any("error", err),
		)
		return nil, false
	}

	c.mu.Lock()
	c.local[key] = plaintext
	c.mu.Unlock()
	return plaintext, true
}

// Put records the plaintext locally and writes the sealed entry to the
// shared cache. Shared-cache failures are logged and swallowed.
func (c *MemcacheCache) Put(key string, value []byte) {
	c.mu.Lock()
	c.local[key] = value
	c.mu.Unlock()

	cacheKey := CacheKey(c.namespace, key)
	sealed, err := c.sealer.Seal(cacheKey, value)
	if err != nil {
		c.logger.Warn("sealing cache entry failed",
			slog.String("cache_key", cacheKey),
			slog.Any("error", err),
		)
		return
	}
	if err := c.client.Set(&memcache.Item{Key: cacheKey, Value: sealed}); err != nil {
		c.logger.Warn("shared cache write failed",
			slog.String("cache_key", cacheKey),
			slog.Any("error", err),
		)
	}
}
