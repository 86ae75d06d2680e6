package cache

import (
	"log/slog"
	"sync"

	"github.com/mrscotty/keynanny/internal/store"
)

// PreloadCache is the process-local strategy: the whole store is decrypted
// into memory at startup and hits are served without touching disk. Workers
// share the map behind an RWMutex; a miss falls through to the store and is
// back-filled by the server.
type PreloadCache struct {
	store  *store.Store
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string][]byte
}

// NewPreloadCache creates an empty preload cache. Call Warm to populate it.
func NewPreloadCache(store *store.Store, logger *slog.Logger) *PreloadCache {
	return &PreloadCache{
		store:   store,
		logger:  logger,
		entries: make(map[string][]byte),
	}
}

// Warm scans the storage directory and decrypts every slot into the map.
// A slot that fails to decrypt is skipped with a warning; it will be retried
// on the lazy read path.
func (c *PreloadCache) Warm() error {
	keys, err := c.store.Keys()
	if err != nil {
		return err
	}

	loaded := 0
	for _, key := range keys {
		value, err := c.store.Get(key)
		if err != nil {
			c.logger.Warn("preload skipped slot",
				slog.String("key", key),
				slog.Any("error", err),
			)
			continue
		}
		c.mu.Lock()
		c.entries[key] = value
		c.mu.Unlock()
		loaded++
	}

	c.logger.Info("cache preloaded", slog.Int("secrets", loaded))
	return nil
}

// Get returns the cached plaintext for key.
func (c *PreloadCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.entries[key]
	return value, ok
}

// Put records the plaintext for key.
func (c *PreloadCache) Put(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
}
