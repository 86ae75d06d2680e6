// Package cache provides the two interchangeable cache strategies in front of
// the persistent store: a process-local preloaded map, and a shared memcache
// whose entries are sealed with the per-instance key. The store stays the
// source of truth; every miss falls through to it.
package cache

// Cache is the read-through cache consulted before the persistent store.
type Cache interface {
	// Get returns the cached plaintext for key, or false on a miss.
	// A tampered or foreign shared-cache entry is a miss, never an error.
	Get(key string) ([]byte, bool)

	// Put records the plaintext for key. Shared-cache write failures are
	// logged and swallowed; the local map always wins.
	Put(key string, value []byte)
}
