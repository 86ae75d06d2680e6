package cache

import (
	"fmt"

	cryptoService "github.com/mrscotty/keynanny/internal/crypto/service"
)

// cacheKeyPrefix scopes shared-cache entries. The literal prefix is kept for
// wire compatibility with existing deployments.
const cacheKeyPrefix = "skeepd"

// CacheKey builds the shared-cache key for a secret in a namespace.
func CacheKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s:%s:", cacheKeyPrefix, namespace, key)
}

// Sealer wraps plaintext for the untrusted shared cache. The AEAD runs under
// the instance key with the full cache key as associated data, so an entry
// copied to a different cache key, or produced by a different daemon
// instance, fails authentication and reads as a miss.
type Sealer struct {
	aead cryptoService.AEAD
}

// NewSealer creates a sealer over the given AEAD cipher.
func NewSealer(aead cryptoService.AEAD) *Sealer {
	return &Sealer{aead: aead}
}

// Seal encrypts plaintext for the cache entry at cacheKey. The returned value
// is nonce followed by ciphertext.
func (s *Sealer) Seal(cacheKey string, plaintext []byte) ([]byte, error) {
	ciphertext, nonce, err := s.aead.Encrypt(plaintext, []byte(cacheKey))
	if err != nil {
		return nil, err
	}
	return append(nonce, ciphertext...), nil
}

// Unseal authenticates and decrypts a cache entry fetched from cacheKey.
func (s *Sealer) Unseal(cacheKey string, value []byte) ([]byte, error) {
	if len(value) < nonceSize {
		return nil, fmt.Errorf("sealed value too short")
	}
	return s.aead.Decrypt(value[nonceSize:], value[:nonceSize], []byte(cacheKey))
}

// nonceSize is shared by both supported AEADs.
const nonceSize = 12
