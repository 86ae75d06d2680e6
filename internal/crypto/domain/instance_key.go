package domain

import (
	"crypto/rand"
	"fmt"
)

// InstanceKey is the ephemeral symmetric key sealing shared-cache entries.
// It is generated at startup, lives only in process memory, and is never
// logged, persisted, or shared with other daemon instances. Entries sealed by
// one instance are therefore opaque garbage to every other.
type InstanceKey struct {
	key []byte
}

// NewInstanceKey generates a fresh 32-byte key from the system CSPRNG.
func NewInstanceKey() (*InstanceKey, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate instance key: %w", err)
	}
	return &InstanceKey{key: key}, nil
}

// Bytes returns the raw key material. Callers must not retain or log it.
func (k *InstanceKey) Bytes() []byte {
	return k.key
}

// Close zeroes the key material. The key is unusable afterwards.
func (k *InstanceKey) Close() {
	Zero(k.key)
	k.key = nil
}

// Zero overwrites a byte slice to clear sensitive data from memory.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
