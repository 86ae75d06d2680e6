// Package domain defines the cryptographic domain types: the AEAD algorithm
// enum and the per-process instance key protecting shared-cache entries.
package domain

import (
	"github.com/mrscotty/keynanny/internal/errors"
)

// Algorithm identifies an AEAD cipher for cache sealing.
type Algorithm string

// Supported AEAD algorithms.
const (
	AESGCM   Algorithm = "aes-gcm"
	ChaCha20 Algorithm = "chacha20-poly1305"
)

// KeySize is the required symmetric key length in bytes.
const KeySize = 32

// Crypto-specific error definitions.
var (
	// ErrUnsupportedAlgorithm indicates an algorithm outside the supported set.
	ErrUnsupportedAlgorithm = errors.Wrap(errors.ErrCrypto, "unsupported algorithm")

	// ErrInvalidKeySize indicates a key that is not exactly KeySize bytes.
	ErrInvalidKeySize = errors.Wrap(errors.ErrCrypto, "invalid key size")
)
