// Package service provides the cryptographic services: CMS envelope backends
// for the persistent store and AEAD ciphers for the shared-cache sealer.
package service

import (
	cryptoDomain "github.com/mrscotty/keynanny/internal/crypto/domain"
	tokenDomain "github.com/mrscotty/keynanny/internal/token/domain"
)

// Backend defines the envelope crypto operations the persistent store needs.
// Implementations produce and consume PEM-encoded CMS EnvelopedData with
// AES-256 content encryption.
type Backend interface {
	// Encrypt envelope-encrypts plaintext to the recipient token's
	// certificate and returns the PEM CMS blob.
	Encrypt(plaintext []byte, recipient *tokenDomain.Token) ([]byte, error)

	// Decrypt opens a PEM CMS blob with the given token's certificate and key.
	Decrypt(blob []byte, token *tokenDomain.Token) ([]byte, error)

	// RecipientInfos enumerates the issuerAndSerialNumber recipients of a PEM
	// CMS blob in envelope order.
	RecipientInfos(blob []byte) ([]tokenDomain.Recipient, error)
}

// AEAD defines the interface for Authenticated Encryption with Associated Data.
type AEAD interface {
	// Encrypt encrypts plaintext with optional AAD and returns ciphertext and nonce.
	Encrypt(plaintext, aad []byte) (ciphertext, nonce []byte, err error)

	// Decrypt decrypts ciphertext using the provided nonce and AAD.
	Decrypt(ciphertext, nonce, aad []byte) ([]byte, error)
}

// AEADManager defines the interface for creating AEAD cipher instances.
type AEADManager interface {
	// CreateCipher creates an AEAD cipher instance for the specified algorithm.
	CreateCipher(key []byte, alg cryptoDomain.Algorithm) (AEAD, error)
}
