package service

import (
	cryptoDomain "github.com/mrscotty/keynanny/internal/crypto/domain"
)

// aeadManager implements AEADManager by dispatching on the algorithm.
type aeadManager struct{}

// NewAEADManager creates a new AEAD cipher factory.
func NewAEADManager() AEADManager {
	return &aeadManager{}
}

// CreateCipher creates an AEAD cipher instance for the specified algorithm.
func (m *aeadManager) CreateCipher(key []byte, alg cryptoDomain.Algorithm) (AEAD, error) {
	switch alg {
	case cryptoDomain.AESGCM:
		return NewAESGCM(key)
	case cryptoDomain.ChaCha20:
		return NewChaCha20Poly1305(key)
	default:
		return nil, cryptoDomain.ErrUnsupportedAlgorithm
	}
}
