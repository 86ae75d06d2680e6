package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrscotty/keynanny/internal/config"
	cryptoService "github.com/mrscotty/keynanny/internal/crypto/service"
	apperrors "github.com/mrscotty/keynanny/internal/errors"
	"github.com/mrscotty/keynanny/internal/testutil"
	tokenDomain "github.com/mrscotty/keynanny/internal/token/domain"
	tokenService "github.com/mrscotty/keynanny/internal/token/service"
)

// newTestStore builds a store over a fresh catalogue with the given token
// configs.
func newTestStore(t *testing.T, dir string, configs ...config.TokenConfig) (*Store, *tokenService.Catalog) {
	t.Helper()
	catalog := tokenService.NewCatalog(configs, testutil.DiscardLogger())
	require.NoError(t, catalog.Load())
	s := New(dir, 0o077, cryptoService.NewCMSBackend(), catalog, testutil.DiscardLogger())
	return s, catalog
}

func TestStoreRoundTrip(t *testing.T) {
	certDir := t.TempDir()
	storageDir := filepath.Join(t.TempDir(), "storage")
	tokenConfig := testutil.WriteTokenFiles(t, certDir, "alpha", time.Now().Add(-time.Hour))
	s, _ := newTestStore(t, storageDir, tokenConfig)

	t.Run("put then get", func(t *testing.T) {
		value := []byte("hello")
		require.NoError(t, s.Put("greeting", value))
		got, err := s.Get("greeting")
		require.NoError(t, err)
		assert.Equal(t, value, got)
	})

	t.Run("binary value survives verbatim", func(t *testing.T) {
		value := make([]byte, 256)
		for i := range value {
			value[i] = byte(i)
		}
		require.NoError(t, s.Put("blob", value))
		got, err := s.Get("blob")
		require.NoError(t, err)
		assert.Equal(t, value, got)
	})

	t.Run("overwrite replaces the value", func(t *testing.T) {
		require.NoError(t, s.Put("rotating", []byte("v1")))
		require.NoError(t, s.Put("rotating", []byte("v2")))
		got, err := s.Get("rotating")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)
	})

	t.Run("slot file is a PEM envelope, not plaintext", func(t *testing.T) {
		require.NoError(t, s.Put("dbpass", []byte("supersecret")))
		raw, err := os.ReadFile(filepath.Join(storageDir, "dbpass"))
		require.NoError(t, err)
		assert.Contains(t, string(raw), "-----BEGIN")
		assert.NotContains(t, string(raw), "supersecret")
	})

	t.Run("exists", func(t *testing.T) {
		require.NoError(t, s.Put("present", []byte("x")))
		assert.True(t, s.Exists("present"))
		assert.False(t, s.Exists("absent"))
		assert.False(t, s.Exists("../escape"))
	})

	t.Run("get missing key", func(t *testing.T) {
		_, err := s.Get("does_not_exist")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("keys lists slots", func(t *testing.T) {
		keys, err := s.Keys()
		require.NoError(t, err)
		assert.Contains(t, keys, "greeting")
		assert.Contains(t, keys, "blob")
	})

	t.Run("no leftover temp files", func(t *testing.T) {
		entries, err := os.ReadDir(storageDir)
		require.NoError(t, err)
		for _, entry := range entries {
			assert.NotContains(t, entry.Name(), ".tmp")
		}
	})
}

func TestStoreKeyValidation(t *testing.T) {
	certDir := t.TempDir()
	tokenConfig := testutil.WriteTokenFiles(t, certDir, "alpha", time.Now().Add(-time.Hour))
	s, _ := newTestStore(t, filepath.Join(t.TempDir(), "storage"), tokenConfig)

	for _, key := range []string{"bad-key", "a/b", "..", "", "with space", "nul\x00byte"} {
		t.Run("rejects "+key, func(t *testing.T) {
			assert.ErrorIs(t, s.Put(key, []byte("v")), apperrors.ErrInvalidInput)
			_, err := s.Get(key)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

func TestStoreTokenRotation(t *testing.T) {
	certDir := t.TempDir()
	storageDir := filepath.Join(t.TempDir(), "storage")
	older := testutil.WriteTokenFiles(t, certDir, "older", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := testutil.WriteTokenFiles(t, certDir, "newer", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	s, catalog := newTestStore(t, storageDir, older, newer)
	backend := cryptoService.NewCMSBackend()

	// Pre-existing ciphertext encrypted to the older token.
	var oldTok *tokenDomain.Token
	for _, tok := range catalog.Tokens() {
		if tok.Name == "older" {
			oldTok = tok
		}
	}
	require.NotNil(t, oldTok)

	legacy, err := backend.Encrypt([]byte("legacy value"), oldTok)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(storageDir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(storageDir, "legacy"), legacy, 0o600))

	t.Run("new writes encrypt to the newest token", func(t *testing.T) {
		require.NoError(t, s.Put("fresh", []byte("fresh value")))

		blob, err := os.ReadFile(filepath.Join(storageDir, "fresh"))
		require.NoError(t, err)
		recipients, err := backend.RecipientInfos(blob)
		require.NoError(t, err)
		require.Len(t, recipients, 1)

		match := catalog.SelectForDecrypt(recipients)
		require.NotNil(t, match)
		assert.Equal(t, "newer", match.Name)
	})

	t.Run("old ciphertext routes to the older token", func(t *testing.T) {
		recipients, err := backend.RecipientInfos(legacy)
		require.NoError(t, err)
		match := catalog.SelectForDecrypt(recipients)
		require.NotNil(t, match)
		assert.Equal(t, "older", match.Name)

		got, err := s.Get("legacy")
		require.NoError(t, err)
		assert.Equal(t, []byte("legacy value"), got)
	})
}

// recipientBlindBackend wraps a backend whose recipient parsing always fails,
// forcing the brute-force path.
type recipientBlindBackend struct {
	cryptoService.Backend
}

func (b recipientBlindBackend) RecipientInfos(blob []byte) ([]tokenDomain.Recipient, error) {
	return nil, errors.New("unparseable recipient info")
}

func TestStoreBruteForceFallback(t *testing.T) {
	certDir := t.TempDir()
	storageDir := filepath.Join(t.TempDir(), "storage")
	tokenConfig := testutil.WriteTokenFiles(t, certDir, "alpha", time.Now().Add(-time.Hour))

	catalog := tokenService.NewCatalog([]config.TokenConfig{tokenConfig}, testutil.DiscardLogger())
	require.NoError(t, catalog.Load())

	blind := recipientBlindBackend{Backend: cryptoService.NewCMSBackend()}
	s := New(storageDir, 0o077, blind, catalog, testutil.DiscardLogger())

	require.NoError(t, s.Put("fallback", []byte("still readable")))
	got, err := s.Get("fallback")
	require.NoError(t, err)
	assert.Equal(t, []byte("still readable"), got)
}

func TestStoreNoTokenCanDecrypt(t *testing.T) {
	certDir := t.TempDir()
	storageDir := filepath.Join(t.TempDir(), "storage")
	alpha := testutil.WriteTokenFiles(t, certDir, "alpha", time.Now().Add(-time.Hour))
	stranger := testutil.WriteTokenFiles(t, certDir, "stranger", time.Now().Add(-time.Hour))

	// Encrypt with a token the serving catalogue does not hold.
	writer, _ := newTestStore(t, storageDir, stranger)
	require.NoError(t, writer.Put("foreign", []byte("unreachable")))

	reader, _ := newTestStore(t, storageDir, alpha)
	_, err := reader.Get("foreign")
	assert.ErrorIs(t, err, apperrors.ErrStore)
}
