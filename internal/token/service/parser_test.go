package service

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrscotty/keynanny/internal/config"
	apperrors "github.com/mrscotty/keynanny/internal/errors"
	"github.com/mrscotty/keynanny/internal/testutil"
	"github.com/mrscotty/keynanny/internal/token/domain"
)

var colonHexPattern = regexp.MustCompile(`^[0-9A-F]{2}(:[0-9A-F]{2})*$`)

func TestLoadToken(t *testing.T) {
	dir := t.TempDir()
	notBefore := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tokenConfig := testutil.WriteTokenFiles(t, dir, "alpha", notBefore)

	t.Run("loads certificate and key", func(t *testing.T) {
		token, err := LoadToken(tokenConfig)
		require.NoError(t, err)

		assert.Equal(t, "alpha", token.Name)
		assert.NotNil(t, token.Certificate)
		assert.NotNil(t, token.PrivateKey)

		info := token.Info
		assert.Equal(t, 3, info.Version)
		assert.Contains(t, info.SubjectName, "CN=alpha")
		assert.Contains(t, info.SubjectName, "O=KeyNanny Test")
		assert.Equal(t, info.SubjectName, info.IssuerName)
		assert.Equal(t, "20240301120000", info.NotBefore)
		assert.Equal(t, "20250301120000", info.NotAfter)
		assert.NotNil(t, info.Serial)
		assert.GreaterOrEqual(t, info.Serial.Sign(), 0)
		assert.Regexp(t, colonHexPattern, info.SerialNumber)
		assert.Regexp(t, colonHexPattern, info.Fingerprint)
		assert.NotEmpty(t, info.PublicKey)
		assert.NotEmpty(t, info.Certificate)
		assert.Contains(t, info.KeyUsage, "Key Encipherment")
		assert.Equal(t, "CA:FALSE", info.BasicConstraints)
	})

	t.Run("missing certificate file", func(t *testing.T) {
		broken := tokenConfig
		broken.Certificate = filepath.Join(dir, "missing.crt")
		_, err := LoadToken(broken)
		assert.ErrorIs(t, err, apperrors.ErrTokenLoad)
	})

	t.Run("missing key file", func(t *testing.T) {
		broken := tokenConfig
		broken.Key = filepath.Join(dir, "missing.key")
		_, err := LoadToken(broken)
		assert.ErrorIs(t, err, apperrors.ErrTokenLoad)
	})

	t.Run("garbage certificate", func(t *testing.T) {
		garbage := filepath.Join(dir, "garbage.crt")
		require.NoError(t, os.WriteFile(garbage, []byte("not a certificate"), 0o600))
		broken := tokenConfig
		broken.Certificate = garbage
		_, err := LoadToken(broken)
		assert.ErrorIs(t, err, apperrors.ErrTokenLoad)
	})
}

func TestParseCertificatePEM(t *testing.T) {
	t.Run("rejects non-PEM input", func(t *testing.T) {
		_, _, err := ParseCertificatePEM([]byte("plain text"))
		assert.Error(t, err)
	})

	t.Run("fingerprint is stable", func(t *testing.T) {
		dir := t.TempDir()
		tokenConfig := testutil.WriteTokenFiles(t, dir, "stable", time.Now())
		pemBytes, err := os.ReadFile(tokenConfig.Certificate)
		require.NoError(t, err)

		_, first, err := ParseCertificatePEM(pemBytes)
		require.NoError(t, err)
		_, second, err := ParseCertificatePEM(pemBytes)
		require.NoError(t, err)
		assert.Equal(t, first.Fingerprint, second.Fingerprint)
	})
}

func TestCatalog(t *testing.T) {
	dir := t.TempDir()
	older := testutil.WriteTokenFiles(t, dir, "older", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := testutil.WriteTokenFiles(t, dir, "newer", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	t.Run("current is greatest NotBefore", func(t *testing.T) {
		catalog := NewCatalog([]config.TokenConfig{older, newer}, testutil.DiscardLogger())
		require.NoError(t, catalog.Load())

		current, err := catalog.SelectForEncrypt()
		require.NoError(t, err)
		assert.Equal(t, "newer", current.Name)
	})

	t.Run("configured order wins ties", func(t *testing.T) {
		notBefore := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		first := testutil.WriteTokenFiles(t, t.TempDir(), "first", notBefore)
		second := testutil.WriteTokenFiles(t, t.TempDir(), "second", notBefore)

		catalog := NewCatalog([]config.TokenConfig{first, second}, testutil.DiscardLogger())
		require.NoError(t, catalog.Load())

		current, err := catalog.SelectForEncrypt()
		require.NoError(t, err)
		assert.Equal(t, "first", current.Name)
	})

	t.Run("select for decrypt routes by issuer and serial", func(t *testing.T) {
		catalog := NewCatalog([]config.TokenConfig{older, newer}, testutil.DiscardLogger())
		require.NoError(t, catalog.Load())

		olderToken, ok := findByName(catalog, "older")
		require.True(t, ok)

		match := catalog.SelectForDecrypt([]domain.Recipient{
			{Issuer: "CN=unknown", Serial: olderToken.Info.Serial},
			{Issuer: olderToken.Info.IssuerName, Serial: olderToken.Info.Serial},
		})
		require.NotNil(t, match)
		assert.Equal(t, "older", match.Name)
	})

	t.Run("select for decrypt returns nil on no match", func(t *testing.T) {
		catalog := NewCatalog([]config.TokenConfig{older}, testutil.DiscardLogger())
		require.NoError(t, catalog.Load())
		assert.Nil(t, catalog.SelectForDecrypt(nil))
	})

	t.Run("empty catalog cannot encrypt", func(t *testing.T) {
		catalog := NewCatalog(nil, testutil.DiscardLogger())
		assert.Error(t, catalog.Load())
		_, err := catalog.SelectForEncrypt()
		assert.ErrorIs(t, err, apperrors.ErrNoEncryptionToken)
	})

	t.Run("reload keeps previous catalogue on failure", func(t *testing.T) {
		configs := []config.TokenConfig{older}
		catalog := NewCatalog(configs, testutil.DiscardLogger())
		require.NoError(t, catalog.Load())

		// Break the material on disk, then reload.
		require.NoError(t, os.WriteFile(older.Certificate, []byte("broken"), 0o600))
		assert.Error(t, catalog.Reload())

		current, err := catalog.SelectForEncrypt()
		require.NoError(t, err)
		assert.Equal(t, "older", current.Name)

		// Restore for sibling subtests.
		older = testutil.WriteTokenFiles(t, dir, "older", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	})

	t.Run("fingerprint index", func(t *testing.T) {
		catalog := NewCatalog([]config.TokenConfig{newer}, testutil.DiscardLogger())
		require.NoError(t, catalog.Load())

		tokens := catalog.Tokens()
		require.Len(t, tokens, 1)
		found, ok := catalog.ByFingerprint(tokens[0].Info.Fingerprint)
		require.True(t, ok)
		assert.Equal(t, tokens[0].Name, found.Name)
	})
}

// findByName locates a catalogue token for test assertions.
func findByName(catalog *Catalog, name string) (tok *domain.Token, ok bool) {
	for _, token := range catalog.Tokens() {
		if token.Name == name {
			return token, true
		}
	}
	return nil, false
}
