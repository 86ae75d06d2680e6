package service

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/mrscotty/keynanny/internal/errors"
	"github.com/mrscotty/keynanny/internal/testutil"
	tokenService "github.com/mrscotty/keynanny/internal/token/service"
)

func TestCMSBackend(t *testing.T) {
	backend := NewCMSBackend()
	dir := t.TempDir()

	token, err := tokenService.LoadToken(
		testutil.WriteTokenFiles(t, dir, "recipient", time.Now().Add(-time.Hour)))
	require.NoError(t, err)
	other, err := tokenService.LoadToken(
		testutil.WriteTokenFiles(t, dir, "other", time.Now().Add(-time.Hour)))
	require.NoError(t, err)

	plaintext := []byte("value with \r\n line endings and \x00 NUL")

	t.Run("round trip", func(t *testing.T) {
		blob, err := backend.Encrypt(plaintext, token)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(blob, []byte("-----BEGIN")))

		decrypted, err := backend.Decrypt(blob, token)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	})

	t.Run("recipient infos name the recipient", func(t *testing.T) {
		blob, err := backend.Encrypt(plaintext, token)
		require.NoError(t, err)

		recipients, err := backend.RecipientInfos(blob)
		require.NoError(t, err)
		require.Len(t, recipients, 1)
		assert.Equal(t, token.Info.IssuerName, recipients[0].Issuer)
		assert.Equal(t, 0, token.Info.Serial.Cmp(recipients[0].Serial))
	})

	t.Run("wrong token cannot decrypt", func(t *testing.T) {
		blob, err := backend.Encrypt(plaintext, token)
		require.NoError(t, err)

		_, err = backend.Decrypt(blob, other)
		assert.ErrorIs(t, err, apperrors.ErrCrypto)
	})

	t.Run("garbage blob", func(t *testing.T) {
		_, err := backend.Decrypt([]byte("not a pem blob"), token)
		assert.ErrorIs(t, err, apperrors.ErrCrypto)

		_, err = backend.RecipientInfos([]byte("not a pem blob"))
		assert.ErrorIs(t, err, apperrors.ErrCrypto)
	})
}
