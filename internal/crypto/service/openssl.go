package service

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"time"

	apperrors "github.com/mrscotty/keynanny/internal/errors"
	tokenDomain "github.com/mrscotty/keynanny/internal/token/domain"
)

// opensslTimeout bounds one subprocess invocation.
const opensslTimeout = 30 * time.Second

// passphraseEnv carries a key passphrase to the subprocess without exposing
// it in argv.
const passphraseEnv = "KEYNANNY_PASSIN"

// OpenSSLBackend shells out to an external openssl binary for envelope
// operations. It exists as a fallback for deployments that mandate a specific
// crypto provider; the native CMSBackend is the default. Plaintext and blobs
// travel over stdin/stdout, never through argv or temp files.
type OpenSSLBackend struct {
	binary string
}

// NewOpenSSLBackend creates a subprocess backend using the given binary path.
func NewOpenSSLBackend(binary string) *OpenSSLBackend {
	return &OpenSSLBackend{binary: binary}
}

// Encrypt envelope-encrypts plaintext to the recipient token's certificate
// and returns a PEM blob. The certificate is passed by file path, so this
// backend requires the token material to stay on disk.
func (b *OpenSSLBackend) Encrypt(plaintext []byte, recipient *tokenDomain.Token) ([]byte, error) {
	return b.run(plaintext, nil,
		"cms", "-encrypt", "-binary", "-aes256", "-outform", "PEM", recipient.CertificatePath)
}

// Decrypt opens a PEM envelope blob with the token's certificate and key
// files. A configured passphrase travels via the environment.
func (b *OpenSSLBackend) Decrypt(blob []byte, token *tokenDomain.Token) ([]byte, error) {
	args := []string{
		"cms", "-decrypt", "-inform", "PEM",
		"-recip", token.CertificatePath,
		"-inkey", token.KeyPath,
	}
	var env []string
	if token.Passphrase != "" {
		args = append(args, "-passin", "env:"+passphraseEnv)
		env = append(os.Environ(), passphraseEnv+"="+token.Passphrase)
	}
	return b.run(blob, env, args...)
}

// RecipientInfos enumerates the recipients of a PEM envelope blob. The
// envelope structure is parsed natively; no subprocess is needed.
func (b *OpenSSLBackend) RecipientInfos(blob []byte) ([]tokenDomain.Recipient, error) {
	der, err := decodeEnvelopePEM(blob)
	if err != nil {
		return nil, err
	}
	return parseRecipientInfos(der)
}

// run executes one openssl invocation with input on stdin. A non-zero exit
// or empty output is a crypto error.
func (b *OpenSSLBackend) run(input []byte, env []string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opensslTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.binary, args...)
	cmd.Stdin = bytes.NewReader(input)
	if env != nil {
		cmd.Env = env
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrCrypto,
			"openssl %s: %v: %s", args[0], err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, apperrors.Wrapf(apperrors.ErrCrypto, "openssl %s produced no output", args[0])
	}
	return stdout.Bytes(), nil
}
