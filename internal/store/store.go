// Package store implements the persistent encrypted store: one file per
// secret under the storage directory, each holding a PEM CMS envelope for the
// token that was current at write time.
package store

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	cryptoService "github.com/mrscotty/keynanny/internal/crypto/service"
	apperrors "github.com/mrscotty/keynanny/internal/errors"
	tokenDomain "github.com/mrscotty/keynanny/internal/token/domain"
	tokenService "github.com/mrscotty/keynanny/internal/token/service"
)

// keyPattern is the only shape of key this layer accepts. The protocol
// parser filters first, but the store revalidates so no other caller can
// smuggle a path through.
var keyPattern = regexp.MustCompile(`^\w+$`)

// Store is the file-backed secret store. Writes encrypt to the catalogue's
// current token and land via temp-file-plus-rename, so a concurrent reader
// observes either the old or the new envelope, never a torn one.
type Store struct {
	dir     string
	umask   fs.FileMode
	backend cryptoService.Backend
	catalog *tokenService.Catalog
	logger  *slog.Logger
}

// New creates a store rooted at dir. The directory is created lazily on the
// first write.
func New(
	dir string,
	umask fs.FileMode,
	backend cryptoService.Backend,
	catalog *tokenService.Catalog,
	logger *slog.Logger,
) *Store {
	return &Store{
		dir:     dir,
		umask:   umask,
		backend: backend,
		catalog: catalog,
		logger:  logger,
	}
}

// ValidateKey reports whether key is a storable secret name.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) ||
		strings.ContainsAny(key, "/\x00") || strings.Contains(key, "..") {
		return apperrors.Wrapf(apperrors.ErrInvalidInput, "invalid key %q", key)
	}
	return nil
}

// Exists reports whether a readable slot named key is present.
func (s *Store) Exists(key string) bool {
	if err := ValidateKey(key); err != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(s.dir, key))
	return err == nil && info.Mode().IsRegular()
}

// Put envelope-encrypts value to the current token and atomically replaces
// the slot file.
func (s *Store) Put(key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	token, err := s.catalog.SelectForEncrypt()
	if err != nil {
		return err
	}

	blob, err := s.backend.Encrypt(value, token)
	if err != nil {
		return apperrors.Wrapf(apperrors.ErrStore, "encrypt %s: %v", key, err)
	}

	dirMode := fs.FileMode(0o777) &^ s.umask
	if err := os.MkdirAll(s.dir, dirMode); err != nil {
		return apperrors.Wrapf(apperrors.ErrStore, "create storage dir: %v", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+key+".tmp")
	if err != nil {
		return apperrors.Wrapf(apperrors.ErrStore, "create temp for %s: %v", key, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	fileMode := fs.FileMode(0o666) &^ s.umask
	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		return apperrors.Wrapf(apperrors.ErrStore, "chmod temp for %s: %v", key, err)
	}
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return apperrors.Wrapf(apperrors.ErrStore, "write %s: %v", key, err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.Wrapf(apperrors.ErrStore, "close temp for %s: %v", key, err)
	}

	if err := os.Rename(tmpName, filepath.Join(s.dir, key)); err != nil {
		return apperrors.Wrapf(apperrors.ErrStore, "replace %s: %v", key, err)
	}
	return nil
}

// Get reads and decrypts the slot named key. Recipient info routes the
// envelope to the right token; when routing fails or the routed token cannot
// open it, every catalogued token is tried in order.
func (s *Store) Get(key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	blob, err := os.ReadFile(filepath.Join(s.dir, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.Wrapf(apperrors.ErrNotFound, "secret %s", key)
		}
		return nil, apperrors.Wrapf(apperrors.ErrStore, "read %s: %v", key, err)
	}

	if token := s.routeRecipient(key, blob); token != nil {
		plaintext, err := s.backend.Decrypt(blob, token)
		if err == nil {
			return plaintext, nil
		}
		s.logger.Warn("routed token failed to decrypt, trying all tokens",
			slog.String("key", key),
			slog.String("token", token.Name),
			slog.Any("error", err),
		)
	}

	for _, token := range s.catalog.Tokens() {
		plaintext, err := s.backend.Decrypt(blob, token)
		if err == nil {
			s.logger.Warn("decrypted by brute-force token enumeration",
				slog.String("key", key),
				slog.String("token", token.Name),
			)
			return plaintext, nil
		}
	}
	return nil, apperrors.Wrapf(apperrors.ErrStore, "no configured token can decrypt %s", key)
}

// Keys lists the slots currently present in the storage directory.
func (s *Store) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.Wrapf(apperrors.ErrStore, "scan storage dir: %v", err)
	}

	var keys []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if keyPattern.MatchString(entry.Name()) {
			keys = append(keys, entry.Name())
		}
	}
	return keys, nil
}

// routeRecipient maps the envelope's recipient infos onto the catalogue.
// Returns nil when parsing fails or nothing matches; callers fall back to
// enumeration.
func (s *Store) routeRecipient(key string, blob []byte) *tokenDomain.Token {
	recipients, err := s.backend.RecipientInfos(blob)
	if err != nil {
		s.logger.Warn("cannot parse recipient info",
			slog.String("key", key),
			slog.Any("error", err),
		)
		return nil
	}
	return s.catalog.SelectForDecrypt(recipients)
}
