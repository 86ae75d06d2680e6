package service

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/mrscotty/keynanny/internal/config"
	apperrors "github.com/mrscotty/keynanny/internal/errors"
	"github.com/mrscotty/keynanny/internal/token/domain"
)

// Catalog is the in-memory catalogue of recipient tokens. It owns two
// indexes, fingerprint (primary handle) and issuer+serial (CMS recipient
// routing), and tracks the current token used for new encryptions.
//
// Reload builds a complete replacement index set before swapping, so a failed
// reload never leaves the catalogue partially populated.
type Catalog struct {
	configs []config.TokenConfig
	logger  *slog.Logger

	mu             sync.RWMutex
	tokens         []*domain.Token
	byFingerprint  map[string]*domain.Token
	byIssuerSerial map[string]*domain.Token
	current        *domain.Token
}

// NewCatalog creates an empty catalogue for the configured token sections.
// Call Load before first use.
func NewCatalog(configs []config.TokenConfig, logger *slog.Logger) *Catalog {
	return &Catalog{
		configs: configs,
		logger:  logger,
	}
}

// Load parses every configured token and swaps in the rebuilt indexes.
// On error the previous catalogue state is retained.
func (c *Catalog) Load() error {
	if len(c.configs) == 0 {
		return apperrors.Wrap(apperrors.ErrConfig, "no token sections configured")
	}

	tokens := make([]*domain.Token, 0, len(c.configs))
	byFingerprint := make(map[string]*domain.Token, len(c.configs))
	byIssuerSerial := make(map[string]*domain.Token, len(c.configs))
	var current *domain.Token

	for _, tokenConfig := range c.configs {
		token, err := LoadToken(tokenConfig)
		if err != nil {
			return err
		}
		if _, dup := byFingerprint[token.Info.Fingerprint]; dup {
			return apperrors.Wrapf(apperrors.ErrTokenLoad,
				"token %s: duplicate certificate fingerprint %s", token.Name, token.Info.Fingerprint)
		}
		tokens = append(tokens, token)
		byFingerprint[token.Info.Fingerprint] = token
		byIssuerSerial[issuerSerialKey(token.Info.IssuerName, token.Info.Serial)] = token

		// 14-digit timestamps compare lexicographically; strict greater-than
		// keeps the first configured token on ties.
		if current == nil || token.Info.NotBefore > current.Info.NotBefore {
			current = token
		}
	}

	c.mu.Lock()
	c.tokens = tokens
	c.byFingerprint = byFingerprint
	c.byIssuerSerial = byIssuerSerial
	c.current = current
	c.mu.Unlock()

	c.logger.Info("token catalogue loaded",
		slog.Int("tokens", len(tokens)),
		slog.String("current", current.Name),
		slog.String("current_not_before", current.Info.NotBefore),
	)
	return nil
}

// Reload rebuilds the catalogue from the configured sections. A failure is
// logged and the previous catalogue keeps serving.
func (c *Catalog) Reload() error {
	if err := c.Load(); err != nil {
		c.logger.Error("token catalogue reload failed, keeping previous catalogue",
			slog.Any("error", err))
		return err
	}
	return nil
}

// SelectForEncrypt returns the current token for new encryptions.
func (c *Catalog) SelectForEncrypt() (*domain.Token, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return nil, apperrors.ErrNoEncryptionToken
	}
	return c.current, nil
}

// SelectForDecrypt walks the recipient list in order and returns the first
// token found in the issuer+serial index, or nil when none match.
func (c *Catalog) SelectForDecrypt(recipients []domain.Recipient) *domain.Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, recipient := range recipients {
		if recipient.Serial == nil {
			continue
		}
		if token, ok := c.byIssuerSerial[issuerSerialKey(recipient.Issuer, recipient.Serial)]; ok {
			return token
		}
	}
	return nil
}

// ByFingerprint returns the token with the given fingerprint.
func (c *Catalog) ByFingerprint(fingerprint string) (*domain.Token, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	token, ok := c.byFingerprint[fingerprint]
	return token, ok
}

// Tokens returns the catalogue in configured order, for brute-force
// decryption fallback.
func (c *Catalog) Tokens() []*domain.Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*domain.Token, len(c.tokens))
	copy(out, c.tokens)
	return out
}

// issuerSerialKey builds the issuer+serial index key.
func issuerSerialKey(issuer string, serial *big.Int) string {
	return fmt.Sprintf("%s|%s", issuer, serial.String())
}
