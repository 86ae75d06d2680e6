package config

import (
	validation "github.com/jellydator/validation"

	apperrors "github.com/mrscotty/keynanny/internal/errors"
)

// validate checks the assembled configuration for values no component can
// work with. Errors are wrapped as configuration errors.
func (c *Config) validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Namespace, validation.Required),
		validation.Field(&c.CacheStrategy, validation.In("preload", "memcache")),
		validation.Field(&c.CacheCipher, validation.In("aes-gcm", "chacha20-poly1305")),
		validation.Field(&c.LogTarget, validation.In("console", "syslog")),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.MetricsPort, validation.Max(65535)),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrConfig, err.Error())
	}

	// Threshold rules skip zero values, so bounds that must reject zero are
	// checked directly.
	if c.MaxServers < 1 {
		return apperrors.Wrap(apperrors.ErrConfig, "server.max_servers must be at least 1")
	}
	if c.ReadTimeoutSeconds < 1 {
		return apperrors.Wrap(apperrors.ErrConfig, "server.read_timeout must be at least 1")
	}
	if c.CacheStrategy == "memcache" && len(c.MemcacheServers) == 0 {
		return apperrors.Wrap(apperrors.ErrConfig, "memcache.servers required for cache_strategy memcache")
	}

	return nil
}
