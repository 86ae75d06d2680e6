// Package app provides the dependency injection container assembling the
// daemon's components.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"log/syslog"
	"os"
	"sync"

	"github.com/mrscotty/keynanny/internal/cache"
	"github.com/mrscotty/keynanny/internal/config"
	cryptoDomain "github.com/mrscotty/keynanny/internal/crypto/domain"
	cryptoService "github.com/mrscotty/keynanny/internal/crypto/service"
	apphttp "github.com/mrscotty/keynanny/internal/http"
	"github.com/mrscotty/keynanny/internal/metrics"
	"github.com/mrscotty/keynanny/internal/server"
	"github.com/mrscotty/keynanny/internal/store"
	tokenService "github.com/mrscotty/keynanny/internal/token/service"
)

// Container holds all daemon dependencies and provides methods to access
// them. Components are created lazily on first access.
type Container struct {
	config *config.Config

	logger        *slog.Logger
	instanceKey   *cryptoDomain.InstanceKey
	catalog       *tokenService.Catalog
	backend       cryptoService.Backend
	secretStore   *store.Store
	secretCache   cache.Cache
	provider      *metrics.Provider
	daemonMetrics metrics.DaemonMetrics
	metricsServer *apphttp.MetricsServer
	socketServer  *server.Server

	mu                sync.Mutex
	loggerInit        sync.Once
	instanceKeyInit   sync.Once
	catalogInit       sync.Once
	backendInit       sync.Once
	storeInit         sync.Once
	cacheInit         sync.Once
	providerInit      sync.Once
	metricsInit       sync.Once
	metricsServerInit sync.Once
	socketServerInit  sync.Once
	initErrors        map[string]error
}

// NewContainer creates a new dependency injection container with the provided
// configuration.
func NewContainer(cfg *config.Config) *Container {
	return &Container{
		config:     cfg,
		initErrors: make(map[string]error),
	}
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the configured logger instance.
func (c *Container) Logger() *slog.Logger {
	c.loggerInit.Do(func() {
		c.logger = c.initLogger()
	})
	return c.logger
}

// InstanceKey returns the per-process cache sealing key.
func (c *Container) InstanceKey() (*cryptoDomain.InstanceKey, error) {
	c.instanceKeyInit.Do(func() {
		key, err := cryptoDomain.NewInstanceKey()
		if err != nil {
			c.initErrors["instanceKey"] = err
			return
		}
		c.instanceKey = key
	})
	if err, exists := c.initErrors["instanceKey"]; exists {
		return nil, err
	}
	return c.instanceKey, nil
}

// Catalog returns the loaded token catalogue.
func (c *Container) Catalog() (*tokenService.Catalog, error) {
	c.catalogInit.Do(func() {
		catalog := tokenService.NewCatalog(c.config.Tokens, c.Logger())
		if err := catalog.Load(); err != nil {
			c.initErrors["catalog"] = err
			return
		}
		c.catalog = catalog
	})
	if err, exists := c.initErrors["catalog"]; exists {
		return nil, err
	}
	return c.catalog, nil
}

// Backend returns the envelope crypto backend: the native CMS library by
// default, or the openssl subprocess when crypto.openssl is configured.
func (c *Container) Backend() cryptoService.Backend {
	c.backendInit.Do(func() {
		if c.config.CryptoOpenSSL != "" {
			c.backend = cryptoService.NewOpenSSLBackend(c.config.CryptoOpenSSL)
			return
		}
		c.backend = cryptoService.NewCMSBackend()
	})
	return c.backend
}

// Store returns the persistent encrypted store.
func (c *Container) Store() (*store.Store, error) {
	var err error
	c.storeInit.Do(func() {
		var catalog *tokenService.Catalog
		catalog, err = c.Catalog()
		if err != nil {
			c.initErrors["store"] = err
			return
		}
		c.secretStore = store.New(
			c.config.StorageDir,
			c.config.StorageUmask,
			c.Backend(),
			catalog,
			c.Logger(),
		)
	})
	if storedErr, exists := c.initErrors["store"]; exists {
		return nil, storedErr
	}
	return c.secretStore, nil
}

// Cache returns the configured cache strategy, warmed when preloading.
func (c *Container) Cache() (cache.Cache, error) {
	c.cacheInit.Do(func() {
		secretStore, err := c.Store()
		if err != nil {
			c.initErrors["cache"] = err
			return
		}

		switch c.config.CacheStrategy {
		case "memcache":
			sealer, err := c.initSealer()
			if err != nil {
				c.initErrors["cache"] = err
				return
			}
			c.secretCache = cache.NewMemcacheCache(
				c.config.Namespace,
				c.config.MemcacheServers,
				sealer,
				c.Logger(),
			)
		default:
			preload := cache.NewPreloadCache(secretStore, c.Logger())
			if err := preload.Warm(); err != nil {
				c.initErrors["cache"] = err
				return
			}
			c.secretCache = preload
		}
	})
	if err, exists := c.initErrors["cache"]; exists {
		return nil, err
	}
	return c.secretCache, nil
}

// MetricsProvider returns the Prometheus-backed metrics provider, or nil when
// metrics are disabled.
func (c *Container) MetricsProvider() (*metrics.Provider, error) {
	c.providerInit.Do(func() {
		if !c.config.MetricsEnabled {
			return
		}
		provider, err := metrics.NewProvider()
		if err != nil {
			c.initErrors["metricsProvider"] = err
			return
		}
		c.provider = provider
	})
	if err, exists := c.initErrors["metricsProvider"]; exists {
		return nil, err
	}
	return c.provider, nil
}

// DaemonMetrics returns the operation metrics recorder; a no-op
// implementation when metrics are disabled.
func (c *Container) DaemonMetrics() (metrics.DaemonMetrics, error) {
	c.metricsInit.Do(func() {
		provider, err := c.MetricsProvider()
		if err != nil {
			c.initErrors["daemonMetrics"] = err
			return
		}
		if provider == nil {
			c.daemonMetrics = metrics.NewNoOpDaemonMetrics()
			return
		}
		recorder, err := metrics.NewDaemonMetrics(provider.MeterProvider(), c.config.Namespace)
		if err != nil {
			c.initErrors["daemonMetrics"] = err
			return
		}
		c.daemonMetrics = recorder
	})
	if err, exists := c.initErrors["daemonMetrics"]; exists {
		return nil, err
	}
	return c.daemonMetrics, nil
}

// MetricsServer returns the metrics HTTP server, or nil when metrics are
// disabled.
func (c *Container) MetricsServer() (*apphttp.MetricsServer, error) {
	c.metricsServerInit.Do(func() {
		provider, err := c.MetricsProvider()
		if err != nil {
			c.initErrors["metricsServer"] = err
			return
		}
		if provider == nil {
			return
		}
		c.metricsServer = apphttp.NewMetricsServer(c.config.MetricsPort, c.Logger(), provider)
	})
	if err, exists := c.initErrors["metricsServer"]; exists {
		return nil, err
	}
	return c.metricsServer, nil
}

// SocketServer returns the Unix-socket request server with all its
// dependencies initialized.
func (c *Container) SocketServer() (*server.Server, error) {
	c.socketServerInit.Do(func() {
		secretStore, err := c.Store()
		if err != nil {
			c.initErrors["socketServer"] = err
			return
		}
		secretCache, err := c.Cache()
		if err != nil {
			c.initErrors["socketServer"] = err
			return
		}
		daemonMetrics, err := c.DaemonMetrics()
		if err != nil {
			c.initErrors["socketServer"] = err
			return
		}
		c.socketServer = server.NewServer(
			c.config,
			secretStore,
			secretCache,
			daemonMetrics,
			c.Logger(),
		)
	})
	if err, exists := c.initErrors["socketServer"]; exists {
		return nil, err
	}
	return c.socketServer, nil
}

// Shutdown performs cleanup of all initialized resources, zeroing the
// instance key last.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var shutdownErrors []error

	if c.metricsServer != nil {
		if err := c.metricsServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}
	if c.provider != nil {
		if err := c.provider.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics provider shutdown: %w", err))
		}
	}
	if c.instanceKey != nil {
		c.instanceKey.Close()
	}

	if len(shutdownErrors) > 0 {
		return fmt.Errorf("shutdown errors: %v", shutdownErrors)
	}
	return nil
}

// initSealer builds the shared-cache sealer over the instance key.
func (c *Container) initSealer() (*cache.Sealer, error) {
	key, err := c.InstanceKey()
	if err != nil {
		return nil, err
	}
	aead, err := cryptoService.NewAEADManager().CreateCipher(
		key.Bytes(),
		cryptoDomain.Algorithm(c.config.CacheCipher),
	)
	if err != nil {
		return nil, err
	}
	return cache.NewSealer(aead), nil
}

// initLogger creates the structured logger for the configured target and
// level.
func (c *Container) initLogger() *slog.Logger {
	var level slog.Level
	switch c.config.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	options := &slog.HandlerOptions{Level: level}

	if c.config.LogTarget == "syslog" {
		writer, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, c.config.Namespace)
		if err == nil {
			return slog.New(slog.NewTextHandler(writer, options))
		}
		fmt.Fprintf(os.Stderr, "syslog unavailable, logging to stdout: %v\n", err)
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, options))
}
