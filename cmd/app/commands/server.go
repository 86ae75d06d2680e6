// Package commands implements the CLI command actions.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mrscotty/keynanny/internal/app"
	"github.com/mrscotty/keynanny/internal/config"
)

// shutdownTimeout bounds graceful teardown of the servers.
const shutdownTimeout = 15 * time.Second

// RunServer starts the daemon. It blocks until SIGINT/SIGTERM or a fatal
// server error; SIGHUP reloads the token catalogue without dropping the
// socket.
func RunServer(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.LogLevel = "debug"
	}

	container := app.NewContainer(cfg)
	logger := container.Logger()
	logger.Info("starting daemon", slog.String("namespace", cfg.Namespace))

	defer closeContainer(container, logger)

	socketServer, err := container.SocketServer()
	if err != nil {
		return fmt.Errorf("failed to initialize request server: %w", err)
	}
	metricsServer, err := container.MetricsServer()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics server: %w", err)
	}
	catalog, err := container.Catalog()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	defer signal.Stop(reload)
	go func() {
		for range reload {
			logger.Info("reload signal received")
			if err := catalog.Reload(); err == nil {
				logger.Info("token catalogue reloaded")
			}
		}
	}()

	serverErr := make(chan error, 2)
	go func() {
		if err := socketServer.Start(ctx); err != nil {
			serverErr <- fmt.Errorf("request server error: %w", err)
		}
	}()
	if metricsServer != nil {
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				serverErr <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		return shutdownServers(container, nil)
	case err := <-serverErr:
		logger.Error("server error, initiating shutdown", slog.Any("error", err))
		cancel()
		return shutdownServers(container, err)
	}
}

// shutdownServers tears down the metrics server with a bounded context and
// joins any startup error.
func shutdownServers(container *app.Container, cause error) error {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	var shutdownErrors []error
	if cause != nil {
		shutdownErrors = append(shutdownErrors, cause)
	}

	if metricsServer, err := container.MetricsServer(); err == nil && metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	if len(shutdownErrors) > 0 {
		return errors.Join(shutdownErrors...)
	}
	return nil
}

// closeContainer releases container resources, logging failures.
func closeContainer(container *app.Container, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := container.Shutdown(ctx); err != nil {
		logger.Error("container shutdown failed", slog.Any("error", err))
	}
}
