package server

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mrscotty/keynanny/internal/cache"
	"github.com/mrscotty/keynanny/internal/client"
	"github.com/mrscotty/keynanny/internal/config"
	cryptoService "github.com/mrscotty/keynanny/internal/crypto/service"
	"github.com/mrscotty/keynanny/internal/metrics"
	"github.com/mrscotty/keynanny/internal/store"
	"github.com/mrscotty/keynanny/internal/testutil"
	tokenService "github.com/mrscotty/keynanny/internal/token/service"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fixture is one running daemon instance over a shared storage directory.
type fixture struct {
	cfg    *config.Config
	cancel context.CancelFunc
	done   chan struct{}
}

// startServer boots a server with its own catalogue and warmed preload cache
// over storageDir, and waits for the socket to accept.
func startServer(t *testing.T, certDir, storageDir string, mutate func(*config.Config)) *fixture {
	t.Helper()

	// Reuse token material across restarts within one test so old
	// ciphertexts stay readable.
	tokenConfig := config.TokenConfig{
		Name:        "alpha",
		Certificate: filepath.Join(certDir, "alpha.crt"),
		Key:         filepath.Join(certDir, "alpha.key"),
	}
	if _, err := os.Stat(tokenConfig.Certificate); err != nil {
		tokenConfig = testutil.WriteTokenFiles(t, certDir, "alpha", time.Now().Add(-time.Hour))
	}
	catalog := tokenService.NewCatalog([]config.TokenConfig{tokenConfig}, testutil.DiscardLogger())
	require.NoError(t, catalog.Load())

	secretStore := store.New(storageDir, 0o077, cryptoService.NewCMSBackend(), catalog, testutil.DiscardLogger())
	preload := cache.NewPreloadCache(secretStore, testutil.DiscardLogger())
	require.NoError(t, preload.Warm())

	cfg := &config.Config{
		Namespace:          "test",
		SocketFile:         filepath.Join(t.TempDir(), "kn.sock"),
		SocketMode:         0o600,
		MaxServers:         4,
		ReadTimeoutSeconds: 5,
		AccessRead:         true,
		AccessWrite:        true,
	}
	cfg.PidFile = cfg.SocketFile + ".pid"
	if mutate != nil {
		mutate(cfg)
	}

	srv := NewServer(cfg, secretStore, preload, metrics.NewNoOpDaemonMetrics(), testutil.DiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Start(ctx)
	}()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("unix", cfg.SocketFile)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 5*time.Second, 10*time.Millisecond)

	f := &fixture{cfg: cfg, cancel: cancel, done: done}
	t.Cleanup(f.stop)
	return f
}

// stop shuts the server down and waits for the accept loop to exit.
func (f *fixture) stop() {
	f.cancel()
	select {
	case <-f.done:
	case <-time.After(5 * time.Second):
	}
}

// raw sends request bytes on a fresh connection and returns everything the
// server wrote back.
func raw(t *testing.T, socketFile string, request []byte) []byte {
	t.Helper()
	conn, err := net.Dial("unix", socketFile)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(request)
	require.NoError(t, err)
	require.NoError(t, conn.(*net.UnixConn).CloseWrite())

	response, err := io.ReadAll(conn)
	require.NoError(t, err)
	return response
}

func TestServerProtocol(t *testing.T) {
	certDir := t.TempDir()
	storageDir := filepath.Join(t.TempDir(), "storage")
	f := startServer(t, certDir, storageDir, nil)
	c := client.New(f.cfg.SocketFile)

	t.Run("set then get round trip", func(t *testing.T) {
		require.NoError(t, c.Set("greeting", []byte("hello")))
		value, ok, err := c.Get("greeting")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("hello"), value)
	})

	t.Run("binary value round trip", func(t *testing.T) {
		blob := make([]byte, 256)
		for i := range blob {
			blob[i] = byte(i)
		}
		require.NoError(t, c.Set("blob", blob))
		value, ok, err := c.Get("blob")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, blob, value)
	})

	t.Run("get miss closes with zero bytes", func(t *testing.T) {
		response := raw(t, f.cfg.SocketFile, []byte("get does_not_exist\r\n"))
		assert.Empty(t, response)
	})

	t.Run("unknown verb", func(t *testing.T) {
		response := raw(t, f.cfg.SocketFile, []byte("delete foo\r\n"))
		assert.Equal(t, "ERROR\r\n", string(response))
	})

	t.Run("malformed key", func(t *testing.T) {
		response := raw(t, f.cfg.SocketFile, []byte("get bad-key\r\n"))
		assert.Equal(t, "CLIENT_ERROR invalid syntax\r\n", string(response))
	})

	t.Run("malformed line", func(t *testing.T) {
		response := raw(t, f.cfg.SocketFile, []byte("just_one_token\r\n"))
		assert.Equal(t, "CLIENT_ERROR invalid syntax\r\n", string(response))
	})

	t.Run("set replies STORED", func(t *testing.T) {
		response := raw(t, f.cfg.SocketFile, []byte("set stored_check\r\npayload"))
		assert.Equal(t, "STORED\r\n", string(response))
	})

	t.Run("bare LF and bare CR terminators accepted", func(t *testing.T) {
		assert.Equal(t, "STORED\r\n", string(raw(t, f.cfg.SocketFile, []byte("set lf_key\nvalue"))))
		assert.Equal(t, "STORED\r\n", string(raw(t, f.cfg.SocketFile, []byte("set cr_key\rvalue"))))
	})

	t.Run("value with CRLF bytes survives", func(t *testing.T) {
		value := []byte("line1\r\nline2\nline3\rend")
		require.NoError(t, c.Set("multiline", value))
		got, ok, err := c.Get("multiline")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, value, got)
	})

	t.Run("socket mode applied", func(t *testing.T) {
		info, err := os.Stat(f.cfg.SocketFile)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("pid file written", func(t *testing.T) {
		_, err := os.Stat(f.cfg.PidFile)
		assert.NoError(t, err)
	})
}

func TestServerDurabilityAcrossRestart(t *testing.T) {
	certDir := t.TempDir()
	storageDir := filepath.Join(t.TempDir(), "storage")

	first := startServer(t, certDir, storageDir, nil)
	require.NoError(t, client.New(first.cfg.SocketFile).Set("persisted", []byte("survives")))
	first.stop()

	// Fresh server, fresh cache, same storage directory and token material.
	second := startServer(t, certDir, storageDir, nil)
	value, ok, err := client.New(second.cfg.SocketFile).Get("persisted")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("survives"), value)
}

func TestServerAccessControl(t *testing.T) {
	t.Run("read disabled", func(t *testing.T) {
		f := startServer(t, t.TempDir(), filepath.Join(t.TempDir(), "storage"), func(cfg *config.Config) {
			cfg.AccessRead = false
		})
		response := raw(t, f.cfg.SocketFile, []byte("get anything\r\n"))
		assert.Equal(t, "CLIENT_ERROR access denied\r\n", string(response))
	})

	t.Run("write disabled", func(t *testing.T) {
		f := startServer(t, t.TempDir(), filepath.Join(t.TempDir(), "storage"), func(cfg *config.Config) {
			cfg.AccessWrite = false
		})
		response := raw(t, f.cfg.SocketFile, []byte("set anything\r\nvalue"))
		assert.Equal(t, "CLIENT_ERROR access denied\r\n", string(response))

		// The denied set must not create a slot.
		missing := raw(t, f.cfg.SocketFile, []byte("get anything\r\n"))
		assert.Empty(t, missing)
	})
}

func TestServerSocketCleanup(t *testing.T) {
	certDir := t.TempDir()
	storageDir := filepath.Join(t.TempDir(), "storage")
	f := startServer(t, certDir, storageDir, nil)
	socketFile := f.cfg.SocketFile

	f.stop()

	_, err := os.Stat(socketFile)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(f.cfg.PidFile)
	assert.True(t, os.IsNotExist(err))
}
