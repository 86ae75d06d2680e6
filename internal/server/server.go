// Package server implements the request server: a worker pool accepting
// one-shot transactions on a Unix-domain socket. Each accepted connection
// carries exactly one command; the worker reads the line, dispatches, writes
// the response, and closes.
package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mrscotty/keynanny/internal/cache"
	"github.com/mrscotty/keynanny/internal/config"
	apperrors "github.com/mrscotty/keynanny/internal/errors"
	"github.com/mrscotty/keynanny/internal/metrics"
	"github.com/mrscotty/keynanny/internal/store"
)

// Server is the Unix-socket request server.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	cache   cache.Cache
	metrics metrics.DaemonMetrics
	logger  *slog.Logger

	listener *net.UnixListener
	limiter  *rate.Limiter
	slots    chan struct{}
}

// NewServer assembles the request server. Nothing is bound until Start.
func NewServer(
	cfg *config.Config,
	secretStore *store.Store,
	secretCache cache.Cache,
	daemonMetrics metrics.DaemonMetrics,
	logger *slog.Logger,
) *Server {
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Server{
		cfg:     cfg,
		store:   secretStore,
		cache:   secretCache,
		metrics: daemonMetrics,
		logger:  logger,
		limiter: limiter,
		slots:   make(chan struct{}, cfg.MaxServers),
	}
}

// Start binds the socket, applies the configured mode, writes the pid file,
// and serves until ctx is cancelled. It blocks.
func (s *Server) Start(ctx context.Context) error {
	if err := s.bind(); err != nil {
		return err
	}
	defer s.cleanup()

	if err := s.writePidFile(); err != nil {
		return err
	}

	s.logger.Info("request server listening",
		slog.String("socket", s.cfg.SocketFile),
		slog.Int("max_servers", s.cfg.MaxServers),
	)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-ctx.Done()
		return s.listener.Close()
	})

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Warn("accept failed", slog.Any("error", err))
			continue
		}

		if s.limiter != nil && !s.limiter.Allow() {
			conn.Close()
			continue
		}

		s.slots <- struct{}{}
		group.Go(func() error {
			defer func() { <-s.slots }()
			s.handleConn(ctx, conn)
			return nil
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	s.logger.Info("request server stopped")
	return nil
}

// bind removes a stale socket file and listens on a fresh one with the
// configured mode.
func (s *Server) bind() error {
	if _, err := os.Stat(s.cfg.SocketFile); err == nil {
		if err := os.Remove(s.cfg.SocketFile); err != nil {
			return apperrors.Wrapf(apperrors.ErrConfig, "remove stale socket: %v", err)
		}
	}

	addr, err := net.ResolveUnixAddr("unix", s.cfg.SocketFile)
	if err != nil {
		return apperrors.Wrapf(apperrors.ErrConfig, "socket address: %v", err)
	}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return apperrors.Wrapf(apperrors.ErrConfig, "bind %s: %v", s.cfg.SocketFile, err)
	}

	if err := os.Chmod(s.cfg.SocketFile, s.cfg.SocketMode); err != nil {
		listener.Close()
		return apperrors.Wrapf(apperrors.ErrConfig, "chmod socket: %v", err)
	}

	s.listener = listener
	return nil
}

// writePidFile records the daemon pid next to the socket.
func (s *Server) writePidFile() error {
	pid := strconv.Itoa(os.Getpid()) + "\n"
	if err := os.WriteFile(s.cfg.PidFile, []byte(pid), 0o644); err != nil {
		return apperrors.Wrapf(apperrors.ErrConfig, "write pid file: %v", err)
	}
	return nil
}

// cleanup removes the socket and pid file after the listener is closed.
func (s *Server) cleanup() {
	os.Remove(s.cfg.SocketFile)
	os.Remove(s.cfg.PidFile)
}

// handleConn runs one request transaction: read line, dispatch, respond,
// close.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	connID := uuid.Must(uuid.NewV7()).String()
	deadline := time.Duration(s.cfg.ReadTimeoutSeconds) * time.Second
	_ = conn.SetReadDeadline(time.Now().Add(deadline))

	reader := bufio.NewReader(conn)
	line, err := readCommandLine(reader)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.reply(conn, respInvalidSyntax)
		}
		return
	}

	req, err := parseRequestLine(line)
	if err != nil {
		s.logger.Warn("malformed request line", slog.String("conn", connID))
		s.reply(conn, respInvalidSyntax)
		return
	}

	started := time.Now()
	status := "success"
	switch req.verb {
	case "get":
		status = s.handleGet(ctx, conn, connID, req.key)
	case "set":
		status = s.handleSet(ctx, conn, connID, req.key, reader)
	default:
		s.logger.Warn("unknown verb",
			slog.String("conn", connID),
			slog.String("verb", req.verb),
		)
		s.reply(conn, respError)
		return
	}

	s.metrics.RecordOperation(ctx, req.verb, status)
	s.metrics.RecordDuration(ctx, req.verb, time.Since(started), status)
}

// handleGet serves one get transaction. A miss closes the connection with
// zero bytes written.
func (s *Server) handleGet(ctx context.Context, conn net.Conn, connID, key string) string {
	if !s.cfg.AccessRead {
		s.reply(conn, respAccessDenied)
		return "denied"
	}

	if value, ok := s.cache.Get(key); ok {
		s.metrics.RecordCacheLookup(ctx, "hit")
		s.replyBytes(conn, value)
		return "success"
	}
	s.metrics.RecordCacheLookup(ctx, "miss")

	value, err := s.store.Get(key)
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrNotFound) {
			s.logger.Error("get failed",
				slog.String("conn", connID),
				slog.String("key", key),
				slog.Any("error", err),
			)
			return "error"
		}
		return "miss"
	}

	s.cache.Put(key, value)
	s.replyBytes(conn, value)
	return "success"
}

// handleSet consumes the rest of the connection as the opaque value and
// persists it.
func (s *Server) handleSet(
	ctx context.Context,
	conn net.Conn,
	connID, key string,
	reader *bufio.Reader,
) string {
	if !s.cfg.AccessWrite {
		s.reply(conn, respAccessDenied)
		return "denied"
	}

	value, err := io.ReadAll(reader)
	if err != nil {
		// The client went away mid-transfer; store nothing.
		s.logger.Warn("set aborted by client",
			slog.String("conn", connID),
			slog.String("key", key),
			slog.Any("error", err),
		)
		return "aborted"
	}

	if err := s.store.Put(key, value); err != nil {
		s.logger.Error("set failed",
			slog.String("conn", connID),
			slog.String("key", key),
			slog.Any("error", err),
		)
		s.reply(conn, respNotStored)
		return "error"
	}

	s.cache.Put(key, value)
	s.reply(conn, respStored)
	return "success"
}

// reply writes a protocol status line.
func (s *Server) reply(conn net.Conn, response string) {
	s.replyBytes(conn, []byte(response))
}

// replyBytes writes raw response bytes, logging short writes.
func (s *Server) replyBytes(conn net.Conn, response []byte) {
	_ = conn.SetWriteDeadline(time.Now().Add(time.Duration(s.cfg.ReadTimeoutSeconds) * time.Second))
	if _, err := conn.Write(response); err != nil {
		s.logger.Warn("write failed", slog.Any("error", err))
	}
}

// SocketPath returns the bound socket path, for the client helpers.
func (s *Server) SocketPath() string {
	return s.cfg.SocketFile
}
