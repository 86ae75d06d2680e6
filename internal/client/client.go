// Package client speaks the daemon's socket protocol. It backs the CLI
// get/set/template commands and the integration tests.
package client

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	apperrors "github.com/mrscotty/keynanny/internal/errors"
)

// dialTimeout bounds connecting to the daemon socket.
const dialTimeout = 10 * time.Second

// Client is a one-shot-per-call protocol client.
type Client struct {
	socketPath string
}

// New creates a client for the daemon socket at socketPath.
func New(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Get fetches the plaintext for key. The second return is false when the key
// does not exist (the daemon closes without writing).
func (c *Client) Get(key string) ([]byte, bool, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, false, err
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "get %s\r\n", key); err != nil {
		return nil, false, fmt.Errorf("send request: %w", err)
	}
	if err := conn.CloseWrite(); err != nil {
		return nil, false, fmt.Errorf("close write side: %w", err)
	}

	response, err := io.ReadAll(conn)
	if err != nil {
		return nil, false, fmt.Errorf("read response: %w", err)
	}
	if len(response) == 0 {
		return nil, false, nil
	}
	if err := statusError(response); err != nil {
		return nil, false, err
	}
	return response, true, nil
}

// Set stores value under key. The value travels after the command line until
// EOF, so the write side is shut down before reading the status.
func (c *Client) Set(key string, value []byte) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "set %s\r\n", key); err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	if _, err := conn.Write(value); err != nil {
		return fmt.Errorf("send value: %w", err)
	}
	if err := conn.CloseWrite(); err != nil {
		return fmt.Errorf("close write side: %w", err)
	}

	response, err := io.ReadAll(conn)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := statusError(response); err != nil {
		return err
	}
	if !bytes.HasPrefix(response, []byte("STORED")) {
		return apperrors.Wrapf(apperrors.ErrStore, "daemon replied %q", strings.TrimSpace(string(response)))
	}
	return nil
}

// dial connects to the daemon socket.
func (c *Client) dial() (*net.UnixConn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.socketPath, err)
	}
	return conn.(*net.UnixConn), nil
}

// statusError maps protocol error lines onto domain errors.
func statusError(response []byte) error {
	line := strings.TrimSpace(string(response))
	switch {
	case strings.HasPrefix(line, "CLIENT_ERROR access denied"):
		return apperrors.ErrAccessDenied
	case strings.HasPrefix(line, "CLIENT_ERROR"):
		return apperrors.Wrap(apperrors.ErrInvalidInput, line)
	case line == "ERROR":
		return apperrors.Wrap(apperrors.ErrInvalidInput, "unknown command")
	}
	return nil
}
