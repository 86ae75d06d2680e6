// Package errors provides standardized domain errors that express business intent
// rather than infrastructure details. These errors should be used by the token,
// store, cache, and server layers and mapped to wire responses by the protocol
// handler.
package errors

import (
	"errors"
	"fmt"
)

// Standard domain errors shared across all modules.
var (
	// ErrConfig indicates missing, malformed, or unresolvable configuration.
	// Fatal at startup.
	ErrConfig = errors.New("configuration error")

	// ErrTokenLoad indicates a certificate or private key that could not be
	// read or parsed, or a certificate missing mandatory fields.
	ErrTokenLoad = errors.New("token load error")

	// ErrNoEncryptionToken indicates no current token is available for new
	// encryptions.
	ErrNoEncryptionToken = errors.New("no encryption token")

	// ErrCrypto indicates an envelope encrypt/decrypt operation failed.
	ErrCrypto = errors.New("crypto error")

	// ErrStore indicates a persistent store read/write failure, or a
	// ciphertext no configured token could decrypt.
	ErrStore = errors.New("store error")

	// ErrNotFound indicates the requested secret does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAccessDenied indicates the verb is disabled by policy.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidInput indicates a malformed request line or an invalid key.
	ErrInvalidInput = errors.New("invalid input")
)

// New creates a new error with the given message.
// This is a convenience wrapper around errors.New for consistency.
func New(message string) error {
	return errors.New(message)
}

// Wrap wraps an error with additional context while preserving the error chain.
// Use this to add context at each layer without losing the original error type.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's tree matches target.
// This is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
// This is a convenience wrapper around errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}
