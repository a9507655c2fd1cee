package sshtransport

import (
	"errors"
	"fmt"
)

// Sentinel errors for the transport layer. Callers match them with errors.Is;
// every public operation wraps one of these (or returns it directly) so that
// failure classes survive fmt.Errorf("%w") chains.
var (
	// ErrNotConnected is returned by operations that require a live
	// connection handle.
	ErrNotConnected = errors.New("not connected")

	// ErrConnectionFailed covers network and protocol handshake failures
	// that are not timeouts.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrTimeout is returned when the connect deadline elapses before the
	// handshake completes. It is deliberately distinct from
	// ErrConnectionFailed so callers can tell a slow host from a dead one.
	ErrTimeout = errors.New("connection timed out")

	// ErrAuthenticationFailed is returned when the server rejects the
	// offered credentials. No retry is attempted at this layer.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrChannel is returned when the server refuses a channel, PTY, or
	// subsystem request.
	ErrChannel = errors.New("channel request failed")

	// ErrKey is returned for malformed or undecryptable private keys.
	ErrKey = errors.New("invalid private key")
)

// ErrHostKeyMismatch is returned when the server presents a key that does not
// match the recorded fingerprint, or when the policy forbids unknown hosts.
// It wraps ErrAuthenticationFailed: a host that cannot prove its identity is
// an authentication failure, and must fail closed.
var ErrHostKeyMismatch = fmt.Errorf("host key verification failed: %w", ErrAuthenticationFailed)
