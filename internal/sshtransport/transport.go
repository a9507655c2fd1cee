// Package sshtransport owns one SSH connection per Transport: dialing and
// handshake within a deadline, authentication (password, private key, agent),
// host key verification against a fingerprint store, channel negotiation
// (interactive shell with PTY, one-shot exec, named subsystem), and one-shot
// command execution.
//
// The package has no knowledge of sessions or multiplexing; it reports every
// failure to its immediate caller as one of the sentinel error classes in
// errors.go and never retries. Retry and reconnect policy lives in the
// terminal package, one layer up.
package sshtransport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
)

// defaultConnectTimeout bounds connection attempts when the config does not
// set one.
const defaultConnectTimeout = 30 * time.Second

// Config describes one connection attempt. It is copied on Connect and never
// mutated afterwards.
type Config struct {
	Host     string
	Port     int
	Username string
	Auth     AuthMethod
	Timeout  time.Duration

	// HostKeys verifies server identity. Required: a transport with a nil
	// store refuses to connect rather than trusting any presented key.
	HostKeys HostKeyStore
	Policy   HostKeyPolicy
}

// Addr returns the host:port dial address for the config.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

// CommandOutput is the result of a completed remote command. It is assembled
// only after the remote signals an exit status or closes the channel; partial
// output is never exposed.
type CommandOutput struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Transport owns one SSH connection. The connection handle is present only
// while connected; Disconnect always clears it, so a Transport is reusable
// for a fresh Connect with the same config.
type Transport struct {
	ID uuid.UUID

	mu     sync.Mutex
	config Config
	client *ssh.Client

	// set by the host key callback when verification rejects the server,
	// so Connect can surface the mismatch instead of the generic handshake
	// error x/crypto reports.
	hostKeyErr error
}

// New creates an unconnected Transport for the given config.
func New(config Config) *Transport {
	if config.Port == 0 {
		config.Port = 22
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultConnectTimeout
	}
	if config.Policy == "" {
		config.Policy = PolicyAcceptNew
	}
	return &Transport{
		ID:     uuid.New(),
		config: config,
	}
}

// Config returns the transport's connection config.
func (t *Transport) Config() Config {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.config
}

// IsConnected reports whether a connection handle is present.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client != nil
}

// Connect dials the configured host and completes the SSH handshake within
// the config timeout. Classified failures: ErrTimeout when the deadline
// elapses, ErrAuthenticationFailed (including ErrHostKeyMismatch) when the
// server rejects credentials or fails identity verification, ErrKey for
// undecodable key material, ErrConnectionFailed for everything else.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.client != nil {
		t.mu.Unlock()
		return fmt.Errorf("transport %s: already connected", t.ID)
	}
	cfg := t.config
	t.hostKeyErr = nil
	t.mu.Unlock()

	if cfg.HostKeys == nil {
		return fmt.Errorf("%w: no host key store configured", ErrHostKeyMismatch)
	}

	authMethods, closeAuth, err := buildAuth(cfg.Auth)
	if err != nil {
		if errors.Is(err, ErrKey) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	if closeAuth != nil {
		defer closeAuth()
	}

	clientCfg := &ssh.ClientConfig{
		User:    cfg.Username,
		Auth:    authMethods,
		Timeout: cfg.Timeout,
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			if err := verifyHostKey(cfg.HostKeys, cfg.Policy, cfg.Host, cfg.Port, key); err != nil {
				t.mu.Lock()
				t.hostKeyErr = err
				t.mu.Unlock()
				return err
			}
			return nil
		},
	}

	addr := cfg.Addr()
	dialer := net.Dialer{Timeout: cfg.Timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: dial %s after %s", ErrTimeout, addr, cfg.Timeout)
		}
		return fmt.Errorf("%w: dial %s: %v", ErrConnectionFailed, addr, err)
	}

	// Bound the protocol handshake by the same deadline as the dial; the
	// deadline is cleared once the connection is established.
	deadline := time.Now().Add(cfg.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	netConn.SetDeadline(deadline)

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, clientCfg)
	if err != nil {
		netConn.Close()
		return t.classifyHandshakeError(addr, err)
	}
	netConn.SetDeadline(time.Time{})

	t.mu.Lock()
	t.client = ssh.NewClient(sshConn, chans, reqs)
	t.mu.Unlock()

	log.Printf("[transport] %s connected to %s as %s (%s auth)", t.ID, addr, cfg.Username, cfg.Auth.Name())
	return nil
}

// classifyHandshakeError maps a raw handshake failure onto the error taxonomy.
func (t *Transport) classifyHandshakeError(addr string, err error) error {
	t.mu.Lock()
	hostKeyErr := t.hostKeyErr
	t.mu.Unlock()

	switch {
	case hostKeyErr != nil:
		return hostKeyErr
	case isTimeout(err):
		return fmt.Errorf("%w: handshake with %s", ErrTimeout, addr)
	case strings.Contains(err.Error(), "unable to authenticate"),
		strings.Contains(err.Error(), "no supported methods remain"):
		return fmt.Errorf("%w: %s rejected credentials", ErrAuthenticationFailed, addr)
	default:
		return fmt.Errorf("%w: handshake with %s: %v", ErrConnectionFailed, addr, err)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// Handshake failures sometimes stringify the inner deadline error.
	return strings.Contains(err.Error(), "i/o timeout")
}

// Disconnect closes the connection best-effort and always clears the handle,
// even if the underlying close fails. Calling it while unconnected is a no-op.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()

	if client == nil {
		return nil
	}

	log.Printf("[transport] %s disconnected from %s", t.ID, t.config.Addr())
	if err := client.Close(); err != nil {
		return fmt.Errorf("close connection: %w", err)
	}
	return nil
}

// clientHandle returns the live ssh.Client or ErrNotConnected.
func (t *Transport) clientHandle() (*ssh.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil, ErrNotConnected
	}
	return t.client, nil
}

// Execute opens a one-shot exec channel, runs the command to completion, and
// returns its buffered output with the exit code. A remote that closes the
// channel without sending an explicit exit status reports code 0, matching
// lenient real-world servers. The context cancels a stalled command by
// closing its channel.
func (t *Transport) Execute(ctx context.Context, command string) (CommandOutput, error) {
	client, err := t.clientHandle()
	if err != nil {
		return CommandOutput{}, err
	}

	session, err := client.NewSession()
	if err != nil {
		return CommandOutput{}, fmt.Errorf("%w: open exec channel: %v", ErrChannel, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		session.Close()
		<-done
		return CommandOutput{}, fmt.Errorf("execute %q: %w", command, ctx.Err())
	}

	out := CommandOutput{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if runErr != nil {
		var exitErr *ssh.ExitError
		var missingErr *ssh.ExitMissingError
		switch {
		case errors.As(runErr, &exitErr):
			out.ExitCode = exitErr.ExitStatus()
		case errors.As(runErr, &missingErr):
			// Channel closed without an exit-status message.
			out.ExitCode = 0
		default:
			return CommandOutput{}, fmt.Errorf("execute %q: %w", command, runErr)
		}
	}
	return out, nil
}
