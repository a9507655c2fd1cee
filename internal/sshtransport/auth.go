package sshtransport

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/gluk-w/sshdeck/internal/sshkeys"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// AuthMethod is a closed set of authentication methods. The unexported marker
// method keeps the set closed to this package; call sites select behavior with
// an exhaustive type switch so a new method cannot be added without updating
// every handler of the type.
type AuthMethod interface {
	authMethod()
	// Name returns the wire-facing name of the method ("password",
	// "private_key", "agent").
	Name() string
}

// PasswordAuth authenticates with a plain password.
type PasswordAuth struct {
	Password string
}

func (PasswordAuth) authMethod()  {}
func (PasswordAuth) Name() string { return "password" }

// PrivateKeyAuth authenticates with a PEM-encoded private key, loaded from
// KeyPath unless PEM is set directly. Passphrase is used when non-empty.
type PrivateKeyAuth struct {
	KeyPath    string
	PEM        []byte
	Passphrase string
}

func (PrivateKeyAuth) authMethod()  {}
func (PrivateKeyAuth) Name() string { return "private_key" }

// AgentAuth authenticates with identities held by a running SSH agent.
// Socket overrides $SSH_AUTH_SOCK when set.
type AgentAuth struct {
	Socket string
}

func (AgentAuth) authMethod()  {}
func (AgentAuth) Name() string { return "agent" }

// buildAuth converts an AuthMethod into golang.org/x/crypto/ssh auth methods.
// The returned closer (possibly nil) must be closed after the handshake; it
// holds the agent socket open while the agent signs the handshake challenge.
func buildAuth(method AuthMethod) ([]ssh.AuthMethod, func(), error) {
	switch m := method.(type) {
	case PasswordAuth:
		return []ssh.AuthMethod{ssh.Password(m.Password)}, nil, nil

	case PrivateKeyAuth:
		pem := m.PEM
		if len(pem) == 0 {
			if m.KeyPath == "" {
				return nil, nil, fmt.Errorf("%w: no key material or key path", ErrKey)
			}
			data, err := os.ReadFile(m.KeyPath)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: read %s: %v", ErrKey, m.KeyPath, err)
			}
			pem = data
		}
		signer, err := sshkeys.ParsePrivateKey(pem, m.Passphrase)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrKey, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil, nil

	case AgentAuth:
		sock := m.Socket
		if sock == "" {
			sock = os.Getenv("SSH_AUTH_SOCK")
		}
		if sock == "" {
			return nil, nil, errors.New("agent auth: no agent available (SSH_AUTH_SOCK not set)")
		}
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return nil, nil, fmt.Errorf("agent auth: connect to agent at %s: %w", sock, err)
		}
		ag := agent.NewClient(conn)
		closer := func() { conn.Close() }
		return []ssh.AuthMethod{ssh.PublicKeysCallback(ag.Signers)}, closer, nil

	default:
		return nil, nil, fmt.Errorf("unsupported auth method %T", method)
	}
}
