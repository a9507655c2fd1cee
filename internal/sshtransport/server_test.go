package sshtransport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/sshdeck/internal/sshkeys"
)

const (
	testUser     = "deck"
	testPassword = "secret"
)

// testSSHServer starts an in-process SSH server accepting password and
// public key auth. Shell sessions echo stdin back with an "echo:" prefix
// and report window changes as "resize:COLSxROWS". Exec sessions write
// "ran:<command>" and report an exit status ("exit N" exits with N,
// "noexit" closes without a status message).
func testSSHServer(t *testing.T, authorizedKey ssh.PublicKey) (addr string, cleanup func()) {
	t.Helper()

	_, hostKeyPEM, err := sshkeys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := sshkeys.ParsePrivateKey(hostKeyPEM, "")
	if err != nil {
		t.Fatalf("parse host key: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if conn.User() == testUser && string(password) == testPassword {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("wrong password")
		},
	}
	if authorizedKey != nil {
		config.PublicKeyCallback = func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if ssh.FingerprintSHA256(key) == ssh.FingerprintSHA256(authorizedKey) {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key")
		}
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			netConn, err := listener.Accept()
			if err != nil {
				return
			}
			go handleTestConnection(netConn, config)
		}
	}()

	return listener.Addr().String(), func() {
		listener.Close()
		<-done
	}
}

func handleTestConnection(netConn net.Conn, config *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, config)
	if err != nil {
		netConn.Close()
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go handleTestSession(ch, requests)
	}
}

func handleTestSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()

	for req := range requests {
		switch req.Type {
		case "pty-req":
			if req.WantReply {
				req.Reply(true, nil)
			}

		case "window-change":
			if len(req.Payload) >= 8 {
				cols := binary.BigEndian.Uint32(req.Payload[0:4])
				rows := binary.BigEndian.Uint32(req.Payload[4:8])
				ch.Write([]byte(fmt.Sprintf("resize:%dx%d\n", cols, rows)))
			}
			if req.WantReply {
				req.Reply(true, nil)
			}

		case "shell":
			if req.WantReply {
				req.Reply(true, nil)
			}
			ch.Write([]byte("ready\n"))
			go func() {
				buf := make([]byte, 4096)
				for {
					n, err := ch.Read(buf)
					if n > 0 {
						ch.Write([]byte("echo:"))
						ch.Write(buf[:n])
					}
					if err != nil {
						return
					}
				}
			}()
			// Keep servicing requests (window-change) after the shell starts.

		case "exec":
			if req.WantReply {
				req.Reply(true, nil)
			}
			command := ""
			if len(req.Payload) >= 4 {
				n := binary.BigEndian.Uint32(req.Payload[0:4])
				if int(n) <= len(req.Payload)-4 {
					command = string(req.Payload[4 : 4+n])
				}
			}
			runTestCommand(ch, command)
			return

		case "subsystem":
			name := ""
			if len(req.Payload) >= 4 {
				n := binary.BigEndian.Uint32(req.Payload[0:4])
				if int(n) <= len(req.Payload)-4 {
					name = string(req.Payload[4 : 4+n])
				}
			}
			if req.WantReply {
				req.Reply(name == "sftp", nil)
			}

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func runTestCommand(ch ssh.Channel, command string) {
	status := uint32(0)
	switch {
	case command == "noexit":
		// Close without sending exit-status.
		return
	case strings.HasPrefix(command, "exit "):
		if n, err := strconv.Atoi(strings.TrimPrefix(command, "exit ")); err == nil {
			status = uint32(n)
		}
	case strings.HasPrefix(command, "stderr "):
		ch.Stderr().Write([]byte(strings.TrimPrefix(command, "stderr ")))
	default:
		fmt.Fprintf(ch, "ran:%s\n", command)
	}
	ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
}

// splitHostPort parses addr and fails the test on malformed input.
func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("port %q: %v", portStr, err)
	}
	return host, port
}

// newTestTransport starts a test server and returns an unconnected Transport
// configured to reach it with password auth and an in-memory key store.
func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	addr, cleanup := testSSHServer(t, nil)
	t.Cleanup(cleanup)

	host, port := splitHostPort(t, addr)
	return New(Config{
		Host:     host,
		Port:     port,
		Username: testUser,
		Auth:     PasswordAuth{Password: testPassword},
		Timeout:  5 * time.Second,
		HostKeys: NewMemoryHostKeyStore(),
	})
}

// readUntil reads from r until the accumulated output contains the target
// string or the timeout expires.
func readUntil(t *testing.T, r io.Reader, target string, timeout time.Duration) string {
	t.Helper()
	deadline := time.After(timeout)
	var accumulated string
	buf := make([]byte, 4096)
	for {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %q, got: %q", target, accumulated)
		default:
		}
		n, err := r.Read(buf)
		if n > 0 {
			accumulated += string(buf[:n])
		}
		if strings.Contains(accumulated, target) {
			return accumulated
		}
		if err != nil {
			t.Fatalf("read error waiting for %q: %v, accumulated: %q", target, err, accumulated)
		}
	}
}
