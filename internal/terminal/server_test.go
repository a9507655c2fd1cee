package terminal

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/sshdeck/internal/sshkeys"
	"github.com/gluk-w/sshdeck/internal/sshtransport"
)

const (
	testUser     = "deck"
	testPassword = "secret"
)

// testSSHServer starts an in-process SSH server for session tests. Shell
// sessions echo stdin with an "echo:" prefix, close the channel when the
// input contains "quit", and report window changes as "resize:COLSxROWS".
// Exec sessions reply "ran:<command>" with exit status 0.
func testSSHServer(t *testing.T) (addr string, cleanup func()) {
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
			go serveTestConn(netConn, config)
		}
	}()

	return listener.Addr().String(), func() {
		listener.Close()
		<-done
	}
}

func serveTestConn(netConn net.Conn, config *ssh.ServerConfig) {
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
		go serveTestSession(ch, requests)
	}
}

func serveTestSession(ch ssh.Channel, requests <-chan *ssh.Request) {
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
						if strings.Contains(string(buf[:n]), "quit") {
							ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
							ch.Close()
							return
						}
					}
					if err != nil {
						return
					}
				}
			}()

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
			fmt.Fprintf(ch, "ran:%s\n", command)
			ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
			return

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// newTestSession returns an unconnected session plus the transport config
// for the test server.
func newTestSession(t *testing.T) (*Session, sshtransport.Config) {
	t.Helper()
	addr, cleanup := testSSHServer(t)
	t.Cleanup(cleanup)

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("port %q: %v", portStr, err)
	}

	s := NewSession(newUUID(t), "test-host")
	t.Cleanup(func() { s.Disconnect() })
	cfg := sshtransport.Config{
		Host:     host,
		Port:     port,
		Username: testUser,
		Auth:     sshtransport.PasswordAuth{Password: testPassword},
		Timeout:  5 * time.Second,
		HostKeys: sshtransport.NewMemoryHostKeyStore(),
	}
	return s, cfg
}

// eventRecorder collects session events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func recordEvents(s *Session) *eventRecorder {
	rec := &eventRecorder{}
	s.OnEvent(func(ev Event) {
		rec.mu.Lock()
		rec.events = append(rec.events, ev)
		rec.mu.Unlock()
	})
	return rec
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// countType counts events of one type.
func (r *eventRecorder) countType(typ EventType) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// dataString concatenates all data event payloads.
func (r *eventRecorder) dataString() string {
	var sb strings.Builder
	for _, ev := range r.snapshot() {
		if ev.Type == EventData {
			sb.WriteString(ev.Data)
		}
	}
	return sb.String()
}

// waitFor polls until cond is true or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func newUUID(t *testing.T) uuid.UUID {
	t.Helper()
	return uuid.New()
}
