package terminal

import (
	"testing"
	"time"
)

func TestReconnectLoop_Reestablishes(t *testing.T) {
	s, cfg := newTestSession(t)
	rec := recordEvents(s)

	s.mu.Lock()
	s.config = &cfg
	s.reconnecting = true
	s.state = StateError
	stop := make(chan struct{})
	s.reconnectStop = stop
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.reconnectLoop(stop)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("reconnect loop did not finish")
	}

	if s.State() != StateConnected {
		t.Fatalf("state after reconnect = %s, want %s", s.State(), StateConnected)
	}
	if rec.countType(EventConnected) != 1 {
		t.Fatalf("connected events = %d, want 1", rec.countType(EventConnected))
	}
}

func TestReconnectLoop_Cancelled(t *testing.T) {
	s, cfg := newTestSession(t)

	s.mu.Lock()
	s.config = &cfg
	s.reconnecting = true
	stop := make(chan struct{})
	s.reconnectStop = stop
	s.mu.Unlock()

	close(stop)

	done := make(chan struct{})
	go func() {
		s.reconnectLoop(stop)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled reconnect loop did not return")
	}
	if s.State() == StateConnected {
		t.Fatal("cancelled reconnect must not connect")
	}
}

func TestReconnectLoop_GivesUp(t *testing.T) {
	s, cfg := newTestSession(t)
	rec := recordEvents(s)

	// Point the config at a port nothing listens on.
	cfg.Port = 1
	cfg.Host = "127.0.0.1"
	cfg.Timeout = 500 * time.Millisecond

	s.mu.Lock()
	s.config = &cfg
	s.reconnecting = true
	s.reconnectRetries = 2
	stop := make(chan struct{})
	s.reconnectStop = stop
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.reconnectLoop(stop)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("reconnect loop did not give up")
	}

	if s.State() != StateError {
		t.Fatalf("state after exhausted retries = %s, want %s", s.State(), StateError)
	}
	if rec.countType(EventError) != 1 {
		t.Fatalf("error events = %d, want 1", rec.countType(EventError))
	}
}
