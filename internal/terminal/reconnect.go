package terminal

import (
	"context"
	"fmt"
	"log"
	"time"
)

const (
	defaultReconnectRetries = 10
	reconnectInitialBackoff = 1 * time.Second
	reconnectMaxBackoff     = 16 * time.Second
)

// reconnectLoop tries to re-establish a session that dropped unexpectedly.
// It backs off exponentially between attempts, starting at one second and
// capping at sixteen, and gives up after the configured retry budget. An
// explicit Disconnect cancels the episode through stop.
func (s *Session) reconnectLoop(stop chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		if s.reconnectStop == stop {
			s.reconnectStop = nil
		}
		s.mu.Unlock()
	}()

	s.mu.Lock()
	cfg := s.config
	retries := s.reconnectRetries
	s.mu.Unlock()
	if cfg == nil {
		return
	}
	if retries <= 0 {
		retries = defaultReconnectRetries
	}
	dialTimeout := cfg.Timeout
	if dialTimeout <= 0 {
		dialTimeout = 30 * time.Second
	}

	backoff := reconnectInitialBackoff
	for attempt := 1; attempt <= retries; attempt++ {
		select {
		case <-stop:
			log.Printf("[session] %s reconnect cancelled", s.ID)
			return
		case <-time.After(backoff):
		}

		s.mu.Lock()
		if s.mux == nil && s.state != StateConnecting {
			s.state = StateReconnecting
		}
		s.mu.Unlock()

		log.Printf("[session] %s reconnect attempt %d/%d to %s", s.ID, attempt, retries, cfg.Addr())
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		err := s.Connect(ctx, *cfg)
		cancel()
		if err == nil {
			select {
			case <-stop:
				// Disconnected while the dial was in flight. Honor it.
				s.Disconnect()
			default:
				log.Printf("[session] %s reconnected on attempt %d", s.ID, attempt)
			}
			return
		}
		log.Printf("[session] %s reconnect attempt %d failed: %v", s.ID, attempt, err)

		backoff *= 2
		if backoff > reconnectMaxBackoff {
			backoff = reconnectMaxBackoff
		}
	}

	s.mu.Lock()
	if s.mux == nil {
		s.state = StateError
	}
	s.mu.Unlock()
	s.emit(Event{Type: EventError, Message: fmt.Sprintf("reconnect failed after %d attempts", retries)})
}
