// Package registry holds live terminal sessions and arbitrates access to
// them. A session is checked out of the map for the duration of an
// operation and put back afterwards, so the registry lock is never held
// across SSH I/O.
package registry

import (
	"errors"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/gluk-w/sshdeck/internal/terminal"
)

// ErrSessionNotFound is returned when a session id is unknown or the
// session is currently checked out by another operation.
var ErrSessionNotFound = errors.New("session not found")

type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*terminal.Session
}

func New() *Registry {
	return &Registry{sessions: map[uuid.UUID]*terminal.Session{}}
}

// Create registers a new unconnected session for the given host.
func (r *Registry) Create(hostID uuid.UUID, hostName string) *terminal.Session {
	s := terminal.NewSession(hostID, hostName)
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	log.Printf("[registry] created session %s for host %q", s.ID, hostName)
	return s
}

// take removes the session from the map so no other operation can reach it.
func (r *Registry) take(id uuid.UUID) (*terminal.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	delete(r.sessions, id)
	return s, nil
}

func (r *Registry) put(s *terminal.Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
}

// WithSession checks the session out, runs fn on it, and puts it back. The
// session is guaranteed back in the registry even if fn returns an error.
// A concurrent operation on the same id observes ErrSessionNotFound rather
// than blocking.
func (r *Registry) WithSession(id uuid.UUID, fn func(*terminal.Session) error) error {
	s, err := r.take(id)
	if err != nil {
		return err
	}
	defer r.put(s)
	return fn(s)
}

// Get returns a snapshot of the session. It does not check the session out.
func (r *Registry) Get(id uuid.UUID) (terminal.Info, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return terminal.Info{}, ErrSessionNotFound
	}
	return s.Info(), nil
}

// List returns snapshots of all registered sessions, oldest first.
func (r *Registry) List() []terminal.Info {
	r.mu.Lock()
	infos := make([]terminal.Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.Info())
	}
	r.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close disconnects the session and removes it permanently.
func (r *Registry) Close(id uuid.UUID) error {
	s, err := r.take(id)
	if err != nil {
		return err
	}
	if err := s.Disconnect(); err != nil {
		log.Printf("[registry] disconnect of %s during close: %v", id, err)
	}
	log.Printf("[registry] closed session %s", id)
	return nil
}

// CloseAll disconnects and removes every session. Used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*terminal.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = map[uuid.UUID]*terminal.Session{}
	r.mu.Unlock()
	for _, s := range all {
		if err := s.Disconnect(); err != nil {
			log.Printf("[registry] disconnect of %s during shutdown: %v", s.ID, err)
		}
	}
}
