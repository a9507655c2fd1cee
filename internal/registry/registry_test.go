package registry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gluk-w/sshdeck/internal/terminal"
)

func TestRegistry_CreateGetList(t *testing.T) {
	r := New()

	if r.Count() != 0 {
		t.Fatalf("new registry count = %d, want 0", r.Count())
	}

	hostID := uuid.New()
	s := r.Create(hostID, "alpha")
	if s.HostName != "alpha" {
		t.Fatalf("host name = %q, want alpha", s.HostName)
	}

	info, err := r.Get(s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if info.HostID != hostID {
		t.Fatalf("host id = %s, want %s", info.HostID, hostID)
	}
	if info.State != terminal.StateUnconnected {
		t.Fatalf("state = %s, want %s", info.State, terminal.StateUnconnected)
	}

	r.Create(uuid.New(), "beta")
	if got := len(r.List()); got != 2 {
		t.Fatalf("list length = %d, want 2", got)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := New()
	if _, err := r.Get(uuid.New()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got: %v", err)
	}
	if err := r.WithSession(uuid.New(), func(*terminal.Session) error { return nil }); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got: %v", err)
	}
	if err := r.Close(uuid.New()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got: %v", err)
	}
}

func TestRegistry_WithSessionPutsBack(t *testing.T) {
	r := New()
	s := r.Create(uuid.New(), "alpha")

	sentinel := errors.New("operation failed")
	err := r.WithSession(s.ID, func(*terminal.Session) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("want operation error, got: %v", err)
	}

	// The session must be back even though the operation failed.
	if _, err := r.Get(s.ID); err != nil {
		t.Fatalf("session missing after failed operation: %v", err)
	}
}

func TestRegistry_ConcurrentSameSession(t *testing.T) {
	r := New()
	s := r.Create(uuid.New(), "alpha")

	inside := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan error, 1)

	go func() {
		firstDone <- r.WithSession(s.ID, func(*terminal.Session) error {
			close(inside)
			<-release
			return nil
		})
	}()

	<-inside
	// While the first operation holds the session, a second must observe
	// not-found rather than block.
	err := r.WithSession(s.ID, func(*terminal.Session) error { return nil })
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("concurrent op: want ErrSessionNotFound, got: %v", err)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first op: %v", err)
	}

	// Put back: now reachable again.
	if err := r.WithSession(s.ID, func(*terminal.Session) error { return nil }); err != nil {
		t.Fatalf("after release: %v", err)
	}
}

func TestRegistry_NoDeadlockUnderContention(t *testing.T) {
	r := New()
	ids := make([]uuid.UUID, 8)
	for i := range ids {
		ids[i] = r.Create(uuid.New(), "host").ID
	}

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := ids[(w+i)%len(ids)]
				r.WithSession(id, func(s *terminal.Session) error {
					_ = s.Info()
					return nil
				})
				r.List()
			}
		}(w)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("registry operations deadlocked")
	}
	if r.Count() != len(ids) {
		t.Fatalf("count = %d, want %d", r.Count(), len(ids))
	}
}

func TestRegistry_CloseRemoves(t *testing.T) {
	r := New()
	s := r.Create(uuid.New(), "alpha")

	if err := r.Close(s.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := r.Get(s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("closed session still present: %v", err)
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r := New()
	for i := 0; i < 3; i++ {
		r.Create(uuid.New(), "host")
	}
	r.CloseAll()
	if r.Count() != 0 {
		t.Fatalf("count after CloseAll = %d, want 0", r.Count())
	}
}

func TestRegistry_ListOrderedByCreation(t *testing.T) {
	r := New()
	first := r.Create(uuid.New(), "first")
	time.Sleep(2 * time.Millisecond)
	second := r.Create(uuid.New(), "second")

	infos := r.List()
	if len(infos) != 2 {
		t.Fatalf("list length = %d, want 2", len(infos))
	}
	if infos[0].ID != first.ID || infos[1].ID != second.ID {
		t.Fatal("list not ordered by creation time")
	}
}
