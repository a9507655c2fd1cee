package terminal

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gluk-w/sshdeck/internal/sshtransport"
)

// State is the lifecycle state of a terminal session.
type State string

const (
	StateUnconnected  State = "unconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

const (
	defaultCols uint16 = 80
	defaultRows uint16 = 24
)

// latencyProbeCommand is a trivial remote command used to measure round-trip
// time over a short-lived exec channel, leaving the shell channel untouched.
const latencyProbeCommand = "echo sshdeck-ping"

// Session binds one SSH transport, one shell channel multiplexer, and the
// metadata describing them. All exported methods are safe for concurrent use.
type Session struct {
	ID        uuid.UUID
	HostID    uuid.UUID
	HostName  string
	CreatedAt time.Time

	mu          sync.Mutex
	state       State
	cols, rows  uint16
	transport   *sshtransport.Transport
	mux         *muxer
	config      *sshtransport.Config
	connectedAt *time.Time
	latencyMS   int64

	listeners  map[int]EventListener
	nextListen int

	autoReconnect    bool
	reconnectRetries int
	reconnecting     bool
	reconnectStop    chan struct{}
}

// Info is a point-in-time snapshot of a session, shaped for JSON delivery.
type Info struct {
	ID          uuid.UUID  `json:"id"`
	HostID      uuid.UUID  `json:"host_id"`
	HostName    string     `json:"host_name"`
	State       State      `json:"status"`
	Cols        uint16     `json:"cols"`
	Rows        uint16     `json:"rows"`
	CreatedAt   time.Time  `json:"created_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	LatencyMS   int64      `json:"latency_ms"`
}

// NewSession creates a session in the unconnected state with an 80x24
// terminal geometry.
func NewSession(hostID uuid.UUID, hostName string) *Session {
	return &Session{
		ID:        uuid.New(),
		HostID:    hostID,
		HostName:  hostName,
		CreatedAt: time.Now(),
		state:     StateUnconnected,
		cols:      defaultCols,
		rows:      defaultRows,
		latencyMS: -1,
		listeners: map[int]EventListener{},
	}
}

// OnEvent registers a listener for session events and returns a function
// that removes it again.
func (s *Session) OnEvent(l EventListener) (cancel func()) {
	s.mu.Lock()
	id := s.nextListen
	s.nextListen++
	s.listeners[id] = l
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Session) emit(ev Event) {
	s.mu.Lock()
	ls := make([]EventListener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.mu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:          s.ID,
		HostID:      s.HostID,
		HostName:    s.HostName,
		State:       s.state,
		Cols:        s.cols,
		Rows:        s.rows,
		CreatedAt:   s.CreatedAt,
		ConnectedAt: s.connectedAt,
		LatencyMS:   s.latencyMS,
	}
}

// SetAutoReconnect enables or disables automatic reconnection after an
// unexpected channel failure. maxRetries bounds the attempts of one episode.
func (s *Session) SetAutoReconnect(enabled bool, maxRetries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoReconnect = enabled
	if maxRetries > 0 {
		s.reconnectRetries = maxRetries
	}
}

// Connect dials the host, opens an interactive shell channel with the
// session's current geometry, and starts the multiplexer. On any failure the
// session is left exactly as it was: no transport, no channel, previous
// state restored.
func (s *Session) Connect(ctx context.Context, cfg sshtransport.Config) error {
	s.mu.Lock()
	if s.mux != nil {
		s.mu.Unlock()
		return fmt.Errorf("session %s is already connected", s.ID)
	}
	if s.state == StateConnecting {
		s.mu.Unlock()
		return fmt.Errorf("session %s is already connecting", s.ID)
	}
	prev := s.state
	s.state = StateConnecting
	cols, rows := s.cols, s.rows
	s.mu.Unlock()

	revert := func() {
		s.mu.Lock()
		if s.state == StateConnecting {
			s.state = prev
		}
		s.mu.Unlock()
	}

	tr := sshtransport.New(cfg)
	if err := tr.Connect(ctx); err != nil {
		revert()
		return err
	}
	ch, err := tr.OpenChannel(sshtransport.ShellChannel{Cols: cols, Rows: rows})
	if err != nil {
		tr.Disconnect()
		revert()
		return err
	}

	m := newMuxer(ch, s.emit)
	now := time.Now()
	s.mu.Lock()
	s.transport = tr
	s.mux = m
	s.config = &cfg
	s.connectedAt = &now
	s.state = StateConnected
	s.mu.Unlock()

	log.Printf("[session] %s connected to %s", s.ID, cfg.Addr())
	// Connected goes out before the reader starts so no data event can
	// overtake it.
	s.emit(Event{Type: EventConnected})
	m.start()
	go s.watch(m)
	return nil
}

// watch observes one multiplexer until it exits and settles the session
// state. An explicit Disconnect detaches the muxer first, in which case
// watch has nothing left to do.
func (s *Session) watch(m *muxer) {
	<-m.done

	s.mu.Lock()
	if s.mux != m {
		s.mu.Unlock()
		return
	}
	s.mux = nil
	tr := s.transport
	s.transport = nil
	if m.err != nil {
		s.state = StateError
	} else {
		s.state = StateDisconnected
	}
	wantReconnect := s.autoReconnect && m.err != nil && !s.reconnecting
	var stop chan struct{}
	if wantReconnect {
		s.reconnecting = true
		stop = make(chan struct{})
		s.reconnectStop = stop
	}
	s.mu.Unlock()

	if tr != nil {
		tr.Disconnect()
	}
	if wantReconnect {
		go s.reconnectLoop(stop)
	}
}

// Write queues raw input bytes for the remote shell. Data is applied in the
// order it was queued.
func (s *Session) Write(data []byte) error {
	s.mu.Lock()
	m := s.mux
	s.mu.Unlock()
	if m == nil {
		return sshtransport.ErrNotConnected
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return m.enqueueInput(buf)
}

// Resize records the new geometry and queues a window change. Rapid resizes
// collapse to the most recent geometry; input queued before the resize is
// written to the shell first.
func (s *Session) Resize(cols, rows uint16) error {
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	m := s.mux
	s.mu.Unlock()
	if m == nil {
		return sshtransport.ErrNotConnected
	}
	return m.enqueueResize(geometry{cols: cols, rows: rows})
}

// Execute runs a one-shot command over a fresh exec channel on the same
// connection, without disturbing the interactive shell.
func (s *Session) Execute(ctx context.Context, command string) (sshtransport.CommandOutput, error) {
	s.mu.Lock()
	tr := s.transport
	s.mu.Unlock()
	if tr == nil {
		return sshtransport.CommandOutput{}, sshtransport.ErrNotConnected
	}
	return tr.Execute(ctx, command)
}

// OpenSubsystem opens a named subsystem channel (e.g. "sftp") on the
// session's connection.
func (s *Session) OpenSubsystem(name string) (*sshtransport.Channel, error) {
	s.mu.Lock()
	tr := s.transport
	s.mu.Unlock()
	if tr == nil {
		return nil, sshtransport.ErrNotConnected
	}
	return tr.OpenChannel(sshtransport.SubsystemChannel{Name: name})
}

// MeasureLatency measures the round-trip time of a trivial command over a
// separate exec channel and records it on the session.
func (s *Session) MeasureLatency(ctx context.Context) (int64, error) {
	s.mu.Lock()
	tr := s.transport
	s.mu.Unlock()
	if tr == nil {
		return 0, sshtransport.ErrNotConnected
	}
	start := time.Now()
	if _, err := tr.Execute(ctx, latencyProbeCommand); err != nil {
		return 0, err
	}
	ms := time.Since(start).Milliseconds()
	s.mu.Lock()
	s.latencyMS = ms
	s.mu.Unlock()
	s.emit(Event{Type: EventLatency, LatencyMS: ms})
	return ms, nil
}

// LatencyMS returns the last measured round-trip in milliseconds, or -1 if
// none has been measured yet.
func (s *Session) LatencyMS() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latencyMS
}

// Disconnect tears the session down: the multiplexer drains and emits its
// final Disconnected event, then the transport is closed. Calling it on a
// session that is not connected is a no-op.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	m := s.mux
	s.mux = nil
	tr := s.transport
	s.transport = nil
	stop := s.reconnectStop
	s.reconnectStop = nil
	if m != nil || tr != nil || s.reconnecting {
		s.state = StateDisconnected
	}
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if m != nil {
		m.signalStop()
		<-m.done
	}
	if tr != nil {
		tr.Disconnect()
	}
	if m != nil || tr != nil {
		log.Printf("[session] %s disconnected", s.ID)
	}
	return nil
}
