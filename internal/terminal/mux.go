package terminal

import (
	"io"
	"log"
	"sync"

	"github.com/gluk-w/sshdeck/internal/sshtransport"
)

const (
	inputQueueDepth  = 64
	remoteQueueDepth = 32
	readChunkSize    = 32 * 1024
)

type geometry struct {
	cols uint16
	rows uint16
}

// remoteEvent is one observation from the remote side of the channel:
// a chunk of output, or the channel closing.
type remoteEvent struct {
	data   []byte
	closed bool
	err    error
}

// muxer owns one open shell channel. A single goroutine (loop) performs all
// channel I/O ordering decisions; everything else only feeds its queues.
// Local input is applied in arrival order, resizes collapse to the most
// recent geometry, and a pending resize never overtakes input that was
// queued before it.
type muxer struct {
	ch   *sshtransport.Channel
	emit func(Event)

	inputCh  chan []byte
	resizeCh chan geometry
	remote   chan remoteEvent

	stop     chan struct{} // closed to request an orderly shutdown
	stopOnce sync.Once
	done     chan struct{} // closed when the loop has exited

	// err holds the terminal cause, if any. Written by the loop before
	// done is closed, read only after done.
	err error
}

func newMuxer(ch *sshtransport.Channel, emit func(Event)) *muxer {
	return &muxer{
		ch:       ch,
		emit:     emit,
		inputCh:  make(chan []byte, inputQueueDepth),
		resizeCh: make(chan geometry, 1),
		remote:   make(chan remoteEvent, remoteQueueDepth),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (m *muxer) start() {
	go m.readStream(m.ch.Stdout)
	go m.readStream(m.ch.Stderr)
	go m.waitClosed()
	go m.loop()
}

// signalStop requests an orderly shutdown. Safe to call more than once.
func (m *muxer) signalStop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// enqueueInput queues one chunk of local input. The caller must not reuse
// the slice afterwards.
func (m *muxer) enqueueInput(data []byte) error {
	select {
	case m.inputCh <- data:
		return nil
	case <-m.done:
		return sshtransport.ErrNotConnected
	}
}

// enqueueResize queues a geometry change. Only the most recent pending
// geometry is kept; a stale queued value is displaced rather than applied.
func (m *muxer) enqueueResize(g geometry) error {
	for {
		select {
		case m.resizeCh <- g:
			return nil
		case <-m.done:
			return sshtransport.ErrNotConnected
		default:
		}
		// Queue full: drop the stale pending geometry and retry.
		select {
		case <-m.resizeCh:
		default:
		}
	}
}

func (m *muxer) readStream(r io.Reader) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case m.remote <- remoteEvent{data: chunk}:
			case <-m.done:
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				select {
				case m.remote <- remoteEvent{closed: true, err: err}:
				case <-m.done:
				}
			}
			return
		}
	}
}

func (m *muxer) waitClosed() {
	_, err := m.ch.Wait()
	select {
	case m.remote <- remoteEvent{closed: true, err: err}:
	case <-m.done:
	}
}

// loop is the single owner of the channel. It exits exactly once, emitting
// Disconnected as its final act, so downstream consumers see at most one
// terminal event per connection.
func (m *muxer) loop() {
	defer close(m.done)
	defer m.ch.Close()

	for {
		select {
		case <-m.stop:
			m.finish(nil)
			return
		case data := <-m.inputCh:
			if err := m.writeInput(data); err != nil {
				m.finish(err)
				return
			}
		case g := <-m.resizeCh:
			if err := m.applyResize(g); err != nil {
				m.finish(err)
				return
			}
		case ev := <-m.remote:
			if ev.closed {
				m.finish(ev.err)
				return
			}
			m.emit(Event{Type: EventData, Data: string(ev.data)})
		}
	}
}

func (m *muxer) writeInput(data []byte) error {
	_, err := m.ch.Stdin.Write(data)
	return err
}

// applyResize flushes any input queued before the resize, then applies the
// most recent pending geometry.
func (m *muxer) applyResize(g geometry) error {
	for {
		select {
		case data := <-m.inputCh:
			if err := m.writeInput(data); err != nil {
				return err
			}
			continue
		default:
		}
		break
	}
	select {
	case g = <-m.resizeCh:
	default:
	}
	if err := m.ch.WindowChange(g.cols, g.rows); err != nil {
		log.Printf("[terminal] window change %dx%d failed: %v", g.cols, g.rows, err)
		return err
	}
	return nil
}

func (m *muxer) finish(cause error) {
	m.err = cause
	if cause != nil {
		log.Printf("[terminal] channel closed: %v", cause)
	}
	m.emit(Event{Type: EventDisconnected})
}
