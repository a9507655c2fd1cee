package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/gluk-w/sshdeck/internal/terminal"
)

// eventsRateLimit caps client-to-server messages per second per WebSocket.
// Messages beyond the rate are dropped.
const eventsRateLimit = 200

// eventsRateBurst allows short bursts (e.g. paste) before limiting kicks in.
const eventsRateBurst = 200

// eventBufferDepth is the per-subscriber event queue. A subscriber that
// cannot keep up loses events rather than stalling the session.
const eventBufferDepth = 256

// clientMsg is an inbound WebSocket message: terminal input or a resize.
type clientMsg struct {
	Type string `json:"type"` // "input" | "resize"
	Data string `json:"data,omitempty"`
	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
}

// SessionEventsWS streams session events to the client and accepts input
// and resize messages back, bridging the session to a terminal UI.
// GET /api/v1/sessions/{id}/events
func SessionEventsWS(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session ID")
		return
	}
	if _, err := Sessions.Get(id); err != nil {
		writeSSHError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[handlers] accept events websocket: %v", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancelCtx := context.WithCancel(r.Context())
	defer cancelCtx()

	events := make(chan terminal.Event, eventBufferDepth)
	var unsubscribe func()
	err = Sessions.WithSession(id, func(s *terminal.Session) error {
		unsubscribe = s.OnEvent(func(ev terminal.Event) {
			select {
			case events <- ev:
			default:
				// Slow subscriber. Drop rather than block the session.
			}
		})
		return nil
	})
	if err != nil {
		conn.Close(4004, "session not found")
		return
	}
	defer unsubscribe()

	go readClientMessages(ctx, cancelCtx, conn, id)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev := <-events:
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return
			}
		}
	}
}

// readClientMessages consumes input and resize messages from the client
// until the socket closes, then cancels the writer.
func readClientMessages(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, id uuid.UUID) {
	defer cancel()
	bucket := newTokenBucket(eventsRateBurst, eventsRateLimit)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if !bucket.allow() {
			continue
		}
		var msg clientMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "input":
			err = Sessions.WithSession(id, func(s *terminal.Session) error {
				return s.Write([]byte(msg.Data))
			})
		case "resize":
			if msg.Cols == 0 || msg.Rows == 0 {
				continue
			}
			err = Sessions.WithSession(id, func(s *terminal.Session) error {
				return s.Resize(msg.Cols, msg.Rows)
			})
		default:
			continue
		}
		if err != nil {
			log.Printf("[handlers] ws %s message for %s: %v", msg.Type, id, err)
		}
	}
}

// tokenBucket rate-limits inbound terminal messages.
type tokenBucket struct {
	tokens     int
	maxTokens  int
	refillRate int // tokens added per second
	lastRefill time.Time
}

func newTokenBucket(maxTokens, refillRate int) *tokenBucket {
	return &tokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (tb *tokenBucket) allow() bool {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	tb.lastRefill = now

	tb.tokens += int(elapsed.Seconds() * float64(tb.refillRate))
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}
	if tb.tokens <= 0 {
		return false
	}
	tb.tokens--
	return true
}
