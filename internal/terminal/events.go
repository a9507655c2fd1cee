package terminal

// EventType identifies an outward session event.
type EventType string

const (
	// EventData carries remote output (stdout and stderr alike).
	EventData EventType = "data"
	// EventConnected is emitted once per successful connect, after the
	// shell and multiplexer are fully up.
	EventConnected EventType = "connected"
	// EventDisconnected terminates the event stream of one connection.
	// Nothing is emitted for that connection after it.
	EventDisconnected EventType = "disconnected"
	// EventError reports a failure outside the multiplexer loop, e.g. an
	// exhausted reconnect.
	EventError EventType = "error"
	// EventLatency reports a measured round-trip in milliseconds.
	EventLatency EventType = "latency"
)

// Event is one outward session event, shaped for direct JSON delivery to the
// UI boundary.
type Event struct {
	Type      EventType `json:"type"`
	Data      string    `json:"data,omitempty"`
	Message   string    `json:"message,omitempty"`
	LatencyMS int64     `json:"latency_ms,omitempty"`
}

// EventListener is a callback for session events. Listeners are invoked
// synchronously; long-running handlers should hand off to their own
// goroutine (the WebSocket bridge does exactly that).
type EventListener func(Event)
