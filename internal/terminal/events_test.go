package terminal

import (
	"encoding/json"
	"testing"
)

func TestEventJSONShape(t *testing.T) {
	data, err := json.Marshal(Event{Type: EventData, Data: "hello"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"type":"data","data":"hello"}` {
		t.Fatalf("data event = %s", data)
	}

	data, err = json.Marshal(Event{Type: EventLatency, LatencyMS: 42})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"type":"latency","latency_ms":42}` {
		t.Fatalf("latency event = %s", data)
	}

	// Terminal events carry no payload fields.
	data, err = json.Marshal(Event{Type: EventDisconnected})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"type":"disconnected"}` {
		t.Fatalf("disconnected event = %s", data)
	}
}
