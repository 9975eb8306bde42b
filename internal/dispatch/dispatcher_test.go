package dispatch

import (
	"encoding/json"
	"testing"
)

// callCounter tracks which callbacks have fired.
type callCounter struct {
	data          int
	chunk         int
	sessionAck    int
	providerState int
	transcript    int
	status        int
	flushAck      int

	lastState   ProviderState
	lastConvID  string
	lastText    string
	lastType    string
	lastLevel   string
	lastMessage string
}

func newTestDispatcher(c *callCounter) *Dispatcher {
	return NewDispatcher(nil, Handlers{
		OnData:  func(json.RawMessage) { c.data++ },
		OnChunk: func(json.RawMessage) { c.chunk++ },
		OnSessionAck: func(conversationID string) {
			c.sessionAck++
			c.lastConvID = conversationID
		},
		OnProviderState: func(state ProviderState, _ string) {
			c.providerState++
			c.lastState = state
		},
		OnTranscript: func(text, eventType string, _ json.RawMessage) {
			c.transcript++
			c.lastText = text
			c.lastType = eventType
		},
		OnStatus: func(level, message string, _ json.RawMessage) {
			c.status++
			c.lastLevel = level
			c.lastMessage = message
		},
		OnFlushAck: func() { c.flushAck++ },
	})
}

func (c *callCounter) total() int {
	return c.data + c.chunk + c.sessionAck + c.providerState + c.transcript + c.status + c.flushAck
}

func TestDispatchMalformedNeverInvokesCallbacks(t *testing.T) {
	counter := &callCounter{}
	d := newTestDispatcher(counter)

	for _, message := range []string{"", "not json at all", `{"type":`, "\xff\xfe", "42garbage"} {
		d.Dispatch([]byte(message))
	}

	if counter.total() != 0 {
		t.Errorf("Expected no callbacks for malformed input, got %d invocations", counter.total())
	}
}

func TestDispatchUnknownTypeIgnored(t *testing.T) {
	counter := &callCounter{}
	d := newTestDispatcher(counter)

	d.Dispatch([]byte(`{"type":"future_feature","data":{"x":1}}`))

	if counter.total() != 0 {
		t.Errorf("Expected unknown type to be ignored, got %d invocations", counter.total())
	}
}

func TestDispatchExistingJSON(t *testing.T) {
	counter := &callCounter{}
	d := newTestDispatcher(counter)

	if d.GraphDataFromSocket() {
		t.Fatal("Graph-from-socket flag set before any message")
	}

	d.Dispatch([]byte(`{"type":"existing_json","data":{"nodes":[]}}`))

	if counter.data != 1 {
		t.Errorf("Expected 1 data callback, got %d", counter.data)
	}
	if !d.GraphDataFromSocket() {
		t.Error("Expected graph-from-socket flag to be set")
	}

	d.Reset()
	if d.GraphDataFromSocket() {
		t.Error("Expected Reset to clear the graph-from-socket flag")
	}
}

func TestDispatchSessionAck(t *testing.T) {
	tests := []struct {
		name      string
		message   string
		wantState ProviderState
	}{
		{"ready omitted", `{"type":"session_ack"}`, ProviderReady},
		{"ready true", `{"type":"session_ack","stt_ready":true}`, ProviderReady},
		{"ready false", `{"type":"session_ack","stt_ready":false}`, ProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := &callCounter{}
			d := newTestDispatcher(counter)

			d.Dispatch([]byte(tt.message))

			if counter.sessionAck != 1 || counter.providerState != 1 {
				t.Fatalf("Expected session ack + provider state callbacks, got %d/%d",
					counter.sessionAck, counter.providerState)
			}
			if counter.lastState != tt.wantState {
				t.Errorf("Expected state %s, got %s", tt.wantState, counter.lastState)
			}
		})
	}
}

func TestDispatchSessionAckConversationID(t *testing.T) {
	counter := &callCounter{}
	d := newTestDispatcher(counter)

	d.Dispatch([]byte(`{"type":"session_ack","conversation_id":"conv-42"}`))

	if counter.lastConvID != "conv-42" {
		t.Errorf("Expected conversation id conv-42, got %q", counter.lastConvID)
	}
}

func TestDispatchTranscripts(t *testing.T) {
	counter := &callCounter{}
	d := newTestDispatcher(counter)

	d.Dispatch([]byte(`{"type":"transcript_partial","text":"hel"}`))
	d.Dispatch([]byte(`{"type":"transcript_final","text":"hello world"}`))

	if counter.transcript != 2 {
		t.Fatalf("Expected 2 transcript callbacks, got %d", counter.transcript)
	}
	if counter.lastText != "hello world" || counter.lastType != "transcript_final" {
		t.Errorf("Unexpected last transcript: %q / %s", counter.lastText, counter.lastType)
	}
}

func TestDispatchProviderError(t *testing.T) {
	counter := &callCounter{}
	d := newTestDispatcher(counter)

	d.Dispatch([]byte(`{"type":"stt_provider_error","detail":"quota exceeded"}`))

	if counter.providerState != 1 || counter.lastState != ProviderError {
		t.Errorf("Expected provider error state, got %s after %d calls",
			counter.lastState, counter.providerState)
	}
}

func TestDispatchProcessingStatus(t *testing.T) {
	tests := []struct {
		name        string
		message     string
		wantCalls   int
		wantLevel   string
		wantMessage string
	}{
		{"normalized level", `{"type":"processing_status","level":"WARN","message":" slow provider "}`, 1, "warn", "slow provider"},
		{"default level", `{"type":"processing_status","message":"ok"}`, 1, "info", "ok"},
		{"empty message dropped", `{"type":"processing_status","level":"info","message":"   "}`, 0, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := &callCounter{}
			d := newTestDispatcher(counter)

			d.Dispatch([]byte(tt.message))

			if counter.status != tt.wantCalls {
				t.Fatalf("Expected %d status callbacks, got %d", tt.wantCalls, counter.status)
			}
			if tt.wantCalls > 0 {
				if counter.lastLevel != tt.wantLevel || counter.lastMessage != tt.wantMessage {
					t.Errorf("Expected %s/%q, got %s/%q",
						tt.wantLevel, tt.wantMessage, counter.lastLevel, counter.lastMessage)
				}
			}
		})
	}
}

func TestDispatchFlushAck(t *testing.T) {
	counter := &callCounter{}
	d := newTestDispatcher(counter)

	d.Dispatch([]byte(`{"type":"flush_ack"}`))

	if counter.flushAck != 1 {
		t.Errorf("Expected 1 flush ack callback, got %d", counter.flushAck)
	}
}

func TestDispatchErrorMessage(t *testing.T) {
	counter := &callCounter{}
	d := newTestDispatcher(counter)

	d.Dispatch([]byte(`{"type":"error","detail":"storage offline"}`))

	if counter.status != 1 || counter.lastLevel != "error" || counter.lastMessage != "storage offline" {
		t.Errorf("Expected error status callback, got %d calls (%s/%q)",
			counter.status, counter.lastLevel, counter.lastMessage)
	}
}

func TestDispatchNilHandlers(t *testing.T) {
	d := NewDispatcher(nil, Handlers{})

	// Every recognized type must be safe with no handlers registered.
	messages := []string{
		`{"type":"existing_json","data":{}}`,
		`{"type":"chunk_dict","data":{}}`,
		`{"type":"session_ack","stt_ready":false}`,
		`{"type":"transcript_partial","text":"x"}`,
		`{"type":"transcript_final","text":"x"}`,
		`{"type":"stt_provider_error","detail":"x"}`,
		`{"type":"processing_status","message":"x"}`,
		`{"type":"flush_ack"}`,
		`{"type":"error","detail":"x"}`,
	}
	for _, m := range messages {
		d.Dispatch([]byte(m))
	}
}
