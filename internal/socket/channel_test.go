package socket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// echoServer upgrades each request and echoes every message back.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// stateRecorder collects state transitions thread-safely.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.states))
	copy(out, r.states)
	return out
}

func (r *stateRecorder) waitFor(t *testing.T, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, s := range r.snapshot() {
			if s == want {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for state %s, saw %v", want, r.snapshot())
}

func TestChannelConnectTransitions(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	recorder := &stateRecorder{}
	ch := NewChannel("backend", nil, recorder.record, nil)

	if ch.State() != StateIdle {
		t.Fatalf("Expected idle state, got %s", ch.State())
	}

	if err := ch.Connect(context.Background(), wsURL(server), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer ch.Close()

	states := recorder.snapshot()
	if len(states) < 2 || states[0] != StateConnecting || states[1] != StateConnected {
		t.Errorf("Expected [connecting connected], got %v", states)
	}
}

func TestChannelEcho(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	received := make(chan []byte, 1)
	ch := NewChannel("provider", nil, nil, func(_ int, data []byte) {
		received <- data
	})

	if err := ch.Connect(context.Background(), wsURL(server), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer ch.Close()

	payload := []byte{0x01, 0x02, 0x03, 0x04}
	if err := ch.SendBinary(payload); err != nil {
		t.Fatalf("SendBinary failed: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != string(payload) {
			t.Errorf("Expected %v echoed back, got %v", payload, data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for echo")
	}
}

func TestChannelDialFailure(t *testing.T) {
	recorder := &stateRecorder{}
	ch := NewChannel("backend", nil, recorder.record, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := ch.Connect(ctx, "ws://127.0.0.1:1/nowhere", nil)
	if err == nil {
		t.Fatal("Expected dial error")
	}

	if ch.State() != StateError {
		t.Errorf("Expected error state after failed dial, got %s", ch.State())
	}
}

func TestChannelAbruptServerClose(t *testing.T) {
	connected := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connected <- conn
		// Keep reading so the close is observed by the client.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	recorder := &stateRecorder{}
	ch := NewChannel("backend", nil, recorder.record, nil)
	if err := ch.Connect(context.Background(), wsURL(server), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer ch.Close()

	// Sever the connection without a close handshake.
	conn := <-connected
	conn.Close()

	recorder.waitFor(t, StateError)
}

func TestChannelSendAfterClose(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	ch := NewChannel("backend", nil, nil, nil)
	if err := ch.Connect(context.Background(), wsURL(server), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	ch.Close()

	if err := ch.SendBinary([]byte{0x00}); err == nil {
		t.Error("Expected send on closed channel to fail")
	}

	if ch.State() != StateClosed {
		t.Errorf("Expected closed state, got %s", ch.State())
	}

	// Closing twice must be a no-op.
	ch.Close()
}

func TestChannelConnectTwice(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	ch := NewChannel("backend", nil, nil, nil)
	if err := ch.Connect(context.Background(), wsURL(server), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer ch.Close()

	if err := ch.Connect(context.Background(), wsURL(server), nil); err == nil {
		t.Error("Expected second connect on a live channel to fail")
	}
}
