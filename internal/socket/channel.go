package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State describes the lifecycle of a channel.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateError
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// StateFunc observes every state transition of a channel.
type StateFunc func(State)

// MessageFunc receives each inbound message. messageType is the websocket
// frame type (websocket.TextMessage or websocket.BinaryMessage).
type MessageFunc func(messageType int, data []byte)

const defaultHandshakeTimeout = 10 * time.Second

// Channel is a transient, single-use websocket connection. Once it
// reaches error or closed it is permanently dead; callers open a new
// channel instead of reconnecting this one.
type Channel struct {
	name      string
	logger    *slog.Logger
	onState   StateFunc
	onMessage MessageFunc

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	state   State
	closing bool
}

// NewChannel creates an idle channel. name tags log records; both
// callbacks are optional.
func NewChannel(name string, logger *slog.Logger, onState StateFunc, onMessage MessageFunc) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		name:      name,
		logger:    logger,
		onState:   onState,
		onMessage: onMessage,
		state:     StateIdle,
	}
}

// Connect dials url and, on success, starts the read loop. The channel
// transitions idle -> connecting -> connected; a dial failure leaves it
// in the error state.
func (c *Channel) Connect(ctx context.Context, url string, header http.Header) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%s channel cannot connect from state %s", c.name, state)
	}
	c.mu.Unlock()

	c.setState(StateConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		c.setState(StateError)
		return fmt.Errorf("%s channel dial failed: %w", c.name, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected)

	go c.readLoop(conn)

	return nil
}

// readLoop delivers inbound messages until the connection dies. An
// unexpected failure transitions the channel to error or closed; after a
// locally initiated Close the loop exits without touching the state.
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			c.mu.Unlock()
			if closing {
				return
			}

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("Channel closed by peer",
					slog.String("channel", c.name),
					slog.String("reason", err.Error()),
				)
				c.setState(StateClosed)
			} else {
				c.logger.Warn("Channel read failed",
					slog.String("channel", c.name),
					slog.String("error", err.Error()),
				)
				c.setState(StateError)
			}
			return
		}

		if c.onMessage != nil {
			c.onMessage(messageType, data)
		}
	}
}

// SendBinary writes one binary frame. The caller's frames are written in
// call order; writes are serialized internally.
func (c *Channel) SendBinary(data []byte) error {
	return c.send(websocket.BinaryMessage, data)
}

// SendJSON marshals v and writes it as one text frame.
func (c *Channel) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s channel message marshal failed: %w", c.name, err)
	}
	return c.send(websocket.TextMessage, data)
}

func (c *Channel) send(messageType int, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if state != StateConnected || conn == nil {
		return fmt.Errorf("%s channel is %s, cannot send", c.name, state)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("%s channel write failed: %w", c.name, err)
	}
	return nil
}

// Close performs a best-effort close handshake and marks the channel
// closed. Safe to call in any state, once or repeatedly.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		// Best effort; the peer may already be gone.
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		if err := conn.Close(); err != nil {
			c.logger.Debug("Channel close error",
				slog.String("channel", c.name),
				slog.String("error", err.Error()),
			)
		}
	}

	c.mu.Lock()
	terminal := c.state == StateError || c.state == StateClosed
	c.mu.Unlock()
	if !terminal {
		c.setState(StateClosed)
	}
}

// State returns the current channel state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Name returns the channel's log tag.
func (c *Channel) Name() string {
	return c.name
}

func (c *Channel) setState(state State) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	if c.onState != nil {
		c.onState(state)
	}
}
