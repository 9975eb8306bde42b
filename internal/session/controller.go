package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anantham/live-conversational-threads-sub003/internal/audio"
	"github.com/anantham/live-conversational-threads-sub003/internal/capture"
	"github.com/anantham/live-conversational-threads-sub003/internal/dispatch"
	"github.com/anantham/live-conversational-threads-sub003/internal/metrics"
	"github.com/anantham/live-conversational-threads-sub003/internal/provider"
	"github.com/anantham/live-conversational-threads-sub003/internal/socket"
	"github.com/anantham/live-conversational-threads-sub003/internal/uploader"
)

// Transport selects how audio frames leave the process.
type Transport string

const (
	// TransportDual sends binary frames straight to the transcription
	// provider while the backend socket carries control traffic.
	TransportDual Transport = "dual"
	// TransportSingle sends base64 audio_chunk messages over the backend
	// socket and lets the backend relay them to the provider.
	TransportSingle Transport = "single"
)

const defaultFlushTimeout = 5 * time.Second

// SourceFactory produces a fresh capture source for each session.
type SourceFactory func() (capture.Source, error)

// Config carries everything a Controller needs to run sessions.
type Config struct {
	Provider       string
	ProviderURL    string
	ProviderHeader http.Header
	BackendURL     string
	Transport      Transport
	StoreAudio     bool
	LocalOnly      bool
	SpeakerID      string
	ConversationID string
	SampleRateHz   int
	FlushTimeout   time.Duration
	Upload         uploader.Config
}

// Callbacks are how session outcomes reach the embedding application.
// Every field is optional; nil callbacks are skipped. The controller's
// public methods never return errors, failures arrive here instead.
type Callbacks struct {
	OnTranscript    func(text, eventType string)
	OnData          func(data json.RawMessage)
	OnChunk         func(chunk json.RawMessage)
	OnProviderState func(state dispatch.ProviderState, detail string)
	OnStatus        func(level, message string)
	OnError         func(err error)
	OnFatal         func(err error)
}

// Controller runs at most one live session at a time. All mutation of
// session identity and channel references happens under its mutex; socket
// read loops and the capture producer only take snapshots.
type Controller struct {
	config     Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	callbacks  Callbacks
	newSource  SourceFactory
	uploads    *uploader.Queue
	dispatcher *dispatch.Dispatcher

	mu             sync.Mutex
	active         bool
	stopping       bool
	closing        bool
	sessionID      string
	conversationID string
	backend        *socket.Channel
	providerCh     *socket.Channel
	engine         *capture.Engine
	flushCh        chan struct{}
	fatalOnce      *sync.Once
	telemetry      TelemetrySnapshot
}

// NewController wires a controller from its collaborators. The upload
// queue worker starts immediately and lives for the controller's
// lifetime; Close releases it.
func NewController(config Config, logger *slog.Logger, m *metrics.Metrics, callbacks Callbacks, newSource SourceFactory) *Controller {
	if config.FlushTimeout <= 0 {
		config.FlushTimeout = defaultFlushTimeout
	}
	if config.SampleRateHz <= 0 {
		config.SampleRateHz = audio.CanonicalSampleRate
	}
	if config.Transport == "" {
		config.Transport = TransportDual
	}
	c := &Controller{
		config:    config,
		logger:    logger,
		metrics:   m,
		callbacks: callbacks,
		newSource: newSource,
		uploads:   uploader.NewQueue(config.Upload, logger, m),
	}
	c.dispatcher = dispatch.NewDispatcher(logger, dispatch.Handlers{
		OnData:          callbacks.OnData,
		OnChunk:         callbacks.OnChunk,
		OnSessionAck:    c.handleSessionAck,
		OnProviderState: c.handleProviderState,
		OnTranscript:    c.handleBackendTranscript,
		OnStatus:        c.handleStatus,
		OnFlushAck:      c.resolveFlush,
	})
	return c
}

// StartSession connects the sockets, announces the session to the
// backend, and begins streaming audio. A session already in flight is
// torn down first. Failures are reported through OnError and leave the
// controller idle.
func (c *Controller) StartSession(ctx context.Context) {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		c.logger.Warn("Session already live, cleaning up before restart")
		c.Cleanup()
		c.mu.Lock()
	}
	c.sessionID = uuid.NewString()
	c.conversationID = c.config.ConversationID
	c.telemetry = TelemetrySnapshot{}
	c.stopping = false
	c.closing = false
	c.fatalOnce = &sync.Once{}
	sessionID := c.sessionID
	conversationID := c.conversationID
	c.mu.Unlock()
	c.dispatcher.Reset()

	backend := socket.NewChannel("backend", c.logger, c.channelStateFunc("backend"), func(_ int, data []byte) {
		c.dispatcher.Dispatch(data)
	})
	if err := backend.Connect(ctx, c.config.BackendURL, nil); err != nil {
		c.failStart(fmt.Errorf("backend connect: %w", err))
		return
	}
	c.mu.Lock()
	c.backend = backend
	c.mu.Unlock()

	meta := sessionMetaMessage{
		Type:           "session_meta",
		ConversationID: conversationID,
		SessionID:      sessionID,
		Provider:       c.config.Provider,
		StoreAudio:     c.config.StoreAudio,
		SpeakerID:      c.config.SpeakerID,
		SampleRateHz:   c.config.SampleRateHz,
		Metadata: sessionMetaDetails{
			Source:    "web_client",
			LocalOnly: c.config.LocalOnly,
			Transport: string(c.config.Transport),
		},
	}
	if err := backend.SendJSON(meta); err != nil {
		c.failStart(fmt.Errorf("session_meta send: %w", err))
		return
	}

	if c.config.Transport == TransportDual {
		providerCh := socket.NewChannel("provider", c.logger, c.channelStateFunc("provider"), c.handleProviderMessage)
		if err := providerCh.Connect(ctx, c.config.ProviderURL, c.config.ProviderHeader); err != nil {
			c.failStart(fmt.Errorf("provider connect: %w", err))
			return
		}
		c.mu.Lock()
		c.providerCh = providerCh
		c.mu.Unlock()
	}

	source, err := c.newSource()
	if err != nil {
		c.failStart(fmt.Errorf("capture source: %w", err))
		return
	}
	engine := capture.NewEngine(source, c.config.SampleRateHz, c.handleFrame, c.logger)
	if err := engine.Start(); err != nil {
		source.Close()
		c.failStart(fmt.Errorf("capture start: %w", err))
		return
	}

	c.mu.Lock()
	c.engine = engine
	c.active = true
	c.mu.Unlock()
	c.metrics.RecordSessionStarted()
	c.logger.Info("Session started",
		slog.String("session_id", sessionID),
		slog.String("transport", string(c.config.Transport)),
		slog.String("provider", c.config.Provider),
		slog.Bool("store_audio", c.config.StoreAudio))
}

// StopSession runs the flush handshake and tears the session down. A
// concurrent second call resolves the pending flush and returns, so stop
// never blocks longer than the flush timeout.
func (c *Controller) StopSession(ctx context.Context) {
	c.mu.Lock()
	if c.stopping {
		ch := c.flushCh
		c.flushCh = nil
		c.mu.Unlock()
		if ch != nil {
			c.logger.Info("Re-entrant stop, resolving pending flush")
			close(ch)
		}
		return
	}
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.stopping = true
	engine := c.engine
	c.mu.Unlock()

	// Halt frame production first so the backend holds the complete
	// trailing audio before it is asked to flush.
	if engine != nil {
		engine.Stop()
	}

	c.mu.Lock()
	flushCh := make(chan struct{})
	c.flushCh = flushCh
	backend := c.backend
	c.mu.Unlock()

	start := time.Now()
	timedOut := false
	if backend != nil {
		if err := backend.SendJSON(finalFlushMessage{Type: "final_flush"}); err != nil {
			c.logger.Warn("Final flush send failed", slog.String("error", err.Error()))
			c.resolveFlush()
		}
	} else {
		c.resolveFlush()
	}

	timer := time.NewTimer(c.config.FlushTimeout)
	defer timer.Stop()
	select {
	case <-flushCh:
	case <-timer.C:
		timedOut = true
		c.logger.Warn("Flush acknowledgment timed out, proceeding with teardown",
			slog.Duration("timeout", c.config.FlushTimeout))
	case <-ctx.Done():
		timedOut = true
		c.logger.Warn("Stop interrupted while awaiting flush", slog.String("error", ctx.Err().Error()))
	}
	c.metrics.RecordFlush(time.Since(start).Seconds(), timedOut)

	c.mu.Lock()
	if c.flushCh == flushCh {
		c.flushCh = nil
	}
	sessionID := c.sessionID
	conversationID := c.conversationID
	c.mu.Unlock()

	// Storage settles after the transcript flush. The two phases are
	// sequential, so stop latency grows with the upload backlog.
	if err := c.uploads.Drain(ctx); err != nil {
		c.logger.Warn("Upload queue drain incomplete", slog.String("error", err.Error()))
	}
	if c.config.StoreAudio && conversationID != "" {
		downloadURL, err := c.uploads.Complete(ctx, sessionID, conversationID)
		if err != nil {
			c.logger.Warn("Storage finalize failed", slog.String("error", err.Error()))
		} else if downloadURL != "" {
			c.notifyStatus("info", "Recording available at "+downloadURL)
		}
	}

	c.teardown()
	c.metrics.RecordSessionStopped()
}

// Cleanup abandons the session without flushing: any pending flush is
// resolved, sockets are closed, queued uploads are left to the worker.
// Safe to call at any time, including with no session live.
func (c *Controller) Cleanup() {
	c.mu.Lock()
	idle := !c.active && c.flushCh == nil && c.backend == nil && c.providerCh == nil && c.engine == nil
	c.mu.Unlock()
	if idle {
		return
	}
	c.logger.Info("Emergency cleanup")
	c.teardown()
}

// Close releases the upload queue worker. The controller is unusable
// afterwards.
func (c *Controller) Close() {
	c.Cleanup()
	c.uploads.Close()
}

// LogToBackend forwards a client-side log line to the backend for
// server-side correlation. Dropped silently when no session is live.
func (c *Controller) LogToBackend(message string) {
	c.mu.Lock()
	backend := c.backend
	c.mu.Unlock()
	if backend == nil {
		return
	}
	if err := backend.SendJSON(clientLogMessage{Type: "client_log", Message: message}); err != nil {
		c.logger.Debug("Client log send failed", slog.String("error", err.Error()))
	}
}

// SendGraphData pushes a graph update to the backend.
func (c *Controller) SendGraphData(data any) {
	c.mu.Lock()
	backend := c.backend
	c.mu.Unlock()
	if backend == nil {
		return
	}
	if err := backend.SendJSON(graphDataMessage{Type: "graph_data_update", Data: data}); err != nil {
		c.logger.Warn("Graph data send failed", slog.String("error", err.Error()))
	}
}

// SessionID returns the most recent session id, empty before the first
// start.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ConversationID returns the conversation the session is bound to, empty
// until the backend assigns one.
func (c *Controller) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// Active reports whether a session is live.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Telemetry returns a copy of the current session's latency landmarks.
func (c *Controller) Telemetry() TelemetrySnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.telemetry
}

// GraphDataFromSocket reports whether the backend already pushed graph
// data over the socket this session, so callers can skip the HTTP fetch.
func (c *Controller) GraphDataFromSocket() bool {
	return c.dispatcher.GraphDataFromSocket()
}

// handleFrame runs on the capture producer goroutine for every encoded
// audio frame.
func (c *Controller) handleFrame(pcm []byte) {
	c.mu.Lock()
	if !c.active && !c.stopping {
		c.mu.Unlock()
		return
	}
	if c.telemetry.AudioSendStartedAtMs == 0 {
		c.telemetry.AudioSendStartedAtMs = time.Now().UnixMilli()
	}
	backend := c.backend
	providerCh := c.providerCh
	sessionID := c.sessionID
	conversationID := c.conversationID
	c.mu.Unlock()

	switch c.config.Transport {
	case TransportSingle:
		if backend != nil {
			msg := audioChunkMessage{
				Type:         "audio_chunk",
				AudioBase64:  base64.StdEncoding.EncodeToString(pcm),
				Encoding:     "pcm_s16le",
				SampleRateHz: c.config.SampleRateHz,
			}
			if err := backend.SendJSON(msg); err != nil {
				c.logger.Warn("Audio chunk send failed", slog.String("error", err.Error()))
			}
		}
	default:
		if providerCh != nil {
			if err := providerCh.SendBinary(pcm); err != nil {
				c.logger.Warn("Audio frame send failed", slog.String("error", err.Error()))
			}
		}
	}
	c.metrics.RecordFrame(len(pcm))
	c.uploads.Enqueue(pcm, sessionID, conversationID, c.config.StoreAudio)
}

// handleProviderMessage normalizes provider transcript events and relays
// them to the backend.
func (c *Controller) handleProviderMessage(_ int, data []byte) {
	ev, err := provider.ParseMessage(data)
	if err != nil {
		c.logger.Warn("Dropping malformed provider message", slog.String("error", err.Error()))
		return
	}
	if ev.Text == "" {
		return
	}

	now := time.Now().UnixMilli()
	c.mu.Lock()
	if ev.Final {
		if c.telemetry.FirstFinalAtMs == 0 {
			c.telemetry.FirstFinalAtMs = now
		}
	} else if c.telemetry.FirstPartialAtMs == 0 {
		c.telemetry.FirstPartialAtMs = now
	}
	backend := c.backend
	c.mu.Unlock()

	speakerID := ev.SpeakerID
	if speakerID == "" {
		speakerID = c.config.SpeakerID
	}
	msg := transcriptMessage{
		Type:              ev.EventType(),
		Text:              ev.Text,
		WordTimestamps:    ev.WordTimestamps,
		SegmentTimestamps: ev.SegmentTimestamps,
		Timestamps:        ev.Timestamps,
		Metadata:          ev.Metadata,
		SpeakerID:         speakerID,
	}
	if backend != nil {
		if err := backend.SendJSON(msg); err != nil {
			c.logger.Warn("Transcript relay failed", slog.String("error", err.Error()))
		}
	}
	c.metrics.RecordTranscript(msg.Type)
	if c.callbacks.OnTranscript != nil {
		c.callbacks.OnTranscript(ev.Text, msg.Type)
	}
}

// handleBackendTranscript forwards transcripts that arrive on the backend
// socket, which happens in single transport or when the backend runs its
// own provider connection.
func (c *Controller) handleBackendTranscript(text, eventType string, _ json.RawMessage) {
	now := time.Now().UnixMilli()
	c.mu.Lock()
	if eventType == "transcript_final" {
		if c.telemetry.FirstFinalAtMs == 0 {
			c.telemetry.FirstFinalAtMs = now
		}
	} else if c.telemetry.FirstPartialAtMs == 0 {
		c.telemetry.FirstPartialAtMs = now
	}
	c.mu.Unlock()

	c.metrics.RecordTranscript(eventType)
	if c.callbacks.OnTranscript != nil {
		c.callbacks.OnTranscript(text, eventType)
	}
}

func (c *Controller) handleSessionAck(conversationID string) {
	if conversationID == "" {
		return
	}
	c.mu.Lock()
	changed := c.conversationID != conversationID
	c.conversationID = conversationID
	c.mu.Unlock()
	if changed {
		c.logger.Info("Conversation assigned", slog.String("conversation_id", conversationID))
	}
}

func (c *Controller) handleProviderState(state dispatch.ProviderState, detail string) {
	if c.callbacks.OnProviderState != nil {
		c.callbacks.OnProviderState(state, detail)
	}
}

func (c *Controller) handleStatus(level, message string, _ json.RawMessage) {
	c.notifyStatus(level, message)
}

func (c *Controller) notifyStatus(level, message string) {
	if c.callbacks.OnStatus != nil {
		c.callbacks.OnStatus(level, message)
	}
}

// resolveFlush signals the waiter in StopSession, if any.
func (c *Controller) resolveFlush() {
	c.mu.Lock()
	ch := c.flushCh
	c.flushCh = nil
	c.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// channelStateFunc builds the state observer for one socket channel. An
// unexpected Error or Closed state mid-session is fatal: the session is
// invalidated exactly once and the owner is told to start over.
func (c *Controller) channelStateFunc(name string) socket.StateFunc {
	return func(st socket.State) {
		c.metrics.RecordSocketState(name, st.String())
		if st != socket.StateError && st != socket.StateClosed {
			return
		}
		c.mu.Lock()
		benign := c.closing || c.stopping || !c.active
		once := c.fatalOnce
		c.mu.Unlock()
		if benign || once == nil {
			return
		}
		once.Do(func() {
			c.mu.Lock()
			backend := c.backend
			providerCh := c.providerCh
			engine := c.engine
			c.backend, c.providerCh, c.engine = nil, nil, nil
			c.active = false
			c.mu.Unlock()
			if engine != nil {
				engine.Stop()
			}
			if providerCh != nil {
				providerCh.Close()
			}
			if backend != nil {
				backend.Close()
			}
			c.resolveFlush()
			c.metrics.RecordSessionFatal()
			err := fmt.Errorf("%s channel entered %s state mid-session", name, st)
			c.logger.Error("Session channel failed",
				slog.String("channel", name),
				slog.String("state", st.String()))
			if c.callbacks.OnFatal != nil {
				c.callbacks.OnFatal(err)
			}
		})
	}
}

// failStart reports a startup failure and returns the controller to idle.
func (c *Controller) failStart(err error) {
	c.logger.Error("Session start failed", slog.String("error", err.Error()))
	if c.callbacks.OnError != nil {
		c.callbacks.OnError(err)
	}
	c.teardown()
}

// teardown releases every session resource and resets state. The pending
// flush, if any, is resolved so no caller is left waiting.
func (c *Controller) teardown() {
	c.mu.Lock()
	c.closing = true
	backend := c.backend
	providerCh := c.providerCh
	engine := c.engine
	flushCh := c.flushCh
	c.backend, c.providerCh, c.engine, c.flushCh = nil, nil, nil, nil
	snapshot := c.telemetry
	sessionID := c.sessionID
	c.active = false
	c.stopping = false
	c.mu.Unlock()

	if flushCh != nil {
		close(flushCh)
	}
	if engine != nil {
		engine.Stop()
	}
	if providerCh != nil {
		providerCh.Close()
	}
	if backend != nil {
		backend.Close()
	}

	if sessionID != "" {
		c.logger.Info("Session torn down",
			slog.String("session_id", sessionID),
			slog.Int64("audio_send_started_at_ms", snapshot.AudioSendStartedAtMs),
			slog.Int64("first_partial_at_ms", snapshot.FirstPartialAtMs),
			slog.Int64("first_final_at_ms", snapshot.FirstFinalAtMs))
	}
}
