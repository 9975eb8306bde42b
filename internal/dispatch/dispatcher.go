package dispatch

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
)

// ProviderState is the readiness signal derived from backend messages
// about the speech-to-text provider.
type ProviderState string

const (
	ProviderReady       ProviderState = "ready"
	ProviderUnavailable ProviderState = "unavailable"
	ProviderError       ProviderState = "error"
)

// Handlers holds the typed callbacks a dispatcher routes to. Any of them
// may be nil.
type Handlers struct {
	// OnData receives existing_json payloads (graph data pushed over the
	// socket).
	OnData func(data json.RawMessage)

	// OnChunk receives chunk_dict payloads.
	OnChunk func(data json.RawMessage)

	// OnSessionAck fires for session_ack with the derived provider
	// readiness and the conversation id the backend assigned, when any.
	OnSessionAck func(conversationID string)

	// OnProviderState fires for session_ack readiness and
	// stt_provider_error.
	OnProviderState func(state ProviderState, detail string)

	// OnTranscript receives transcript_partial / transcript_final
	// forwarded by the backend.
	OnTranscript func(text, eventType string, metadata json.RawMessage)

	// OnStatus receives normalized processing_status and error messages.
	OnStatus func(level, message string, context json.RawMessage)

	// OnFlushAck fires when the backend acknowledges a final flush.
	OnFlushAck func()
}

// envelope is the decoded superset of all backend message shapes.
type envelope struct {
	Type           string          `json:"type"`
	Data           json.RawMessage `json:"data"`
	Text           string          `json:"text"`
	Metadata       json.RawMessage `json:"metadata"`
	STTReady       *bool           `json:"stt_ready"`
	ConversationID string          `json:"conversation_id"`
	Level          string          `json:"level"`
	Message        string          `json:"message"`
	Context        json.RawMessage `json:"context"`
	Detail         string          `json:"detail"`
}

// Dispatcher routes decoded backend messages to Handlers.
type Dispatcher struct {
	logger   *slog.Logger
	handlers Handlers

	graphFromSocket atomic.Bool
}

// NewDispatcher creates a dispatcher over the given handlers.
func NewDispatcher(logger *slog.Logger, handlers Handlers) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger, handlers: handlers}
}

// GraphDataFromSocket reports whether graph data has arrived over the
// socket during this session.
func (d *Dispatcher) GraphDataFromSocket() bool {
	return d.graphFromSocket.Load()
}

// Reset clears per-session dispatcher state.
func (d *Dispatcher) Reset() {
	d.graphFromSocket.Store(false)
}

// Dispatch decodes one inbound frame and invokes the matching callback.
// Malformed JSON is logged and dropped; unknown types are ignored.
func (d *Dispatcher) Dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		d.logger.Warn("Dropping malformed backend message",
			slog.String("error", err.Error()),
			slog.Int("size_bytes", len(data)),
		)
		return
	}

	switch env.Type {
	case "existing_json":
		d.graphFromSocket.Store(true)
		if d.handlers.OnData != nil {
			d.handlers.OnData(env.Data)
		}

	case "chunk_dict":
		if d.handlers.OnChunk != nil {
			d.handlers.OnChunk(env.Data)
		}

	case "session_ack":
		// Provider is ready unless the backend explicitly says otherwise.
		ready := env.STTReady == nil || *env.STTReady
		state := ProviderReady
		if !ready {
			state = ProviderUnavailable
		}
		d.logger.Info("Session acknowledged by backend",
			slog.Bool("stt_ready", ready),
			slog.String("conversation_id", env.ConversationID),
		)
		if d.handlers.OnSessionAck != nil {
			d.handlers.OnSessionAck(env.ConversationID)
		}
		if d.handlers.OnProviderState != nil {
			d.handlers.OnProviderState(state, "")
		}

	case "transcript_partial", "transcript_final":
		if d.handlers.OnTranscript != nil {
			d.handlers.OnTranscript(env.Text, env.Type, env.Metadata)
		}

	case "stt_provider_error":
		detail := firstNonEmpty(env.Detail, env.Message)
		d.logger.Error("Speech-to-text provider error reported by backend",
			slog.String("detail", detail),
		)
		if d.handlers.OnProviderState != nil {
			d.handlers.OnProviderState(ProviderError, detail)
		}

	case "processing_status":
		level := strings.ToLower(strings.TrimSpace(env.Level))
		if level == "" {
			level = "info"
		}
		message := strings.TrimSpace(env.Message)
		if message == "" {
			return
		}
		d.logger.Info("Backend processing status",
			slog.String("level", level),
			slog.String("message", message),
		)
		if d.handlers.OnStatus != nil {
			d.handlers.OnStatus(level, message, env.Context)
		}

	case "flush_ack":
		if d.handlers.OnFlushAck != nil {
			d.handlers.OnFlushAck()
		}

	case "error":
		detail := firstNonEmpty(env.Detail, env.Message)
		d.logger.Error("Backend error message", slog.String("detail", detail))
		if d.handlers.OnStatus != nil {
			d.handlers.OnStatus("error", detail, env.Context)
		}

	default:
		// Unknown types are ignored for forward compatibility.
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
