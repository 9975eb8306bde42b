package session

import "encoding/json"

// Messages the controller writes to the backend socket. The backend keys
// on the type field, so every struct carries it explicitly.

type sessionMetaMessage struct {
	Type           string             `json:"type"`
	ConversationID string             `json:"conversation_id"`
	SessionID      string             `json:"session_id"`
	Provider       string             `json:"provider"`
	StoreAudio     bool               `json:"store_audio"`
	SpeakerID      string             `json:"speaker_id"`
	SampleRateHz   int                `json:"sample_rate_hz"`
	Metadata       sessionMetaDetails `json:"metadata"`
}

type sessionMetaDetails struct {
	Source    string `json:"source"`
	LocalOnly bool   `json:"local_only"`
	Transport string `json:"transport"`
}

type audioChunkMessage struct {
	Type         string `json:"type"`
	AudioBase64  string `json:"audio_base64"`
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
}

type transcriptMessage struct {
	Type              string          `json:"type"`
	Text              string          `json:"text"`
	WordTimestamps    json.RawMessage `json:"word_timestamps,omitempty"`
	SegmentTimestamps json.RawMessage `json:"segment_timestamps,omitempty"`
	Timestamps        json.RawMessage `json:"timestamps,omitempty"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
	SpeakerID         string          `json:"speaker_id,omitempty"`
}

type clientLogMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type graphDataMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type finalFlushMessage struct {
	Type string `json:"type"`
}
