package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event is the normalized shape of one provider transcript message.
type Event struct {
	Text              string
	Final             bool
	WordTimestamps    json.RawMessage
	SegmentTimestamps json.RawMessage
	Timestamps        json.RawMessage
	Metadata          json.RawMessage
	SpeakerID         string
}

// EventType returns the backend message type this event forwards as.
func (e *Event) EventType() string {
	if e.Final {
		return "transcript_final"
	}
	return "transcript_partial"
}

// rawEvent covers the field variants observed across providers. Binary
// frames carry the same UTF-8 JSON as text frames, so one decode path
// serves both.
type rawEvent struct {
	Text       string          `json:"text"`
	Transcript string          `json:"transcript"`
	Result     string          `json:"result"`
	Type       string          `json:"type"`
	IsFinal    json.RawMessage `json:"is_final"`
	Final      json.RawMessage `json:"final"`

	WordTimestamps    json.RawMessage `json:"word_timestamps"`
	SegmentTimestamps json.RawMessage `json:"segment_timestamps"`
	Timestamps        json.RawMessage `json:"timestamps"`
	Metadata          json.RawMessage `json:"metadata"`
	SpeakerID         string          `json:"speaker_id"`
}

type nestedTimestamps struct {
	Words    json.RawMessage `json:"words"`
	Segments json.RawMessage `json:"segments"`
}

// ParseMessage normalizes one provider frame. The message content is the
// first non-empty of text/transcript/result; the event is final when
// type == "final" or either finality flag is truthy. Malformed input
// returns an error for the caller to log and drop.
func ParseMessage(data []byte) (*Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse provider message: %w", err)
	}

	ev := &Event{
		Text:              firstNonEmpty(raw.Text, raw.Transcript, raw.Result),
		Final:             raw.Type == "final" || truthy(raw.IsFinal) || truthy(raw.Final),
		WordTimestamps:    raw.WordTimestamps,
		SegmentTimestamps: raw.SegmentTimestamps,
		Timestamps:        raw.Timestamps,
		Metadata:          raw.Metadata,
		SpeakerID:         raw.SpeakerID,
	}

	// Fall back to nested timestamps.words / timestamps.segments when the
	// provider does not use the flat fields.
	if len(raw.Timestamps) > 0 && (ev.WordTimestamps == nil || ev.SegmentTimestamps == nil) {
		var nested nestedTimestamps
		if err := json.Unmarshal(raw.Timestamps, &nested); err == nil {
			if ev.WordTimestamps == nil {
				ev.WordTimestamps = nested.Words
			}
			if ev.SegmentTimestamps == nil {
				ev.SegmentTimestamps = nested.Segments
			}
		}
	}

	return ev, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// truthy applies loose truthiness to a raw JSON value: true booleans,
// non-zero numbers, and non-empty strings count.
func truthy(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}

	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != "" && t != "false" && t != "0"
	default:
		return v != nil
	}
}
