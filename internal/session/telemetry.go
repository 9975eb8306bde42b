package session

// TelemetrySnapshot holds per-session latency landmarks in Unix
// milliseconds. Each field is written once, on the first occurrence of
// its event; zero means the event never happened during the session.
type TelemetrySnapshot struct {
	AudioSendStartedAtMs int64 `json:"audio_send_started_at_ms"`
	FirstPartialAtMs     int64 `json:"first_partial_at_ms"`
	FirstFinalAtMs       int64 `json:"first_final_at_ms"`
}
