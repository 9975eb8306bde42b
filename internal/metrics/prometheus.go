package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the streaming pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Capture metrics
	FramesCaptured prometheus.Counter
	AudioBytesSent prometheus.Counter

	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsStopped prometheus.Counter
	SessionFatal    prometheus.Counter

	// Socket metrics
	SocketStateChanges *prometheus.CounterVec

	// Transcript metrics
	Transcripts *prometheus.CounterVec

	// Chunk upload metrics
	ChunkUploads       prometheus.Counter
	ChunkUploadErrors  prometheus.Counter
	ChunkUploadSkipped prometheus.Counter
	ChunkUploadBytes   prometheus.Counter

	// Flush metrics
	FlushDuration prometheus.Histogram
	FlushTimeouts prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		FramesCaptured: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lct_frames_captured_total",
			Help: "Total number of PCM frames produced by the capture engine",
		}),
		AudioBytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lct_audio_bytes_sent_total",
			Help: "Total audio bytes streamed to the provider",
		}),

		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lct_sessions_started_total",
			Help: "Total number of recording sessions started",
		}),
		SessionsStopped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lct_sessions_stopped_total",
			Help: "Total number of recording sessions stopped",
		}),
		SessionFatal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lct_session_fatal_total",
			Help: "Total number of sessions ended by a fatal channel failure",
		}),

		SocketStateChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lct_socket_state_changes_total",
			Help: "Total socket state transitions",
		}, []string{"channel", "state"}),

		Transcripts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lct_transcripts_total",
			Help: "Total transcript events by kind",
		}, []string{"kind"}),

		ChunkUploads: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lct_chunk_uploads_total",
			Help: "Total number of audio chunks uploaded successfully",
		}),
		ChunkUploadErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lct_chunk_upload_errors_total",
			Help: "Total number of failed chunk uploads",
		}),
		ChunkUploadSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lct_chunk_uploads_skipped_total",
			Help: "Total number of chunk uploads skipped (storage off or session unresolved)",
		}),
		ChunkUploadBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lct_chunk_upload_bytes_total",
			Help: "Total bytes uploaded to chunk storage",
		}),

		FlushDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lct_flush_duration_seconds",
			Help:    "Time spent waiting for the final flush acknowledgment",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 11), // 10ms to ~10s
		}),
		FlushTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lct_flush_timeouts_total",
			Help: "Total number of final flushes that timed out",
		}),
	}
}

// RecordFrame records one captured frame forwarded to the provider path.
func (m *Metrics) RecordFrame(sizeBytes int) {
	if m == nil {
		return
	}
	m.FramesCaptured.Inc()
	m.AudioBytesSent.Add(float64(sizeBytes))
}

// RecordSessionStarted increments the session start counter.
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

// RecordSessionStopped increments the session stop counter.
func (m *Metrics) RecordSessionStopped() {
	if m == nil {
		return
	}
	m.SessionsStopped.Inc()
}

// RecordSessionFatal increments the fatal session counter.
func (m *Metrics) RecordSessionFatal() {
	if m == nil {
		return
	}
	m.SessionFatal.Inc()
}

// RecordSocketState records one channel state transition.
func (m *Metrics) RecordSocketState(channel, state string) {
	if m == nil {
		return
	}
	m.SocketStateChanges.WithLabelValues(channel, state).Inc()
}

// RecordTranscript records one transcript event by kind
// (transcript_partial or transcript_final).
func (m *Metrics) RecordTranscript(kind string) {
	if m == nil {
		return
	}
	m.Transcripts.WithLabelValues(kind).Inc()
}

// RecordChunkUpload records one settled chunk upload.
func (m *Metrics) RecordChunkUpload(sizeBytes int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ChunkUploadErrors.Inc()
		return
	}
	m.ChunkUploads.Inc()
	m.ChunkUploadBytes.Add(float64(sizeBytes))
}

// RecordChunkSkipped records one chunk upload skipped without network I/O.
func (m *Metrics) RecordChunkSkipped() {
	if m == nil {
		return
	}
	m.ChunkUploadSkipped.Inc()
}

// RecordFlush records the flush wait outcome.
func (m *Metrics) RecordFlush(durationSeconds float64, timedOut bool) {
	if m == nil {
		return
	}
	m.FlushDuration.Observe(durationSeconds)
	if timedOut {
		m.FlushTimeouts.Inc()
	}
}
