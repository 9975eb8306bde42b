package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/anantham/live-conversational-threads-sub003/internal/metrics"
)

// Default endpoint path templates; {conversation_id} is substituted per
// task.
const (
	DefaultChunkEndpoint    = "/api/conversations/{conversation_id}/audio/chunk"
	DefaultCompleteEndpoint = "/api/conversations/{conversation_id}/audio/complete"
)

// Config contains chunk storage configuration.
type Config struct {
	// BaseURL is the backend HTTP origin, e.g. "http://localhost:8000".
	BaseURL string

	// ChunkEndpoint and CompleteEndpoint are path templates containing
	// the {conversation_id} placeholder.
	ChunkEndpoint    string
	CompleteEndpoint string

	// Timeout bounds a single HTTP request. Zero means no per-request
	// bound; only the caller's drain context limits total wait.
	Timeout time.Duration
}

// task is one pending chunk upload. Session identity and the storage
// flag are bound at enqueue time.
type task struct {
	data           []byte
	sessionID      string
	conversationID string
	store          bool
}

// Queue uploads audio chunks strictly sequentially: task n+1 never
// begins network I/O before task n has settled. A failed upload is
// logged and swallowed; it never aborts later tasks.
type Queue struct {
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	client  *http.Client

	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []task
	pending int
	closed  bool
	done    chan struct{}
}

// NewQueue creates a queue and starts its worker.
func NewQueue(config Config, logger *slog.Logger, m *metrics.Metrics) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if config.ChunkEndpoint == "" {
		config.ChunkEndpoint = DefaultChunkEndpoint
	}
	if config.CompleteEndpoint == "" {
		config.CompleteEndpoint = DefaultCompleteEndpoint
	}

	q := &Queue{
		config:  config,
		logger:  logger,
		metrics: m,
		client:  &http.Client{Timeout: config.Timeout},
		done:    make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)

	go q.worker()

	return q
}

// Enqueue appends one chunk upload without blocking. The chunk is bound
// to the given session identity; when store is false or the identity is
// unresolved the task settles immediately with no network I/O.
func (q *Queue) Enqueue(data []byte, sessionID, conversationID string, store bool) {
	chunk := make([]byte, len(data))
	copy(chunk, data)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.logger.Warn("Chunk enqueued after queue close, dropping",
			slog.Int("size_bytes", len(data)),
		)
		return
	}

	q.tasks = append(q.tasks, task{
		data:           chunk,
		sessionID:      sessionID,
		conversationID: conversationID,
		store:          store,
	})
	q.pending++
	q.cond.Signal()
}

// Pending reports how many tasks have not yet settled.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Drain blocks until every task enqueued so far has settled (success,
// failure, or skip). It is bounded only by ctx.
func (q *Queue) Drain(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("upload queue drain interrupted with %d tasks pending: %w", q.pending, err)
		}
		q.cond.Wait()
	}
	return nil
}

// Close stops the worker after the already-queued tasks settle. Further
// enqueues are dropped.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	<-q.done
}

// worker settles tasks one at a time, in enqueue order.
func (q *Queue) worker() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.tasks) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		t := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		q.settle(t)

		q.mu.Lock()
		q.pending--
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

// settle performs or skips one upload. Outcomes are fire-and-forget:
// errors are logged, never retried, never propagated.
func (q *Queue) settle(t task) {
	if !t.store || t.sessionID == "" || t.conversationID == "" {
		q.metrics.RecordChunkSkipped()
		return
	}

	if err := q.uploadChunk(t); err != nil {
		q.metrics.RecordChunkUpload(len(t.data), err)
		q.logger.Warn("Chunk upload failed",
			slog.String("session_id", t.sessionID),
			slog.String("conversation_id", t.conversationID),
			slog.Int("size_bytes", len(t.data)),
			slog.String("error", err.Error()),
		)
		return
	}

	q.metrics.RecordChunkUpload(len(t.data), nil)
}

func (q *Queue) uploadChunk(t task) error {
	endpoint := q.endpointURL(q.config.ChunkEndpoint, t.conversationID, t.sessionID)

	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(t.data))
	if err != nil {
		return fmt.Errorf("failed to create chunk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("chunk request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("chunk upload returned HTTP %d", resp.StatusCode)
	}

	return nil
}

// CompleteResponse is the storage finalize result.
type CompleteResponse struct {
	DownloadURL string `json:"download_url"`
}

// Complete finalizes the stored recording for a conversation. The
// optional download URL in the response is returned for surfacing to the
// user.
func (q *Queue) Complete(ctx context.Context, sessionID, conversationID string) (string, error) {
	if sessionID == "" || conversationID == "" {
		return "", fmt.Errorf("cannot finalize storage without session and conversation ids")
	}

	endpoint := q.endpointURL(q.config.CompleteEndpoint, conversationID, sessionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create complete request: %w", err)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("complete request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read complete response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("complete returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	var completed CompleteResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &completed); err != nil {
			// A missing or non-JSON body is still a successful finalize.
			q.logger.Debug("Complete response not parseable", slog.String("error", err.Error()))
		}
	}

	return completed.DownloadURL, nil
}

func (q *Queue) endpointURL(template, conversationID, sessionID string) string {
	path := strings.ReplaceAll(template, "{conversation_id}", url.PathEscape(conversationID))
	return fmt.Sprintf("%s%s?session_id=%s",
		strings.TrimRight(q.config.BaseURL, "/"), path, url.QueryEscape(sessionID))
}
