package capture

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/anantham/live-conversational-threads-sub003/internal/audio"
)

// FrameFunc receives one canonical PCM frame per captured block, in
// production order. The engine calls it from a single goroutine.
type FrameFunc func(pcm []byte)

// Engine drives a capture source: it reads native-rate sample blocks,
// downsamples them to the canonical rate, converts them to 16-bit PCM,
// and emits each frame through the frame callback.
type Engine struct {
	source     Source
	targetRate int
	onFrame    FrameFunc
	logger     *slog.Logger

	mu      sync.Mutex
	running bool
	stopped bool
	done    chan struct{}
	wg      sync.WaitGroup

	framesEmitted uint64
}

// NewEngine creates an engine over source. Frames are delivered at
// targetRate (the canonical 16 kHz when zero).
func NewEngine(source Source, targetRate int, onFrame FrameFunc, logger *slog.Logger) *Engine {
	if targetRate <= 0 {
		targetRate = audio.CanonicalSampleRate
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		source:     source,
		targetRate: targetRate,
		onFrame:    onFrame,
		logger:     logger,
	}
}

// Start validates the source rate and begins frame production. A device
// rate below the target rate fails with *audio.UnsupportedRateError
// because upsampling is not supported; capture does not start.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return errors.New("capture already running")
	}
	if e.stopped {
		return errors.New("capture engine already stopped")
	}

	nativeRate := e.source.SampleRate()
	if nativeRate < e.targetRate {
		return fmt.Errorf("capture start failed: %w",
			&audio.UnsupportedRateError{InputRate: nativeRate, OutputRate: e.targetRate})
	}

	e.running = true
	e.done = make(chan struct{})
	e.wg.Add(1)
	go e.produceLoop(nativeRate)

	e.logger.Info("Audio capture started",
		slog.Int("native_rate_hz", nativeRate),
		slog.Int("target_rate_hz", e.targetRate),
	)

	return nil
}

// produceLoop reads blocks until the source is exhausted or Stop is
// called. Frames are emitted synchronously so ordering is inherent.
func (e *Engine) produceLoop(nativeRate int) {
	defer e.wg.Done()

	for {
		select {
		case <-e.done:
			return
		default:
		}

		block, err := e.source.ReadBlock()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.logger.Warn("Capture source read failed", slog.String("error", err.Error()))
			}
			return
		}
		if len(block) == 0 {
			continue
		}

		down, err := audio.Downsample(block, nativeRate, e.targetRate)
		if err != nil {
			// Rate was validated at start; a failure here means the
			// block itself is unusable. Drop it and continue.
			e.logger.Warn("Dropping unprocessable capture block", slog.String("error", err.Error()))
			continue
		}
		if len(down) == 0 {
			continue
		}

		e.mu.Lock()
		e.framesEmitted++
		e.mu.Unlock()

		e.onFrame(audio.EncodePCM16(down))
	}
}

// Stop performs scoped teardown: it halts the producer, waits for it to
// exit, then closes the source. Every step runs even if an earlier one
// fails; errors are logged, never returned. Stop is idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	wasRunning := e.running
	e.running = false
	done := e.done
	e.mu.Unlock()

	if wasRunning && done != nil {
		close(done)
	}

	// Closing the source first unblocks a producer stuck in ReadBlock.
	if err := e.source.Close(); err != nil {
		e.logger.Warn("Error closing capture source", slog.String("error", err.Error()))
	}

	e.wg.Wait()

	e.mu.Lock()
	frames := e.framesEmitted
	e.mu.Unlock()

	e.logger.Info("Audio capture stopped", slog.Uint64("frames_emitted", frames))
}

// FramesEmitted reports how many frames the engine has produced.
func (e *Engine) FramesEmitted() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.framesEmitted
}
