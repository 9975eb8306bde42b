package capture

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/anantham/live-conversational-threads-sub003/internal/audio"
)

// scriptedSource serves a fixed number of blocks, then io.EOF.
type scriptedSource struct {
	rate   int
	blocks [][]float32

	mu     sync.Mutex
	next   int
	closed bool
}

func (s *scriptedSource) SampleRate() int { return s.rate }

func (s *scriptedSource) ReadBlock() ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.next >= len(s.blocks) {
		return nil, io.EOF
	}
	block := s.blocks[s.next]
	s.next++
	return block, nil
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptedSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func makeBlocks(n, size int) [][]float32 {
	blocks := make([][]float32, n)
	for i := range blocks {
		block := make([]float32, size)
		for j := range block {
			block[j] = float32(i+1) / 10
		}
		blocks[i] = block
	}
	return blocks
}

func TestEngineEmitsFramesInOrder(t *testing.T) {
	source := &scriptedSource{rate: 48000, blocks: makeBlocks(5, 480)}

	var mu sync.Mutex
	var frames [][]byte
	done := make(chan struct{})

	engine := NewEngine(source, 16000, func(pcm []byte) {
		mu.Lock()
		frames = append(frames, pcm)
		if len(frames) == 5 {
			close(done)
		}
		mu.Unlock()
	}, nil)

	if err := engine.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer engine.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for frames")
	}

	mu.Lock()
	defer mu.Unlock()

	for i, frame := range frames {
		// 480 input samples at 3:1 decimation -> 160 samples -> 320 bytes
		if len(frame) != 320 {
			t.Errorf("Frame %d: expected 320 bytes, got %d", i, len(frame))
		}

		// Each block carries a distinct constant amplitude, so order
		// is observable in the decoded frames.
		samples := audio.DecodePCM16(frame)
		want := int16(float32(i+1) / 10 * 0x7FFF)
		if samples[0] != want {
			t.Errorf("Frame %d: expected leading sample %d, got %d", i, want, samples[0])
		}
	}
}

func TestEngineRejectsLowRateSource(t *testing.T) {
	source := &scriptedSource{rate: 8000, blocks: makeBlocks(1, 80)}
	engine := NewEngine(source, 16000, func([]byte) {
		t.Error("Frame emitted despite unsupported rate")
	}, nil)

	err := engine.Start()
	if err == nil {
		t.Fatal("Expected start to fail for 8 kHz source")
	}

	var rateErr *audio.UnsupportedRateError
	if !errors.As(err, &rateErr) {
		t.Fatalf("Expected *audio.UnsupportedRateError, got %T: %v", err, err)
	}
}

func TestEngineStopClosesSource(t *testing.T) {
	source := &scriptedSource{rate: 16000, blocks: makeBlocks(1000, 160)}
	engine := NewEngine(source, 16000, func([]byte) {}, nil)

	if err := engine.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	engine.Stop()
	if !source.isClosed() {
		t.Error("Expected source to be closed after Stop")
	}

	// Idempotent: a second stop must not panic or block.
	engine.Stop()
}

func TestEngineStopWithoutStart(t *testing.T) {
	source := &scriptedSource{rate: 16000}
	engine := NewEngine(source, 16000, func([]byte) {}, nil)

	engine.Stop()
	if !source.isClosed() {
		t.Error("Expected source to be closed even when capture never started")
	}
}
