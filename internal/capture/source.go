package capture

import (
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/anantham/live-conversational-threads-sub003/internal/audio"
)

// Source abstracts the platform microphone. It delivers fixed-size blocks
// of float samples at the device's native rate. Implementations are owned
// exclusively by one Engine at a time.
type Source interface {
	// SampleRate returns the device's native sample rate in Hz.
	SampleRate() int

	// ReadBlock returns the next block of samples in [-1, 1], blocking
	// until one is available. It returns io.EOF when the source is
	// exhausted or closed.
	ReadBlock() ([]float32, error)

	// Close releases the underlying device or file.
	Close() error
}

// WAVFileSource replays a 16-bit mono WAV recording as a capture source.
type WAVFileSource struct {
	samples    []float32
	sampleRate int
	blockSize  int

	mu     sync.Mutex
	offset int
	closed bool
}

// NewWAVFileSource decodes path and serves its samples in blocks of
// blockSize at the file's native rate.
func NewWAVFileSource(path string, blockSize int) (*WAVFileSource, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("block size must be positive, got %d", blockSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV file %s: %w", path, err)
	}

	samples, rate, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode WAV file %s: %w", path, err)
	}

	return &WAVFileSource{
		samples:    samples,
		sampleRate: rate,
		blockSize:  blockSize,
	}, nil
}

// SampleRate returns the WAV file's native sample rate.
func (s *WAVFileSource) SampleRate() int {
	return s.sampleRate
}

// ReadBlock returns the next block of decoded samples, io.EOF at the end.
func (s *WAVFileSource) ReadBlock() ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.offset >= len(s.samples) {
		return nil, io.EOF
	}

	end := s.offset + s.blockSize
	if end > len(s.samples) {
		end = len(s.samples)
	}

	block := make([]float32, end-s.offset)
	copy(block, s.samples[s.offset:end])
	s.offset = end

	return block, nil
}

// Close marks the source exhausted.
func (s *WAVFileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ToneSource generates a continuous sine wave. It stands in for a live
// microphone in demos and tests, and paces block delivery to real time
// the way a capture device would.
type ToneSource struct {
	frequency  float64
	sampleRate int
	blockSize  int

	mu     sync.Mutex
	phase  int
	closed bool
}

// NewToneSource creates a sine generator at the given frequency and rate.
func NewToneSource(frequency float64, sampleRate, blockSize int) *ToneSource {
	return &ToneSource{
		frequency:  frequency,
		sampleRate: sampleRate,
		blockSize:  blockSize,
	}
}

// SampleRate returns the generator's native rate.
func (s *ToneSource) SampleRate() int {
	return s.sampleRate
}

// ReadBlock synthesizes the next block of the sine wave, sleeping for the
// block's real-time duration first.
func (s *ToneSource) ReadBlock() ([]float32, error) {
	time.Sleep(time.Duration(s.blockSize) * time.Second / time.Duration(s.sampleRate))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, io.EOF
	}

	block := make([]float32, s.blockSize)
	for i := range block {
		block[i] = 0.5 * float32(math.Sin(2*math.Pi*s.frequency*float64(s.phase+i)/float64(s.sampleRate)))
	}
	s.phase += s.blockSize

	return block, nil
}

// Close stops the generator; subsequent reads return io.EOF.
func (s *ToneSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
