package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

// buildWAV constructs a minimal 16-bit mono PCM WAV file for tests.
func buildWAV(t *testing.T, samples []int16, sampleRate int) []byte {
	t.Helper()

	dataSize := uint32(len(samples) * 2)
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * 2),
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		t.Fatalf("Failed to write WAV header: %v", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		t.Fatalf("Failed to write WAV samples: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeWAV(t *testing.T) {
	raw := []int16{0, 16384, -16384, 32767, -32768}
	data := buildWAV(t, raw, 48000)

	samples, rate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if rate != 48000 {
		t.Errorf("Expected sample rate 48000, got %d", rate)
	}

	if len(samples) != len(raw) {
		t.Fatalf("Expected %d samples, got %d", len(raw), len(samples))
	}

	for i, v := range raw {
		want := float64(v) / 32768.0
		if math.Abs(float64(samples[i])-want) > 1e-6 {
			t.Errorf("Sample %d: expected %f, got %f", i, want, samples[i])
		}
	}
}

func TestDecodeWAVRejectsInvalid(t *testing.T) {
	valid := buildWAV(t, []int16{1, 2, 3}, 16000)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"too short", func(b []byte) []byte { return b[:20] }},
		{"bad riff", func(b []byte) []byte { b[0] = 'X'; return b }},
		{"bad wave", func(b []byte) []byte { b[8] = 'X'; return b }},
		{"non-pcm format", func(b []byte) []byte { b[20] = 3; return b }},
		{"stereo", func(b []byte) []byte { b[22] = 2; return b }},
		{"8-bit depth", func(b []byte) []byte { b[34] = 8; return b }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, len(valid))
			copy(data, valid)
			if _, _, err := DecodeWAV(tt.mutate(data)); err == nil {
				t.Error("Expected decode error, got nil")
			}
		})
	}
}
