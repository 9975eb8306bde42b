package audio

import (
	"fmt"
	"math"
)

// CanonicalSampleRate is the sample rate every frame is normalized to
// before it leaves the capture engine.
const CanonicalSampleRate = 16000

// UnsupportedRateError indicates a downsampling request where the input
// rate is below the output rate. Upsampling is not supported.
type UnsupportedRateError struct {
	InputRate  int
	OutputRate int
}

func (e *UnsupportedRateError) Error() string {
	return fmt.Sprintf("unsupported rate conversion: input %d Hz is below output %d Hz (upsampling not supported)", e.InputRate, e.OutputRate)
}

// Downsample reduces samples from inputRate to outputRate using box-filter
// decimation: each output sample is the average of all input samples whose
// time range maps to it. The result is deterministic for identical input.
// When the rates are equal the input is copied unchanged. An inputRate
// below outputRate fails with *UnsupportedRateError.
func Downsample(samples []float32, inputRate, outputRate int) ([]float32, error) {
	if inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("sample rates must be positive, got input=%d output=%d", inputRate, outputRate)
	}

	if inputRate < outputRate {
		return nil, &UnsupportedRateError{InputRate: inputRate, OutputRate: outputRate}
	}

	if inputRate == outputRate {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}

	if len(samples) == 0 {
		return []float32{}, nil
	}

	ratio := float64(inputRate) / float64(outputRate)
	outLen := int(math.Round(float64(len(samples)) / ratio))
	if outLen == 0 {
		return []float32{}, nil
	}

	out := make([]float32, outLen)
	for i := 0; i < outLen; i++ {
		start := int(float64(i) * ratio)
		end := int(float64(i+1) * ratio)
		if end > len(samples) {
			end = len(samples)
		}
		if start >= end {
			// Degenerate window at the tail, fall back to a single sample
			start = end - 1
		}

		var sum float64
		for j := start; j < end; j++ {
			sum += float64(samples[j])
		}
		out[i] = float32(sum / float64(end-start))
	}

	return out, nil
}

// EncodePCM16 converts float samples to signed 16-bit little-endian PCM.
// Samples are clamped to [-1, 1] and scaled asymmetrically (0x8000 for
// negative values, 0x7FFF for non-negative) to match the signed-16 range
// exactly.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s < -1 {
			s = -1
		} else if s > 1 {
			s = 1
		}

		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7FFF)
		}

		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DecodePCM16 converts little-endian 16-bit PCM bytes back to samples.
// A trailing odd byte is ignored.
func DecodePCM16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}
