// Package audio implements PCM encoding for the capture pipeline.
// It handles box-filter downsampling to the canonical 16 kHz rate,
// float-to-int16 conversion with asymmetric scaling, and WAV decoding
// for file-backed capture sources.
package audio
