// Package config provides configuration loading and validation for the
// transcription streamer. It handles YAML-based configuration with
// per-section struct validation.
package config
