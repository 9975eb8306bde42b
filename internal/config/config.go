package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete streamer configuration
type Config struct {
	Session SessionConfig `yaml:"session"`
	Upload  UploadConfig  `yaml:"upload"`
	Capture CaptureConfig `yaml:"capture"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// SessionConfig contains transcription session configuration
type SessionConfig struct {
	Provider     string `yaml:"provider"`
	ProviderURL  string `yaml:"provider_url"`
	BackendURL   string `yaml:"backend_url"`
	Transport    string `yaml:"transport"` // dual or single
	StoreAudio   bool   `yaml:"store_audio"`
	LocalOnly    bool   `yaml:"local_only"`
	SpeakerID    string `yaml:"speaker_id"`
	SampleRate   int    `yaml:"sample_rate_hz"`
	FlushTimeout int    `yaml:"flush_timeout"` // seconds
}

// UploadConfig contains chunk storage configuration
type UploadConfig struct {
	BaseURL          string `yaml:"base_url"`
	ChunkEndpoint    string `yaml:"chunk_endpoint"`
	CompleteEndpoint string `yaml:"complete_endpoint"`
	Timeout          int    `yaml:"timeout"` // seconds, 0 disables the per-request bound
}

// CaptureConfig selects and parameterizes the audio source
type CaptureConfig struct {
	InputWAV   string  `yaml:"input_wav"` // empty means generate a tone
	ToneHz     float64 `yaml:"tone_hz"`
	SourceRate int     `yaml:"source_rate"`
	BlockSize  int     `yaml:"block_size"` // samples per block
}

// MetricsConfig contains the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Upload.Validate(); err != nil {
		return fmt.Errorf("upload config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.BackendURL == "" {
		return fmt.Errorf("backend_url cannot be empty")
	}

	if s.Transport != "dual" && s.Transport != "single" {
		return fmt.Errorf("transport must be 'dual' or 'single', got '%s'", s.Transport)
	}

	if s.Transport == "dual" && s.ProviderURL == "" {
		return fmt.Errorf("provider_url cannot be empty with dual transport")
	}

	if s.SampleRate != 16000 {
		return fmt.Errorf("sample_rate_hz must be 16000 for transcription providers, got %d", s.SampleRate)
	}

	if s.FlushTimeout < 1 {
		return fmt.Errorf("flush_timeout must be at least 1 second, got %d", s.FlushTimeout)
	}

	return nil
}

// Validate validates upload configuration
func (u *UploadConfig) Validate() error {
	if u.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	if u.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative, got %d", u.Timeout)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if c.InputWAV == "" {
		if c.ToneHz <= 0 {
			return fmt.Errorf("tone_hz must be positive when no input_wav is set, got %f", c.ToneHz)
		}

		if c.SourceRate < 8000 {
			return fmt.Errorf("source_rate must be at least 8000 Hz, got %d", c.SourceRate)
		}
	}

	if c.BlockSize < 64 || c.BlockSize > 65536 {
		return fmt.Errorf("block_size must be between 64 and 65536 samples, got %d", c.BlockSize)
	}

	return nil
}

// Validate validates metrics configuration
func (m *MetricsConfig) Validate() error {
	if m.Enabled && m.Address == "" {
		return fmt.Errorf("address cannot be empty when metrics are enabled")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetFlushTimeoutDuration returns the flush timeout as a time.Duration
func (s *SessionConfig) GetFlushTimeoutDuration() time.Duration {
	return time.Duration(s.FlushTimeout) * time.Second
}

// GetTimeoutDuration returns the upload timeout as a time.Duration
func (u *UploadConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(u.Timeout) * time.Second
}
