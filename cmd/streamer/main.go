package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anantham/live-conversational-threads-sub003/internal/capture"
	"github.com/anantham/live-conversational-threads-sub003/internal/config"
	"github.com/anantham/live-conversational-threads-sub003/internal/dispatch"
	"github.com/anantham/live-conversational-threads-sub003/internal/metrics"
	"github.com/anantham/live-conversational-threads-sub003/internal/session"
	"github.com/anantham/live-conversational-threads-sub003/internal/uploader"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "lct-streamer"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Secrets come from the environment; .env is optional for local runs
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("provider", cfg.Session.Provider),
		slog.String("backend_url", cfg.Session.BackendURL),
		slog.String("transport", cfg.Session.Transport),
		slog.Bool("store_audio", cfg.Session.StoreAudio),
		slog.Int("sample_rate_hz", cfg.Session.SampleRate),
		slog.Duration("flush_timeout", cfg.Session.GetFlushTimeoutDuration()),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Address, mux); err != nil {
				logger.Error("Metrics endpoint failed", slog.String("error", err.Error()))
			}
		}()
		logger.Info("Prometheus metrics endpoint started", slog.String("address", cfg.Metrics.Address))
	}

	// The provider key never lives in the config file
	providerHeader := http.Header{}
	if key := os.Getenv("PROVIDER_API_KEY"); key != "" {
		providerHeader.Set("Authorization", "Token "+key)
	}

	controller := session.NewController(session.Config{
		Provider:       cfg.Session.Provider,
		ProviderURL:    cfg.Session.ProviderURL,
		ProviderHeader: providerHeader,
		BackendURL:     cfg.Session.BackendURL,
		Transport:      session.Transport(cfg.Session.Transport),
		StoreAudio:     cfg.Session.StoreAudio,
		LocalOnly:      cfg.Session.LocalOnly,
		SpeakerID:      cfg.Session.SpeakerID,
		SampleRateHz:   cfg.Session.SampleRate,
		FlushTimeout:   cfg.Session.GetFlushTimeoutDuration(),
		Upload: uploader.Config{
			BaseURL:          cfg.Upload.BaseURL,
			ChunkEndpoint:    cfg.Upload.ChunkEndpoint,
			CompleteEndpoint: cfg.Upload.CompleteEndpoint,
			Timeout:          cfg.Upload.GetTimeoutDuration(),
		},
	}, logger, appMetrics, session.Callbacks{
		OnTranscript: func(text, eventType string) {
			logger.Info("Transcript", slog.String("kind", eventType), slog.String("text", text))
		},
		OnProviderState: func(state dispatch.ProviderState, detail string) {
			logger.Info("Provider state changed",
				slog.String("state", string(state)),
				slog.String("detail", detail))
		},
		OnStatus: func(level, message string) {
			logger.Info("Processing status", slog.String("level", level), slog.String("message", message))
		},
		OnError: func(err error) {
			logger.Error("Session error", slog.String("error", err.Error()))
		},
		OnFatal: func(err error) {
			logger.Error("Session failed, start a new one to continue", slog.String("error", err.Error()))
		},
	}, newSourceFactory(cfg.Capture))
	defer controller.Close()

	controller.StartSession(ctx)
	if !controller.Active() {
		logger.Error("Session did not start, exiting")
		os.Exit(1)
	}
	logger.Info("Session running", slog.String("session_id", controller.SessionID()))

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	controller.StopSession(stopCtx)

	snapshot := controller.Telemetry()
	logger.Info("Final session telemetry",
		slog.Int64("audio_send_started_at_ms", snapshot.AudioSendStartedAtMs),
		slog.Int64("first_partial_at_ms", snapshot.FirstPartialAtMs),
		slog.Int64("first_final_at_ms", snapshot.FirstFinalAtMs),
	)

	logger.Info("Service stopped")
}

// newSourceFactory builds capture sources from configuration: a WAV file
// replay when input_wav is set, a paced tone generator otherwise.
func newSourceFactory(cfg config.CaptureConfig) session.SourceFactory {
	return func() (capture.Source, error) {
		if cfg.InputWAV != "" {
			return capture.NewWAVFileSource(cfg.InputWAV, cfg.BlockSize)
		}
		return capture.NewToneSource(cfg.ToneHz, cfg.SourceRate, cfg.BlockSize), nil
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
