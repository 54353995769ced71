// Package config provides the configuration schema, loader, and hot-reload
// watcher for the voice+vision client.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to its slog equivalent. Unknown values map to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Vision   VisionConfig   `yaml:"vision"`
	Router   RouterConfig   `yaml:"router"`
}

// ServerConfig holds the observability endpoint and logging settings.
type ServerConfig struct {
	// MetricsAddr is the TCP address the metrics/health HTTP server listens
	// on (e.g., ":9090"). Empty disables the server.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// RealtimeConfig configures the streaming voice connection.
type RealtimeConfig struct {
	// APIKey authenticates against the streaming endpoint. Environment
	// variable references (e.g., "${OPENAI_API_KEY}") are expanded on load.
	APIKey string `yaml:"api_key"`

	// URL is the WebSocket endpoint. Empty uses the provider default.
	URL string `yaml:"url"`

	// Model selects the speech model.
	Model string `yaml:"model"`

	// Voice is the synthesised-speech voice identifier.
	Voice string `yaml:"voice"`

	// Instructions is the system prompt for the session.
	Instructions string `yaml:"instructions"`

	// Modalities selects the response channels. Default: ["text", "audio"].
	Modalities []string `yaml:"modalities"`

	// TranscriptionModel enables peer-side transcription of user speech.
	TranscriptionModel string `yaml:"transcription_model"`

	// TurnDetection configures end-of-utterance detection.
	TurnDetection TurnDetectionConfig `yaml:"turn_detection"`

	// Reconnect tunes the automatic reconnection policy.
	Reconnect ReconnectConfig `yaml:"reconnect"`

	// ConnectTimeout bounds a single dial attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// KeepaliveInterval is the ping cadence while connected.
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
}

// TurnDetectionConfig mirrors the peer-side voice-activity detector knobs.
type TurnDetectionConfig struct {
	// Mode is "server_vad" (peer detects end of utterance) or "manual"
	// (push-to-talk; the client commits turns explicitly).
	Mode string `yaml:"mode"`

	// Threshold is the speech-detection sensitivity (0.0 to 1.0).
	Threshold float64 `yaml:"threshold"`

	// PrefixPaddingMs is the leading audio window included before speech.
	PrefixPaddingMs int `yaml:"prefix_padding_ms"`

	// SilenceDurationMs is the trailing silence that ends an utterance.
	SilenceDurationMs int `yaml:"silence_duration_ms"`
}

// ReconnectConfig tunes the exponential-backoff reconnection policy.
type ReconnectConfig struct {
	// Base is the delay before the first reconnection attempt.
	Base time.Duration `yaml:"base"`

	// Max caps the backoff delay.
	Max time.Duration `yaml:"max"`

	// MaxAttempts is the number of consecutive failures before giving up.
	MaxAttempts int `yaml:"max_attempts"`
}

// VisionConfig configures the one-shot image-analysis path.
type VisionConfig struct {
	// Providers lists the analysis backends in failover order; the first
	// entry is the primary.
	Providers []VisionProviderEntry `yaml:"providers"`

	// Timeout bounds one vision query including all failover attempts.
	Timeout time.Duration `yaml:"timeout"`

	// Breaker tunes the per-provider circuit breaker.
	Breaker BreakerConfig `yaml:"breaker"`
}

// VisionProviderEntry selects and configures one analysis backend.
type VisionProviderEntry struct {
	// Name selects the implementation: "openai" or "gemini".
	Name string `yaml:"name"`

	// APIKey authenticates against the backend. Environment variable
	// references are expanded on load.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model (e.g., "gpt-4o-mini", "gemini-2.0-flash").
	Model string `yaml:"model"`
}

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// RouterConfig configures the hybrid voice/vision router.
type RouterConfig struct {
	// Language selects the keyword set for vision-intent classification and
	// the apology text (ISO 639-1, e.g. "en"). Default: "en".
	Language string `yaml:"language"`

	// VisionKeywords overrides the built-in per-language keyword patterns.
	// Keys are language codes; values are regular expressions matched against
	// the user transcript.
	VisionKeywords map[string][]string `yaml:"vision_keywords"`

	// Apologies overrides the built-in per-language spoken apology used when
	// a query fails. Keys are language codes.
	Apologies map[string]string `yaml:"apologies"`

	// ProcessingTimeout bounds how long the router waits in the processing
	// state before apologising. Default: 30s.
	ProcessingTimeout time.Duration `yaml:"processing_timeout"`

	// DuplicateThreshold is the Jaro-Winkler similarity above which an
	// utterance heard during playback is treated as an echo of the
	// assistant's own speech and dropped. Range (0, 1]. Default: 0.9.
	DuplicateThreshold float64 `yaml:"duplicate_threshold"`
}
