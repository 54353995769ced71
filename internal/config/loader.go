package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidVisionProviders lists the recognised vision backend names.
var ValidVisionProviders = []string{"openai", "gemini"}

// validTurnDetectionModes lists the recognised turn-detection modes.
var validTurnDetectionModes = []string{"server_vad", "manual"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment variable
// references in credential fields, and validates the result. Useful in tests
// where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	cfg.Realtime.APIKey = os.ExpandEnv(cfg.Realtime.APIKey)
	for i := range cfg.Vision.Providers {
		cfg.Vision.Providers[i].APIKey = os.ExpandEnv(cfg.Vision.Providers[i].APIKey)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Realtime
	if cfg.Realtime.APIKey == "" {
		errs = append(errs, fmt.Errorf("realtime.api_key is required"))
	}
	if cfg.Realtime.Model == "" {
		errs = append(errs, fmt.Errorf("realtime.model is required"))
	}
	if mode := cfg.Realtime.TurnDetection.Mode; mode != "" && !slices.Contains(validTurnDetectionModes, mode) {
		errs = append(errs, fmt.Errorf("realtime.turn_detection.mode %q is invalid; valid values: server_vad, manual", mode))
	}
	if th := cfg.Realtime.TurnDetection.Threshold; th < 0 || th > 1 {
		errs = append(errs, fmt.Errorf("realtime.turn_detection.threshold %.2f is out of range [0, 1]", th))
	}
	if cfg.Realtime.Reconnect.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("realtime.reconnect.max_attempts must not be negative"))
	}
	if base, max := cfg.Realtime.Reconnect.Base, cfg.Realtime.Reconnect.Max; base > 0 && max > 0 && base > max {
		errs = append(errs, fmt.Errorf("realtime.reconnect.base %v exceeds realtime.reconnect.max %v", base, max))
	}

	// Vision
	if len(cfg.Vision.Providers) == 0 {
		slog.Warn("no vision providers configured; vision queries will be answered with an apology")
	}
	seen := make(map[string]int, len(cfg.Vision.Providers))
	for i, p := range cfg.Vision.Providers {
		prefix := fmt.Sprintf("vision.providers[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if !slices.Contains(ValidVisionProviders, p.Name) {
			errs = append(errs, fmt.Errorf("%s.name %q is invalid; valid values: openai, gemini", prefix, p.Name))
		}
		if prev, ok := seen[p.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of vision.providers[%d]", prefix, p.Name, prev))
		}
		seen[p.Name] = i
		if p.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s.api_key is required", prefix))
		}
		if p.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", prefix))
		}
	}

	// Router
	if th := cfg.Router.DuplicateThreshold; th != 0 && (th <= 0 || th > 1) {
		errs = append(errs, fmt.Errorf("router.duplicate_threshold %.2f is out of range (0, 1]", th))
	}
	if cfg.Router.ProcessingTimeout < 0 {
		errs = append(errs, fmt.Errorf("router.processing_timeout must not be negative"))
	}

	return errors.Join(errs...)
}
