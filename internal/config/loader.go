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

// validAnalysisProviders lists the recognised analysis backend names.
// Used by [Validate] to warn about likely typos.
var validAnalysisProviders = []string{"openrouter", "openai", "anthropic", "gemini", "ollama", "mistral"}

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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.Auth.TokenSecret == "" {
		errs = append(errs, errors.New("auth.token_secret is required"))
	}
	if cfg.Auth.TokenTTL < 0 {
		errs = append(errs, fmt.Errorf("auth.token_ttl %s must not be negative", cfg.Auth.TokenTTL))
	}

	if cfg.Database.PostgresDSN == "" {
		errs = append(errs, errors.New("database.postgres_dsn is required"))
	}

	if cfg.Presence.HeartbeatInterval < 0 || cfg.Presence.HeartbeatTimeout < 0 {
		errs = append(errs, errors.New("presence heartbeat settings must not be negative"))
	}
	if cfg.Presence.HeartbeatInterval > 0 && cfg.Presence.HeartbeatTimeout > 0 &&
		cfg.Presence.HeartbeatTimeout <= cfg.Presence.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("presence.heartbeat_timeout %s must exceed heartbeat_interval %s",
			cfg.Presence.HeartbeatTimeout, cfg.Presence.HeartbeatInterval))
	}

	if cfg.Transcriber.APIKey == "" {
		slog.Warn("transcriber.api_key is empty; live transcription will be unavailable")
	}
	if cfg.Transcriber.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("transcriber.sample_rate %d must not be negative", cfg.Transcriber.SampleRate))
	}

	if cfg.Analysis.Provider != "" && !slices.Contains(validAnalysisProviders, cfg.Analysis.Provider) {
		slog.Warn("unknown analysis provider, may be a typo",
			"name", cfg.Analysis.Provider,
			"known", validAnalysisProviders,
		)
	}
	if cfg.Analysis.APIKey == "" && cfg.Analysis.Provider != "ollama" {
		slog.Warn("analysis.api_key is empty; post-call analysis will be unavailable")
	}

	return errors.Join(errs...)
}
