// Package config provides the configuration schema and loader for the
// Talkwire call server.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s"
// or "1m30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// LogLevel controls log verbosity for the Talkwire server.
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

// Config is the root configuration structure for Talkwire.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	Database    DatabaseConfig    `yaml:"database"`
	Presence    PresenceConfig    `yaml:"presence"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Analysis    AnalysisConfig    `yaml:"analysis"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AuthConfig holds session token settings.
type AuthConfig struct {
	// TokenSecret is the HMAC signing key for session tokens. Required.
	TokenSecret string `yaml:"token_secret"`

	// TokenTTL bounds how long an issued token stays valid. Zero means the
	// authenticator's default.
	TokenTTL Duration `yaml:"token_ttl"`
}

// DatabaseConfig holds the durable store settings.
type DatabaseConfig struct {
	// PostgresDSN is the connection string for the Postgres store. Required.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// PresenceConfig tunes the presence channel heartbeat.
type PresenceConfig struct {
	// HeartbeatInterval is how often the server pings each presence
	// connection. Zero means the handler's default.
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`

	// HeartbeatTimeout is how long a client may stay silent before the
	// connection is considered dead. Zero means the handler's default.
	HeartbeatTimeout Duration `yaml:"heartbeat_timeout"`

	// SendQueue bounds each connection's outbound event buffer.
	SendQueue int `yaml:"send_queue"`
}

// TranscriberConfig selects and tunes the STT backend.
type TranscriberConfig struct {
	// APIKey authenticates against the transcription provider. Required
	// for live transcription.
	APIKey string `yaml:"api_key"`

	// SampleRate is the audio sample rate in Hz clients stream at.
	SampleRate int `yaml:"sample_rate"`

	// Language is the BCP-47 recognition language tag.
	Language string `yaml:"language"`

	// QueueSize bounds the per-call audio queue feeding the provider.
	QueueSize int `yaml:"queue_size"`
}

// AnalysisConfig selects and tunes the post-call analysis backend.
type AnalysisConfig struct {
	// Provider selects the backend: "openrouter" (default) or any name
	// supported by the anyllm wrapper ("openai", "anthropic", "gemini",
	// "ollama", "mistral").
	Provider string `yaml:"provider"`

	// APIKey authenticates against the analysis provider.
	APIKey string `yaml:"api_key"`

	// Model overrides the backend's default analysis model.
	Model string `yaml:"model"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`
}
