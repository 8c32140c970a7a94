// Package config provides the configuration schema, loader, and reply
// provider registry for the simchat server.
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

// Level converts l to the matching [slog.Level]. Unknown values map to info.
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

// Defaults applied by [LoadFromReader] to fields left empty.
const (
	DefaultListenAddr = ":8080"
	DefaultLogLevel   = LogInfo
)

// DefaultSurfaces are the widget surfaces served when none are configured:
// the inline chat panel and the modal dialog.
var DefaultSurfaces = []string{"inline", "modal"}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Playback   PlaybackConfig   `yaml:"playback"`
	Widget     WidgetConfig     `yaml:"widget"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists extra hosts allowed to open WebSockets from a
	// browser (e.g., "www.example.com").
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the reply sources. Reply is tried first; Fallbacks
// are tried in order while earlier sources fail.
type ProvidersConfig struct {
	Reply     ProviderEntry   `yaml:"reply"`
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// ProviderEntry is the configuration block of one reply source.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "webhook").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL is the webhook endpoint for "webhook", or overrides the API
	// endpoint of model-backed providers.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// ResilienceConfig tunes the per-source circuit breakers. Zero values use
// the breaker defaults.
type ResilienceConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// PlaybackConfig controls the reply reveal.
type PlaybackConfig struct {
	// TypingDelay is the pause before each reply chunk. Zero uses the
	// playback default of 1.8s.
	TypingDelay time.Duration `yaml:"typing_delay"`
}

// WidgetConfig holds the visitor-facing texts and the served surfaces.
type WidgetConfig struct {
	// Greeting is the assistant's opening Turn. Nil uses the built-in
	// greeting; an empty string disables it.
	Greeting *string `yaml:"greeting"`

	// Acknowledgement is revealed when the reply source answers without
	// text. Empty uses the built-in acknowledgement.
	Acknowledgement string `yaml:"acknowledgement"`

	// Apology is revealed when the reply round trip fails. Empty uses the
	// built-in apology.
	Apology string `yaml:"apology"`

	// Surfaces names the independent conversations to serve.
	Surfaces []string `yaml:"surfaces"`

	// DispatchTimeout bounds one reply round trip. Zero means no timeout.
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`
}
