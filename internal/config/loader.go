package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the reply providers built into the server.
// [Validate] warns about names outside this list.
var ValidProviderNames = []string{"webhook", "openai", "anyllm", "static"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, fills in defaults, and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills empty server and widget fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}
	if len(cfg.Widget.Surfaces) == 0 {
		cfg.Widget.Surfaces = slices.Clone(DefaultSurfaces)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "") != (tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.Reply.Name == "" {
		errs = append(errs, errors.New("providers.reply.name is required"))
	}
	errs = append(errs, validateEntry("providers.reply", cfg.Providers.Reply)...)
	for i, fb := range cfg.Providers.Fallbacks {
		prefix := fmt.Sprintf("providers.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		errs = append(errs, validateEntry(prefix, fb)...)
	}

	// Resilience
	if cfg.Resilience.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("resilience.max_failures %d must not be negative", cfg.Resilience.MaxFailures))
	}
	if cfg.Resilience.HalfOpenMax < 0 {
		errs = append(errs, fmt.Errorf("resilience.half_open_max %d must not be negative", cfg.Resilience.HalfOpenMax))
	}
	if cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("resilience.reset_timeout %s must not be negative", cfg.Resilience.ResetTimeout))
	}

	// Playback
	if cfg.Playback.TypingDelay < 0 {
		errs = append(errs, fmt.Errorf("playback.typing_delay %s must not be negative", cfg.Playback.TypingDelay))
	}

	// Widget
	if cfg.Widget.DispatchTimeout < 0 {
		errs = append(errs, fmt.Errorf("widget.dispatch_timeout %s must not be negative", cfg.Widget.DispatchTimeout))
	}
	seen := make(map[string]int, len(cfg.Widget.Surfaces))
	for i, name := range cfg.Widget.Surfaces {
		prefix := fmt.Sprintf("widget.surfaces[%d]", i)
		switch {
		case strings.TrimSpace(name) == "":
			errs = append(errs, fmt.Errorf("%s must not be empty", prefix))
			continue
		case strings.ContainsAny(name, "/ "):
			errs = append(errs, fmt.Errorf("%s %q must not contain slashes or spaces", prefix, name))
		}
		if prev, ok := seen[name]; ok {
			errs = append(errs, fmt.Errorf("%s %q is a duplicate of widget.surfaces[%d]", prefix, name, prev))
		}
		seen[name] = i
	}

	return errors.Join(errs...)
}

// validateEntry checks the fields a provider needs and warns about unknown
// provider names.
func validateEntry(prefix string, e ProviderEntry) []error {
	if e.Name == "" {
		return nil
	}
	var errs []error
	switch e.Name {
	case "webhook":
		u, err := url.Parse(e.BaseURL)
		if e.BaseURL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s.base_url %q must be an absolute http(s) URL for the webhook provider", prefix, e.BaseURL))
		}
	case "openai":
		if e.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required for the openai provider", prefix))
		}
	case "anyllm":
		if backend, _ := e.Options["backend"].(string); backend == "" {
			errs = append(errs, fmt.Errorf("%s.options.backend is required for the anyllm provider", prefix))
		}
	}
	if !slices.Contains(ValidProviderNames, e.Name) {
		slog.Warn("unknown reply provider name; may be a typo or a third-party provider",
			"field", prefix,
			"name", e.Name,
			"known", ValidProviderNames,
		)
	}
	return errs
}
