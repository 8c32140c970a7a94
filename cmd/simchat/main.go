// Command simchat serves the simulated chat widget over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/simchat/internal/app"
	"github.com/MrWong99/simchat/internal/config"
	"github.com/MrWong99/simchat/internal/observe"
	"github.com/MrWong99/simchat/pkg/provider/reply"
	"github.com/MrWong99/simchat/pkg/provider/reply/anyllm"
	"github.com/MrWong99/simchat/pkg/provider/reply/openai"
	"github.com/MrWong99/simchat/pkg/provider/reply/static"
	"github.com/MrWong99/simchat/pkg/provider/reply/webhook"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload hot-reloadable settings when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "simchat: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "simchat: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(&level))

	slog.Info("simchat starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Reply providers ───────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build reply providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	// ── Application ───────────────────────────────────────────────────────────
	opts := []app.Option{app.WithLogLevel(&level)}

	var application *app.App
	if *watch {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			application.ApplyConfig(old, new)
		})
		if err != nil {
			slog.Error("failed to start config watcher", "err", err)
			return 1
		}
		opts = append(opts, app.WithWatcher(w))
	}

	application, err = app.New(cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the built-in reply provider factories into
// reg.
func registerBuiltinProviders(reg *config.Registry) {
	// webhook: base_url is the endpoint; options.timeout and options.headers
	// are optional.
	reg.RegisterReply("webhook", func(entry config.ProviderEntry) (reply.Provider, error) {
		var opts []webhook.Option
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, webhook.WithTimeout(d))
		}
		for k, v := range optStringMap(entry.Options, "headers") {
			opts = append(opts, webhook.WithHeader(k, v))
		}
		if entry.APIKey != "" {
			opts = append(opts, webhook.WithHeader("Authorization", "Bearer "+entry.APIKey))
		}
		return webhook.New(entry.BaseURL, opts...)
	})

	reg.RegisterReply("openai", func(entry config.ProviderEntry) (reply.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if prompt := optString(entry.Options, "system_prompt"); prompt != "" {
			opts = append(opts, openai.WithSystemPrompt(prompt))
		}
		if n := optInt(entry.Options, "max_tokens"); n > 0 {
			opts = append(opts, openai.WithMaxTokens(n))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		if n := optInt(entry.Options, "max_retries"); n > 0 {
			opts = append(opts, openai.WithMaxRetries(n))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// anyllm: options.backend picks the any-llm-go backend.
	reg.RegisterReply("anyllm", func(entry config.ProviderEntry) (reply.Provider, error) {
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(
			optString(entry.Options, "backend"),
			entry.Model,
			optString(entry.Options, "system_prompt"),
			opts...,
		)
	})

	// static: a local reply source for demos and as a last-resort fallback.
	reg.RegisterReply("static", func(entry config.ProviderEntry) (reply.Provider, error) {
		var opts []static.Option
		if text := optString(entry.Options, "text"); text != "" {
			opts = append(opts, static.WithText(text))
		}
		if payload := optString(entry.Options, "payload"); payload != "" {
			opts = append(opts, static.WithPayload([]byte(payload)))
		}
		if optBool(entry.Options, "echo") {
			opts = append(opts, static.WithEcho())
		}
		if d := optDuration(entry.Options, "latency"); d > 0 {
			opts = append(opts, static.WithLatency(d))
		}
		return static.New(opts...), nil
	})

	slog.Debug("registered reply providers", "names", reg.Names(), "anyllm_backends", anyllm.Backends)
}

// buildProviders instantiates the configured reply sources.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	primary, err := reg.CreateReply(cfg.Providers.Reply)
	if err != nil {
		return nil, err
	}
	slog.Info("reply provider created", "name", primary.Name(), "role", "primary")

	ps := &app.Providers{Reply: primary}
	for i, entry := range cfg.Providers.Fallbacks {
		p, err := reg.CreateReply(entry)
		if err != nil {
			return nil, fmt.Errorf("fallback %d: %w", i, err)
		}
		ps.Fallbacks = append(ps.Fallbacks, p)
		slog.Info("reply provider created", "name", p.Name(), "role", "fallback", "index", i)
	}
	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        simchat startup summary        ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Reply", providerLabel(cfg.Providers.Reply))
	for _, fb := range cfg.Providers.Fallbacks {
		printRow("Fallback", providerLabel(fb))
	}
	printRow("Surfaces", fmt.Sprint(len(cfg.Widget.Surfaces)))
	delay := "default"
	if cfg.Playback.TypingDelay > 0 {
		delay = cfg.Playback.TypingDelay.String()
	}
	printRow("Typing delay", delay)
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	if e.Model != "" {
		return e.Name + " / " + e.Model
	}
	return e.Name
}

func printRow(label, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optBool extracts a boolean option; anything but a YAML true is false.
func optBool(opts map[string]any, key string) bool {
	b, _ := opts[key].(bool)
	return b
}

// optInt extracts an integer option. YAML integers decode as int.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// optDuration parses a duration option such as "10s". Invalid values are
// logged and ignored.
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid duration option", "key", key, "value", s, "err", err)
		return 0
	}
	return d
}

// optStringMap extracts a map of string values, skipping non-string entries.
func optStringMap(opts map[string]any, key string) map[string]string {
	raw, ok := opts[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
