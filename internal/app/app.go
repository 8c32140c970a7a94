// Package app wires the simchat subsystems into a running server.
//
// New builds the reply failover group, the dispatcher, one widget controller
// per configured surface, and the HTTP routes. Run serves HTTP and, when a
// config watcher is attached, applies hot-reloadable changes until the
// context is cancelled. Shutdown lets in-flight round trips finish and stops
// all playback.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/simchat/internal/config"
	"github.com/MrWong99/simchat/internal/dispatch"
	"github.com/MrWong99/simchat/internal/gateway"
	"github.com/MrWong99/simchat/internal/health"
	"github.com/MrWong99/simchat/internal/observe"
	"github.com/MrWong99/simchat/internal/playback"
	"github.com/MrWong99/simchat/internal/resilience"
	"github.com/MrWong99/simchat/internal/widget"
	"github.com/MrWong99/simchat/pkg/provider/reply"
)

// shutdownTimeout bounds the HTTP server drain when Run's context ends.
const shutdownTimeout = 10 * time.Second

// Providers holds the reply sources built by main.go via the config
// registry. Reply is required; Fallbacks are tried in order.
type Providers struct {
	Reply     reply.Provider
	Fallbacks []reply.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	metrics  *observe.Metrics
	clock    clockwork.Clock
	logLevel *slog.LevelVar
	watcher  *config.Watcher
	listener net.Listener

	replies     *resilience.ReplyFallback
	dispatcher  *dispatch.Dispatcher
	controllers []*widget.Controller
	handler     http.Handler
	server      *http.Server

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithClock sets the clock for playback timers, breakers and health uptime.
func WithClock(c clockwork.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithLogLevel lets hot reload change the level of the process logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithWatcher makes Run poll the config file and apply changes.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithListener makes Run serve on ln instead of cfg.Server.ListenAddr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// New creates an App from cfg and the reply sources in providers.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Reply == nil {
		return nil, errors.New("app: a reply provider is required")
	}

	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.clock == nil {
		a.clock = clockwork.NewRealClock()
	}

	a.initReplies(providers)
	a.initDispatcher()
	a.initControllers()

	if err := a.initHTTP(); err != nil {
		return nil, err
	}
	return a, nil
}

// initReplies puts every reply source behind its own circuit breaker.
func (a *App) initReplies(providers *Providers) {
	rc := a.cfg.Resilience
	a.replies = resilience.NewReplyFallback(providers.Reply, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  rc.MaxFailures,
			ResetTimeout: rc.ResetTimeout,
			HalfOpenMax:  rc.HalfOpenMax,
			Clock:        a.clock,
			OnStateChange: func(name string, _, to resilience.State) {
				a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	})
	for _, fb := range providers.Fallbacks {
		a.replies.AddFallback(fb)
	}
}

func (a *App) initDispatcher() {
	opts := []dispatch.Option{
		dispatch.WithMetrics(a.metrics),
		dispatch.WithClock(a.clock),
		dispatch.WithTimeout(a.cfg.Widget.DispatchTimeout),
	}
	if ack := a.cfg.Widget.Acknowledgement; ack != "" {
		opts = append(opts, dispatch.WithAcknowledgement(ack))
	}
	a.dispatcher = dispatch.New(a.replies, opts...)
}

// initControllers builds one independent conversation per surface.
func (a *App) initControllers() {
	greeting := widget.DefaultGreeting
	if g := a.cfg.Widget.Greeting; g != nil {
		greeting = *g
	}
	for _, name := range a.cfg.Widget.Surfaces {
		c := widget.New(a.dispatcher,
			widget.WithName(name),
			widget.WithGreeting(greeting),
			widget.WithApology(a.cfg.Widget.Apology),
			widget.WithTypingDelay(typingDelay(a.cfg.Playback.TypingDelay)),
			widget.WithClock(a.clock),
			widget.WithMetrics(a.metrics),
		)
		a.controllers = append(a.controllers, c)
		slog.Info("widget surface ready", "surface", name)
	}
}

func (a *App) initHTTP() error {
	surfaces := make([]gateway.Surface, len(a.controllers))
	for i, c := range a.controllers {
		surfaces[i] = c
	}
	gw, err := gateway.New(surfaces,
		gateway.WithMetrics(a.metrics),
		gateway.WithOriginPatterns(a.cfg.Server.AllowedOrigins...),
	)
	if err != nil {
		return fmt.Errorf("app: init gateway: %w", err)
	}

	hh := health.New(
		health.WithClock(a.clock),
		health.WithCheckers(health.Check("reply", a.replies)),
	)

	mux := http.NewServeMux()
	gw.Register(mux)
	hh.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())

	a.handler = observe.Middleware(a.metrics)(mux)
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Handler returns the instrumented HTTP handler serving every route.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Controllers returns the widget controllers in surface order.
func (a *App) Controllers() []*widget.Controller {
	return a.controllers
}

// Run serves HTTP, and polls the config file when a watcher is attached,
// until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen on %q: %w", a.cfg.Server.ListenAddr, err)
		}
	}
	if t := a.cfg.Server.TLS; t != nil && t.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			ln.Close()
			return fmt.Errorf("app: load tls key pair: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}})
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String())
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}
		return nil
	})

	if a.watcher != nil {
		g.Go(func() error {
			return a.watcher.Run(gctx)
		})
	}

	return g.Wait()
}

// ApplyConfig applies the hot-reloadable differences between old and new.
// It is the config watcher's change callback.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TypingDelayChanged {
		delay := typingDelay(d.NewTypingDelay)
		for _, c := range a.controllers {
			c.SetTypingDelay(delay)
		}
		slog.Info("typing delay changed", "delay", delay)
	}
	if d.AcknowledgementChanged {
		ack := d.NewAcknowledgement
		if ack == "" {
			ack = dispatch.DefaultAcknowledgement
		}
		a.dispatcher.SetAcknowledgement(ack)
		slog.Info("acknowledgement changed")
	}
	if d.ApologyChanged {
		apology := d.NewApology
		if apology == "" {
			apology = widget.DefaultApology
		}
		for _, c := range a.controllers {
			c.SetApology(apology)
		}
		slog.Info("apology changed")
	}
	if d.DispatchTimeoutChanged {
		a.dispatcher.SetTimeout(d.NewDispatchTimeout)
		slog.Info("dispatch timeout changed", "timeout", d.NewDispatchTimeout)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// Shutdown waits for in-flight reply round trips and stops all playback. It
// returns ctx.Err() if ctx ends first.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "surfaces", len(a.controllers))

		done := make(chan struct{})
		go func() {
			defer close(done)
			for _, c := range a.controllers {
				c.Wait()
			}
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded while replies were in flight")
			shutdownErr = ctx.Err()
		}

		for _, c := range a.controllers {
			c.Close()
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// typingDelay maps the config's zero value to the playback default.
func typingDelay(d time.Duration) time.Duration {
	if d <= 0 {
		return playback.DefaultDelay
	}
	return d
}
