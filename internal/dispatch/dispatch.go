// Package dispatch sends one visitor message to the reply source and turns
// the outcome into reply text.
//
// A [Dispatcher] performs exactly one outbound request per call. A source
// that answers without usable text is not a failure: the dispatcher
// substitutes its acknowledgement and marks the [Result] as a fallback. Every
// real failure is returned as a *reply.TransportError.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/simchat/internal/observe"
	"github.com/MrWong99/simchat/pkg/provider/reply"
)

// DefaultAcknowledgement is revealed when the reply source answers without
// any recognised reply text.
const DefaultAcknowledgement = "Recebi sua mensagem! Em breve responderei."

// ErrBlankInput is returned by [Dispatcher.Dispatch] for text that is empty
// after trimming. No request is sent.
var ErrBlankInput = errors.New("dispatch: blank input")

// Result is the outcome of a successful dispatch.
type Result struct {
	// Text is the reply to reveal. Never blank.
	Text string

	// Fallback is true when Text is the acknowledgement rather than text
	// produced by the reply source.
	Fallback bool
}

// Option is a functional option for [New].
type Option func(*Dispatcher)

// WithAcknowledgement overrides [DefaultAcknowledgement]. Blank values are
// ignored.
func WithAcknowledgement(text string) Option {
	return func(d *Dispatcher) {
		if strings.TrimSpace(text) != "" {
			d.ack = text
		}
	}
}

// WithTimeout bounds every outbound request. Zero (the default) means the
// request may take as long as the caller's context allows.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithClock sets the clock used to time requests.
func WithClock(c clockwork.Clock) Option {
	return func(d *Dispatcher) {
		d.clock = c
	}
}

// Dispatcher forwards visitor messages to a [reply.Provider]. It is safe for
// concurrent use.
type Dispatcher struct {
	provider reply.Provider
	metrics  *observe.Metrics
	clock    clockwork.Clock

	mu      sync.RWMutex
	ack     string
	timeout time.Duration
}

// New creates a Dispatcher for provider.
func New(provider reply.Provider, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		provider: provider,
		ack:      DefaultAcknowledgement,
		clock:    clockwork.NewRealClock(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// SetAcknowledgement replaces the acknowledgement text for subsequent
// dispatches. Blank values are ignored.
func (d *Dispatcher) SetAcknowledgement(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	d.mu.Lock()
	d.ack = text
	d.mu.Unlock()
}

// SetTimeout replaces the per-request timeout for subsequent dispatches.
func (d *Dispatcher) SetTimeout(timeout time.Duration) {
	d.mu.Lock()
	d.timeout = timeout
	d.mu.Unlock()
}

// Provider returns the reply source the dispatcher sends to.
func (d *Dispatcher) Provider() reply.Provider {
	return d.provider
}

// Dispatch sends the trimmed userText to the reply source and returns the
// text to reveal. Blank input returns [ErrBlankInput]; any other error is a
// *reply.TransportError.
func (d *Dispatcher) Dispatch(ctx context.Context, userText string) (Result, error) {
	msg := strings.TrimSpace(userText)
	if msg == "" {
		return Result{}, ErrBlankInput
	}

	d.mu.RLock()
	ack, timeout := d.ack, d.timeout
	d.mu.RUnlock()

	name := d.provider.Name()
	ctx, span := observe.StartSpan(ctx, "reply.dispatch",
		trace.WithAttributes(attribute.String("reply.provider", name)),
	)
	defer span.End()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := d.clock.Now()
	resp, err := d.provider.Send(ctx, reply.Request{Message: msg})
	elapsed := d.clock.Since(start)

	if err != nil {
		err = reply.Wrap(name, "send", err)
		op := "send"
		var te *reply.TransportError
		if errors.As(err, &te) {
			op = te.Op
		}
		d.metrics.RecordReply(ctx, name, observe.StatusError, elapsed)
		d.metrics.RecordReplyError(ctx, name, op)
		observe.FailSpan(span, err)
		observe.Logger(ctx).Warn("reply dispatch failed",
			"provider", name,
			"op", op,
			"duration", elapsed,
			"err", err)
		return Result{}, err
	}

	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		d.metrics.RecordReply(ctx, name, observe.StatusFallback, elapsed)
		span.SetAttributes(attribute.Bool("reply.fallback", true))
		observe.Logger(ctx).Debug("reply source returned no text, using acknowledgement",
			"provider", name)
		return Result{Text: ack, Fallback: true}, nil
	}

	d.metrics.RecordReply(ctx, name, observe.StatusOK, elapsed)
	span.SetAttributes(attribute.Int("reply.length", len(resp.Text)))
	observe.Logger(ctx).Debug("reply received", "provider", name, "duration", elapsed)
	return Result{Text: resp.Text}, nil
}
