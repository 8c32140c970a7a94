// Package static provides a reply provider that answers locally without any
// network round trip. It is meant for demos, local development, and staging
// deployments where no automation endpoint exists yet.
//
// The provider can answer with fixed text or with a raw JSON payload that is
// run through [reply.ExtractText], so the recognised webhook payload shapes
// can be exercised end to end without a server.
package static

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/MrWong99/simchat/pkg/provider/reply"
)

// Ensure Provider implements the reply.Provider interface at compile time.
var _ reply.Provider = (*Provider)(nil)

// Provider implements reply.Provider with a canned answer.
type Provider struct {
	text    string
	payload []byte
	echo    bool
	latency time.Duration
	clock   clockwork.Clock
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithText answers every message with text.
func WithText(text string) Option {
	return func(p *Provider) {
		p.text = text
	}
}

// WithPayload answers every message by decoding payload as if it were a
// webhook response body. Takes precedence over WithText.
func WithPayload(payload []byte) Option {
	return func(p *Provider) {
		p.payload = payload
	}
}

// WithEcho answers every message with the message itself. Takes precedence
// over WithText and WithPayload.
func WithEcho() Option {
	return func(p *Provider) {
		p.echo = true
	}
}

// WithLatency delays every answer by d to imitate a remote round trip.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) {
		p.latency = d
	}
}

// WithClock sets the clock used for WithLatency. Defaults to the real clock.
func WithClock(c clockwork.Clock) Option {
	return func(p *Provider) {
		p.clock = c
	}
}

// New constructs a static Provider. Without options it answers with empty
// text, which the dispatcher turns into its acknowledgement.
func New(opts ...Option) *Provider {
	p := &Provider{clock: clockwork.NewRealClock()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements reply.Provider.
func (p *Provider) Name() string {
	return "static"
}

// Send implements reply.Provider.
func (p *Provider) Send(ctx context.Context, req reply.Request) (*reply.Response, error) {
	if p.latency > 0 {
		select {
		case <-p.clock.After(p.latency):
		case <-ctx.Done():
			return nil, &reply.TransportError{Provider: p.Name(), Op: "wait", Err: ctx.Err()}
		}
	}

	switch {
	case p.echo:
		return &reply.Response{Text: req.Message}, nil
	case p.payload != nil:
		text, err := reply.ExtractText(p.payload)
		if errors.Is(err, reply.ErrNoReply) {
			return &reply.Response{}, nil
		}
		if err != nil {
			return nil, &reply.TransportError{Provider: p.Name(), Op: "decode", Err: fmt.Errorf("static payload: %w", err)}
		}
		return &reply.Response{Text: text}, nil
	default:
		return &reply.Response{Text: p.text}, nil
	}
}
