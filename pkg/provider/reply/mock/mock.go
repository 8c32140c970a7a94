// Package mock provides a test double for the reply.Provider interface.
//
// Use Provider in unit tests to feed controlled replies or failures to the
// dispatcher and controller without a live reply source.
//
// Example:
//
//	p := &mock.Provider{Response: &reply.Response{Text: "Olá!"}}
//	resp, err := p.Send(ctx, reply.Request{Message: "oi"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/simchat/pkg/provider/reply"
)

// SendCall records a single invocation of Send.
type SendCall struct {
	// Ctx is the context passed to Send.
	Ctx context.Context
	// Req is the Request passed to Send.
	Req reply.Request
}

// Provider is a mock implementation of reply.Provider.
// A nil Response with a nil Err returns an empty Response.
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// Response is returned by Send when Err is nil.
	Response *reply.Response

	// Err, if non-nil, is returned by Send. It is returned as is, so tests can
	// check that callers wrap non-transport errors.
	Err error

	// Block, if non-nil, makes Send wait until it is closed or ctx is done.
	Block chan struct{}

	// SendFunc, if set, overrides Response, Err, and Block.
	SendFunc func(ctx context.Context, req reply.Request) (*reply.Response, error)

	// Calls records every invocation of Send in order.
	Calls []SendCall
}

// Name implements reply.Provider.
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Send implements reply.Provider.
func (p *Provider) Send(ctx context.Context, req reply.Request) (*reply.Response, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, SendCall{Ctx: ctx, Req: req})
	fn, block, resp, err := p.SendFunc, p.Block, p.Response, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, &reply.TransportError{Provider: p.Name(), Op: "send", Err: ctx.Err()}
		}
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &reply.Response{}, nil
	}
	out := *resp
	return &out, nil
}

// CallCount returns the number of Send invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastRequest returns the most recent Request and true, or false when Send
// was never called.
func (p *Provider) LastRequest() (reply.Request, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return reply.Request{}, false
	}
	return p.Calls[len(p.Calls)-1].Req, true
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
