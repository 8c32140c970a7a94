package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/simchat/pkg/provider/reply"
)

// ReplyFallback implements [reply.Provider] with failover across several reply
// sources, each behind its own circuit breaker.
type ReplyFallback struct {
	group *FallbackGroup[reply.Provider]
}

// Compile-time interface assertion.
var _ reply.Provider = (*ReplyFallback)(nil)

// NewReplyFallback creates a [ReplyFallback] with primary as the preferred
// source. The breaker is named after primary.Name().
func NewReplyFallback(primary reply.Provider, cfg FallbackConfig) *ReplyFallback {
	return &ReplyFallback{
		group: NewFallbackGroup(primary, primary.Name(), cfg),
	}
}

// AddFallback registers another reply source, tried after all earlier ones.
func (f *ReplyFallback) AddFallback(p reply.Provider) {
	f.group.AddFallback(p.Name(), p)
}

// Name implements reply.Provider and reports the primary's name.
func (f *ReplyFallback) Name() string {
	return f.group.Primary().Name()
}

// Send implements reply.Provider. The first source that answers wins. When all
// sources fail the returned *reply.TransportError wraps [ErrAllFailed] and the
// last source's error.
func (f *ReplyFallback) Send(ctx context.Context, req reply.Request) (*reply.Response, error) {
	resp, err := ExecuteWithResult(ctx, f.group, func(p reply.Provider) (*reply.Response, error) {
		return p.Send(ctx, req)
	})
	if err != nil {
		return nil, &reply.TransportError{Provider: f.Name(), Op: "failover", Err: err}
	}
	return resp, nil
}

// Breakers returns the per-source breakers, primary first.
func (f *ReplyFallback) Breakers() []*CircuitBreaker {
	return f.group.Breakers()
}

// CheckReady returns an error when every source's breaker is open. Its
// signature matches a health checker.
func (f *ReplyFallback) CheckReady(context.Context) error {
	if f.group.Available() {
		return nil
	}
	return fmt.Errorf("%w: every reply source has an open circuit", ErrCircuitOpen)
}
