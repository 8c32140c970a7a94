// Package reply defines the Provider interface for remote reply sources.
//
// A reply provider receives the visitor's trimmed message and returns the text
// the widget should reveal. The engine does not care how the text is produced:
// a webhook automation, an LLM API, or a canned local response all satisfy the
// same contract.
//
// Every failure a provider reports should be a [*TransportError] so callers can
// distinguish a broken round trip from a successful reply that simply carried
// no text. A nil error with an empty [Response.Text] means "the source answered
// but said nothing usable"; the dispatcher substitutes its acknowledgement in
// that case.
//
// Implementations must be safe for concurrent use.
package reply

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoReply is returned by [ExtractText] when a payload decodes but matches
// none of the recognised reply shapes.
var ErrNoReply = errors.New("reply: payload carries no reply text")

// Request is the outbound message sent to a reply source.
type Request struct {
	// Message is the visitor's text, already trimmed.
	Message string `json:"message"`
}

// Response is the outcome of a successful round trip.
type Response struct {
	// Text is the reply to reveal. Empty when the source answered without any
	// recognisable reply text.
	Text string
}

// Provider is the abstraction over a remote reply source.
type Provider interface {
	// Send performs exactly one outbound request for req and returns the
	// reply. Failures are reported as *TransportError.
	Send(ctx context.Context, req Request) (*Response, error)

	// Name returns a short identifier used in logs, metrics, and errors.
	Name() string
}

// TransportError reports a failed round trip to a reply source: a network
// error, a non-success status, an undecodable body, or a cancelled context.
type TransportError struct {
	// Provider is the Name of the provider that failed.
	Provider string

	// Op is the step that failed (for example "post", "decode", "status").
	Op string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("reply: %s: %s: %v", e.Provider, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Wrap returns err as a *TransportError attributed to provider and op.
// If err already is (or wraps) a *TransportError it is returned unchanged.
// Wrap returns nil for a nil err.
func Wrap(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Provider: provider, Op: op, Err: err}
}
