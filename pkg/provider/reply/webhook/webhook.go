// Package webhook provides a reply provider that POSTs the visitor's message
// to an HTTP automation endpoint (an n8n or Zapier style webhook) and reads
// the reply text out of the JSON response.
//
// Request body:
//
//	{"message": "<trimmed visitor text>"}
//
// The response body is decoded with [reply.ExtractText]. A body that decodes
// but carries no recognised reply yields an empty [reply.Response] rather than
// an error.
//
// Any non-2xx status is a [reply.TransportError], even when the body carries
// a readable message: an error page is never shown to the visitor as the
// reply, they get the apology instead.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/MrWong99/simchat/pkg/provider/reply"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 1 << 20

// Ensure Provider implements the reply.Provider interface at compile time.
var _ reply.Provider = (*Provider)(nil)

// Provider implements reply.Provider against a webhook URL.
type Provider struct {
	url        string
	headers    http.Header
	httpClient *http.Client
}

// config holds optional configuration collected from functional options.
type config struct {
	timeout    time.Duration
	httpClient *http.Client
	headers    http.Header
}

// Option is a functional option for Provider.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout on the underlying HTTP client.
// A zero or negative value means no timeout (the default).
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithHTTPClient replaces the HTTP client. WithTimeout is ignored when a
// client is supplied.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// WithHeader adds a static header to every request, e.g. an Authorization
// token expected by the automation platform.
func WithHeader(key, value string) Option {
	return func(c *config) {
		c.headers.Add(key, value)
	}
}

// New constructs a webhook Provider. endpoint must be an absolute http or
// https URL.
func New(endpoint string, opts ...Option) (*Provider, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("webhook: endpoint must not be empty")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("webhook: parse endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("webhook: endpoint %q must be an absolute http(s) URL", endpoint)
	}

	cfg := &config{headers: make(http.Header)}
	for _, o := range opts {
		o(cfg)
	}

	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{}
		if cfg.timeout > 0 {
			hc.Timeout = cfg.timeout
		}
	}

	return &Provider{
		url:        endpoint,
		headers:    cfg.headers,
		httpClient: hc,
	}, nil
}

// Name implements reply.Provider.
func (p *Provider) Name() string {
	return "webhook"
}

// Send implements reply.Provider. It issues one POST request and maps every
// failure to a *reply.TransportError.
func (p *Provider) Send(ctx context.Context, req reply.Request) (*reply.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, p.fail("marshal", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, p.fail("build request", err)
	}
	for k, vs := range p.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, p.fail("post", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, p.fail("read body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, p.fail("status", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	text, err := reply.ExtractText(data)
	switch {
	case errors.Is(err, reply.ErrNoReply):
		return &reply.Response{}, nil
	case err != nil:
		return nil, p.fail("decode", err)
	}
	return &reply.Response{Text: text}, nil
}

func (p *Provider) fail(op string, err error) error {
	return &reply.TransportError{Provider: p.Name(), Op: op, Err: err}
}
