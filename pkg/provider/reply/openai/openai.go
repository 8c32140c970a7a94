// Package openai provides a reply provider backed by the OpenAI Chat
// Completions API. The visitor's message is sent as a single user turn,
// optionally preceded by a system prompt that sets the assistant's persona.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/simchat/pkg/provider/reply"
)

// Ensure Provider implements the reply.Provider interface at compile time.
var _ reply.Provider = (*Provider)(nil)

// Provider implements reply.Provider using the OpenAI API.
type Provider struct {
	client       oai.Client
	model        string
	systemPrompt string
	maxTokens    int
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	systemPrompt string
	maxTokens    int
	maxRetries   int
	timeout      time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Any OpenAI-compatible
// server works.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithSystemPrompt sets the instruction sent ahead of every visitor message.
func WithSystemPrompt(prompt string) Option {
	return func(c *config) {
		c.systemPrompt = prompt
	}
}

// WithMaxTokens caps the completion length. Zero uses the model default.
func WithMaxTokens(n int) Option {
	return func(c *config) {
		c.maxTokens = n
	}
}

// WithMaxRetries sets how often the SDK retries a failed request. The
// default is zero so one Send issues exactly one request; negative values
// are treated as zero.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI reply Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.maxRetries < 0 {
		cfg.maxRetries = 0
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{
		client:       client,
		model:        model,
		systemPrompt: cfg.systemPrompt,
		maxTokens:    cfg.maxTokens,
	}, nil
}

// Name implements reply.Provider.
func (p *Provider) Name() string {
	return "openai"
}

// Send implements reply.Provider. An answer with no choices is treated as an
// empty reply, not a failure.
func (p *Provider) Send(ctx context.Context, req reply.Request) (*reply.Response, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, &reply.TransportError{Provider: p.Name(), Op: "chat completion", Err: err}
	}
	if len(resp.Choices) == 0 {
		return &reply.Response{}, nil
	}
	return &reply.Response{Text: resp.Choices[0].Message.Content}, nil
}

func (p *Provider) buildParams(req reply.Request) oai.ChatCompletionNewParams {
	var messages []oai.ChatCompletionMessageParamUnion
	if p.systemPrompt != "" {
		messages = append(messages, oai.SystemMessage(p.systemPrompt))
	}
	messages = append(messages, oai.UserMessage(req.Message))

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if p.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(p.maxTokens))
	}
	return params
}
