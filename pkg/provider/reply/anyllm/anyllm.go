// Package anyllm provides a reply provider backed by
// github.com/mozilla-ai/any-llm-go, giving the widget access to OpenAI,
// Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, llama.cpp, and
// llamafile through one constructor.
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/simchat/pkg/provider/reply"
)

// Ensure Provider implements the reply.Provider interface at compile time.
var _ reply.Provider = (*Provider)(nil)

// completeFunc performs one completion and returns the first choice's text.
type completeFunc func(ctx context.Context, params anyllmlib.CompletionParams) (string, error)

// Provider implements reply.Provider on top of an any-llm-go backend.
type Provider struct {
	backendName  string
	model        string
	systemPrompt string
	complete     completeFunc
}

// New creates a Provider for the named backend.
//
// backendName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile".
//
// systemPrompt may be empty. opts are any-llm-go options such as
// anyllmlib.WithAPIKey and anyllmlib.WithBaseURL; without an API key option
// the backend falls back to its environment variable (OPENAI_API_KEY,
// ANTHROPIC_API_KEY, ...).
func New(backendName, model, systemPrompt string, opts ...anyllmlib.Option) (*Provider, error) {
	if backendName == "" {
		return nil, fmt.Errorf("anyllm: backend name must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(backendName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", backendName, err)
	}

	return &Provider{
		backendName:  strings.ToLower(backendName),
		model:        model,
		systemPrompt: systemPrompt,
		complete: func(ctx context.Context, params anyllmlib.CompletionParams) (string, error) {
			resp, err := backend.Completion(ctx, params)
			if err != nil {
				return "", err
			}
			if len(resp.Choices) == 0 {
				return "", nil
			}
			return resp.Choices[0].Message.ContentString(), nil
		},
	}, nil
}

// Backends lists the backend names accepted by [New].
var Backends = []string{
	"openai", "anthropic", "gemini", "ollama",
	"deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// createBackend creates the underlying any-llm-go provider for the given name.
func createBackend(name string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(name) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported backend %q; supported: %s", name, strings.Join(Backends, ", "))
	}
}

// Name implements reply.Provider. The backend is included so metrics can tell
// an Anthropic-backed widget from an Ollama-backed one.
func (p *Provider) Name() string {
	return "anyllm/" + p.backendName
}

// Send implements reply.Provider.
func (p *Provider) Send(ctx context.Context, req reply.Request) (*reply.Response, error) {
	text, err := p.complete(ctx, p.buildParams(req))
	if err != nil {
		return nil, &reply.TransportError{Provider: p.Name(), Op: "completion", Err: err}
	}
	return &reply.Response{Text: text}, nil
}

func (p *Provider) buildParams(req reply.Request) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message
	if p.systemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: p.systemPrompt,
		})
	}
	messages = append(messages, anyllmlib.Message{
		Role:    anyllmlib.RoleUser,
		Content: req.Message,
	})
	return anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
}
