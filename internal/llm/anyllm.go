package llm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/chaz8081/voxpipe/internal/engine"
)

// AnyLLMClient talks to a local inference server through any-llm-go.
type AnyLLMClient struct {
	backend anyllmlib.Provider
}

// NewAnyLLMClient creates a client for provider ("ollama", "llamacpp",
// "llamafile" or "openai"). Empty baseURL and apiKey use the provider's
// defaults.
func NewAnyLLMClient(provider, baseURL, apiKey string) (*AnyLLMClient, error) {
	var opts []anyllmlib.Option
	if baseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(baseURL))
	}
	if apiKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(apiKey))
	}

	backend, err := createBackend(provider, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", provider, err)
	}
	return &AnyLLMClient{backend: backend}, nil
}

func createBackend(provider string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(provider) {
	case "ollama":
		return ollama.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	case "openai":
		return anyllmoai.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: ollama, llamacpp, llamafile, openai", provider)
	}
}

// Complete implements Completer.
func (c *AnyLLMClient) Complete(ctx context.Context, model string, p engine.Prompt) (string, error) {
	resp, err := c.backend.Completion(ctx, buildAnyLLMParams(model, p))
	if err != nil {
		return "", fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("anyllm: empty choices in response")
	}
	return resp.Choices[0].Message.ContentString(), nil
}

func buildAnyLLMParams(model string, p engine.Prompt) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message
	if p.System != "" {
		messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: p.System})
	}
	messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleUser, Content: p.User})

	params := anyllmlib.CompletionParams{
		Model:    model,
		Messages: messages,
	}
	if p.Temperature != 0 {
		t := p.Temperature
		params.Temperature = &t
	}
	if p.MaxTokens > 0 {
		mt := p.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}
