// Package llm implements the cleanup language-model engine on top of local
// chat-completion servers (Ollama, llama.cpp, llamafile or any
// OpenAI-compatible endpoint).
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chaz8081/voxpipe/internal/config"
	"github.com/chaz8081/voxpipe/internal/engine"
)

// Completer runs one chat completion and returns the assistant text.
type Completer interface {
	Complete(ctx context.Context, model string, p engine.Prompt) (string, error)
}

// probe is the request used to pull a model into memory.
var probe = engine.Prompt{
	System:    "Reply with the single word OK.",
	User:      "OK",
	MaxTokens: 1,
}

// Engine is an engine.LLM. Load builds the client and issues a one-token
// probe so the server has the model resident before the first real request.
type Engine struct {
	model     string
	timeout   time.Duration
	newClient func() (Completer, error)
	client    Completer
}

// NewEngine returns an unloaded engine for model that obtains its client
// from newClient.
func NewEngine(model string, timeout time.Duration, newClient func() (Completer, error)) *Engine {
	return &Engine{model: model, timeout: timeout, newClient: newClient}
}

// Factory returns an engine.LLMFactory for the configured provider.
func Factory(cfg config.CleanupConfig) engine.LLMFactory {
	return func(modelID string) (engine.LLM, error) {
		apiKey := ""
		if cfg.APIKeyEnv != "" {
			apiKey = os.Getenv(cfg.APIKeyEnv)
		}
		newClient := func() (Completer, error) {
			switch cfg.Provider {
			case "openai":
				return NewOpenAIClient(cfg.BaseURL, apiKey, cfg.Timeout), nil
			default:
				return NewAnyLLMClient(cfg.Provider, cfg.BaseURL, apiKey)
			}
		}
		return NewEngine(modelID, cfg.Timeout, newClient), nil
	}
}

// Load connects and warms the model.
func (e *Engine) Load(ctx context.Context, onProgress engine.LoadProgress) error {
	client, err := e.newClient()
	if err != nil {
		return fmt.Errorf("llm: create client: %w", err)
	}
	if _, err := e.complete(ctx, client, probe); err != nil {
		return fmt.Errorf("llm: load %q: %w", e.model, err)
	}
	e.client = client
	if onProgress != nil {
		onProgress(1)
	}
	return nil
}

// Unload drops the client. The server keeps or evicts the model on its own.
func (e *Engine) Unload() error {
	e.client = nil
	return nil
}

// Cleanup runs the prompt. When the prompt has no user part, text is sent
// as the user message.
func (e *Engine) Cleanup(ctx context.Context, text string, p engine.Prompt) (string, error) {
	if e.client == nil {
		return "", engine.ErrModelNotLoaded
	}
	if p.User == "" {
		p.User = text
	}
	out, err := e.complete(ctx, e.client, p)
	if err != nil {
		return "", fmt.Errorf("llm: cleanup: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Warmup repeats the load probe.
func (e *Engine) Warmup(ctx context.Context) error {
	if e.client == nil {
		return engine.ErrModelNotLoaded
	}
	_, err := e.complete(ctx, e.client, probe)
	return err
}

func (e *Engine) complete(ctx context.Context, c Completer, p engine.Prompt) (string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return c.Complete(ctx, e.model, p)
}
