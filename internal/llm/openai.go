package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/chaz8081/voxpipe/internal/engine"
)

// OpenAIClient talks to any OpenAI-compatible chat completion endpoint.
type OpenAIClient struct {
	client oai.Client
}

// NewOpenAIClient creates a client for baseURL. Local servers usually ignore
// the key, so an empty key is replaced with a placeholder.
func NewOpenAIClient(baseURL, apiKey string, timeout time.Duration) *OpenAIClient {
	if apiKey == "" {
		apiKey = "local"
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: timeout}))
	}
	return &OpenAIClient{client: oai.NewClient(reqOpts...)}
}

// Complete implements Completer.
func (c *OpenAIClient) Complete(ctx context.Context, model string, p engine.Prompt) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, buildOpenAIParams(model, p))
	if err != nil {
		return "", fmt.Errorf("openai: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func buildOpenAIParams(model string, p engine.Prompt) oai.ChatCompletionNewParams {
	var messages []oai.ChatCompletionMessageParamUnion
	if p.System != "" {
		messages = append(messages, oai.SystemMessage(p.System))
	}
	messages = append(messages, oai.UserMessage(p.User))

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}
	if p.Temperature != 0 {
		params.Temperature = param.NewOpt(p.Temperature)
	}
	if p.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(p.MaxTokens))
	}
	return params
}
