package interpreter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// DefaultTimeout bounds a single completion request.
const DefaultTimeout = 30 * time.Second

// OpenAIConfig configures the OpenAI completer.
type OpenAIConfig struct {
	Model   string
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// OpenAI implements Completer against the OpenAI chat completions API or
// any compatible endpoint.
type OpenAI struct {
	client *openai.Client
	config OpenAIConfig
}

// NewOpenAI creates an OpenAI completer.
func NewOpenAI(config OpenAIConfig) *OpenAI {
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	config.Model = parseModel(config.Model)

	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}
}

// Complete implements Completer.
func (o *OpenAI) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}
	return resp.Choices[0].Message.Content, nil
}

// ModelName implements Completer.
func (o *OpenAI) ModelName() string {
	return o.config.Model
}

// IsAvailable reports whether the completer has what it needs to call out.
func (o *OpenAI) IsAvailable() bool {
	return o.config.APIKey != "" && o.config.Model != ""
}

// parseModel strips a provider prefix such as "openai:gpt-4o".
func parseModel(model string) string {
	parts := strings.SplitN(model, ":", 2)
	if len(parts) == 2 && parts[0] == "openai" {
		return parts[1]
	}
	return model
}
