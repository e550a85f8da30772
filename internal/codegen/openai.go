package codegen

import (
	"context"
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"pkt.systems/gitpilot/schema"
)

// OpenAIOptions configures the OpenAI chat completions backend.
type OpenAIOptions struct {
	BaseURL string
	Model   string
}

// OpenAI calls the OpenAI chat completions API.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI returns a generator for apiKey.
func NewOpenAI(apiKey string, opts OpenAIOptions, httpClient *http.Client) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	model := opts.Model
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model}
}

// Name implements Generator.
func (o *OpenAI) Name() schema.ProviderName {
	return schema.ProviderOpenAI
}

// Generate implements Generator.
func (o *OpenAI) Generate(ctx context.Context, instruction, content string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: UserTurn(instruction, content)},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", NewProviderError(o.Name(), apiErr.HTTPStatusCode, apiErr.Message, err)
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return "", NewProviderError(o.Name(), reqErr.HTTPStatusCode, "", err)
		}
		return "", NewProviderError(o.Name(), 0, "", err)
	}
	if len(resp.Choices) == 0 {
		return "", NewProviderError(o.Name(), 0, "no choices in response", nil)
	}
	return resp.Choices[0].Message.Content, nil
}
