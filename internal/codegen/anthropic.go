package codegen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"pkt.systems/gitpilot/internal/version"
	"pkt.systems/gitpilot/schema"
)

const anthropicBeta = "max-tokens-3-5-sonnet-2024-07-15"

// AnthropicOptions configures the Anthropic messages backend.
type AnthropicOptions struct {
	BaseURL   string
	Model     string
	MaxTokens int
}

// Anthropic calls the Anthropic Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropic returns a generator for apiKey. Retries are left to the
// caller, whose timeout covers a single attempt.
func NewAnthropic(apiKey string, opts AnthropicOptions, httpClient *http.Client) *Anthropic {
	if opts.Model == "" {
		opts.Model = "claude-3-5-sonnet-20240620"
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 8192
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHeader("anthropic-beta", anthropicBeta),
		option.WithHeader("User-Agent", version.UserAgent()),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(httpClient))
	}
	return &Anthropic{
		client:    anthropic.NewClient(reqOpts...),
		model:     opts.Model,
		maxTokens: int64(opts.MaxTokens),
	}
}

// Name implements Generator.
func (a *Anthropic) Name() schema.ProviderName {
	return schema.ProviderAnthropic
}

// Generate implements Generator.
func (a *Anthropic) Generate(ctx context.Context, instruction, content string) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   a.maxTokens,
		Temperature: anthropic.Float(0),
		System:      []anthropic.TextBlockParam{{Text: SystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(UserTurn(instruction, content))),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", NewProviderError(a.Name(), apiErr.StatusCode, anthropicMessage(apiErr), err)
		}
		return "", NewProviderError(a.Name(), 0, "", err)
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", NewProviderError(a.Name(), 0, "no text content in response", nil)
}

// anthropicMessage pulls the human readable part out of an error body,
// falling back to the SDK's own rendering.
func anthropicMessage(err *anthropic.Error) string {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(err.RawJSON()), &body) == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	return err.Error()
}
