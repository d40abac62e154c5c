package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider dispatches prompts through the Anthropic SDK
type AnthropicProvider struct {
	name    string
	model   string
	baseURL string
}

// NewAnthropicProvider creates a provider for Claude models
func NewAnthropicProvider(name, model, baseURL string) *AnthropicProvider {
	if name == "" {
		name = "anthropic"
	}
	return &AnthropicProvider{
		name:    name,
		model:   model,
		baseURL: strings.TrimSpace(baseURL),
	}
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return p.name
}

// Dispatch sends a message to Claude and returns the text response.
// Retries are left to the dispatcher so every attempt is counted.
func (p *AnthropicProvider) Dispatch(ctx context.Context, apiKey string, req Request) (string, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if p.baseURL != "" {
		opts = append(opts, option.WithBaseURL(p.baseURL))
	}
	client := anthropic.NewClient(opts...)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			{
				Role: anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(req.Prompt),
				},
			},
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: req.System,
			},
		}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	message, err := client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &StatusError{
				Provider:   p.name,
				StatusCode: apiErr.StatusCode,
				Body:       apiErr.Error(),
			}
		}
		return "", fmt.Errorf("%s: %w", p.name, err)
	}

	// Extract text from response
	var response strings.Builder
	for _, block := range message.Content {
		textBlock := block.AsText()
		if textBlock.Text != "" {
			response.WriteString(textBlock.Text)
		}
	}

	text := strings.TrimSpace(response.String())
	if text == "" {
		return "", fmt.Errorf("%s: %w", p.name, ErrEmptyResponse)
	}
	return text, nil
}
