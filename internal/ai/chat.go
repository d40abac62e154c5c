package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultChatTimeout = 60 * time.Second

// ChatConfig captures the settings of an OpenAI-compatible endpoint
type ChatConfig struct {
	Name    string
	BaseURL string // API root, e.g. https://api.groq.com/openai/v1/
	Model   string
	Referer string
	Title   string
}

// ChatProvider talks to any OpenAI-compatible chat completions endpoint
// (OpenAI, Groq, OpenRouter, DeepSeek, Gemini's compatibility layer).
type ChatProvider struct {
	cfg        ChatConfig
	httpClient *http.Client
}

// ChatOption customizes the chat provider
type ChatOption func(*ChatProvider)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) ChatOption {
	return func(p *ChatProvider) {
		if client != nil {
			p.httpClient = client
		}
	}
}

// NewChatProvider constructs a chat provider
func NewChatProvider(cfg ChatConfig, opts ...ChatOption) *ChatProvider {
	p := &ChatProvider{
		cfg: ChatConfig{
			Name:    strings.TrimSpace(cfg.Name),
			BaseURL: apiRoot(cfg.BaseURL),
			Model:   strings.TrimSpace(cfg.Model),
			Referer: strings.TrimSpace(cfg.Referer),
			Title:   strings.TrimSpace(cfg.Title),
		},
		// Per-call deadlines come from the dispatcher context
		httpClient: &http.Client{Timeout: defaultChatTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// apiRoot accepts either the API root or a full chat/completions URL
func apiRoot(raw string) string {
	root := strings.TrimSpace(raw)
	root = strings.TrimSuffix(root, "/")
	root = strings.TrimSuffix(root, "/chat/completions")
	if root == "" {
		return ""
	}
	return root + "/"
}

// Name returns the provider name
func (p *ChatProvider) Name() string {
	return p.cfg.Name
}

// Dispatch issues one chat completion request. Retries are left to the
// dispatcher so every attempt is counted.
func (p *ChatProvider) Dispatch(ctx context.Context, apiKey string, req Request) (string, error) {
	if strings.TrimSpace(apiKey) == "" {
		return "", fmt.Errorf("%s: api key required", p.cfg.Name)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return "", fmt.Errorf("%s: prompt required", p.cfg.Name)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithMaxRetries(0),
		option.WithHTTPClient(p.httpClient),
	}
	if p.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(p.cfg.BaseURL))
	}
	if p.cfg.Referer != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", p.cfg.Referer))
	}
	if p.cfg.Title != "" {
		opts = append(opts, option.WithHeader("X-Title", p.cfg.Title))
	}
	client := openai.NewClient(opts...)

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.cfg.Model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	completion, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			statusErr := &StatusError{
				Provider:   p.cfg.Name,
				StatusCode: apiErr.StatusCode,
				Body:       apiErr.Message,
			}
			if apiErr.Response != nil {
				statusErr.RetryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
			}
			return "", statusErr
		}
		return "", fmt.Errorf("%s: %w", p.cfg.Name, err)
	}

	for _, choice := range completion.Choices {
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			return content, nil
		}
	}
	return "", fmt.Errorf("%s: %w", p.cfg.Name, ErrEmptyResponse)
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// IsStatus reports whether err carries the given HTTP status
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}
