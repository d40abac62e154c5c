package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// stripMarkdownCodeBlock removes anything around the outermost JSON object
func stripMarkdownCodeBlock(response string) string {
	response = strings.TrimSpace(response)

	// Find the first { which starts valid JSON
	startIdx := strings.Index(response, "{")
	if startIdx == -1 {
		return response
	}

	// Find the last } which ends valid JSON
	endIdx := strings.LastIndex(response, "}")
	if endIdx == -1 || endIdx < startIdx {
		return response
	}

	return response[startIdx : endIdx+1]
}

// stripCodeFence unwraps a ```lang ... ``` block
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// GeneratedArticle is an AI-written article for the SEO path
type GeneratedArticle struct {
	Title    string   `json:"title"`
	Excerpt  string   `json:"excerpt"`
	Body     string   `json:"body"`
	Tags     []string `json:"tags"`
	Provider string   `json:"-"`
}

// GenerateArticle writes a new article about topic. Unlike Rewrite it fails
// when no provider is usable since there is nothing to fall back to.
func (d *Dispatcher) GenerateArticle(ctx context.Context, topic string, keywords []string) (*GeneratedArticle, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("topic required")
	}

	response, provider, err := d.Generate(ctx, Request{
		System: SEOArticleSystemPrompt,
		Prompt: fmt.Sprintf(SEOArticleUserPrompt, topic, keywordList(keywords)),
	})
	if err != nil {
		return nil, err
	}

	var article GeneratedArticle
	if err := json.Unmarshal([]byte(stripMarkdownCodeBlock(response)), &article); err != nil {
		d.log.Error().
			Err(err).
			Str("provider", provider).
			Int("response_len", len(response)).
			Msg("Failed to parse generated article")
		return nil, fmt.Errorf("failed to parse generated article: %w", err)
	}

	article.Title = cleanTitle(article.Title)
	article.Body = strings.TrimSpace(article.Body)
	article.Excerpt = strings.TrimSpace(article.Excerpt)
	if article.Title == "" || article.Body == "" {
		return nil, fmt.Errorf("generated article from %s is missing title or body", provider)
	}
	article.Provider = provider
	return &article, nil
}
