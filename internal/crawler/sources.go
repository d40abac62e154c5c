package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/article-autopilot/internal/config"
	"github.com/article-autopilot/internal/models"
	"github.com/article-autopilot/internal/storage"
)

// SeedSources creates the configured sources that are not stored yet,
// matching by name. Existing sources are left untouched.
func SeedSources(ctx context.Context, store storage.SourceStore, sources []config.SourceConfig) (int, error) {
	existing, err := store.ListSources(ctx, false)
	if err != nil {
		return 0, fmt.Errorf("failed to list sources: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, s := range existing {
		known[strings.ToLower(s.Name)] = true
	}

	created := 0
	for _, sc := range sources {
		if known[strings.ToLower(sc.Name)] {
			continue
		}
		src, err := sourceFromConfig(sc)
		if err != nil {
			return created, err
		}
		if err := store.CreateSource(ctx, src); err != nil {
			return created, fmt.Errorf("failed to create source %s: %w", sc.Name, err)
		}
		known[strings.ToLower(sc.Name)] = true
		created++
	}
	return created, nil
}

func sourceFromConfig(sc config.SourceConfig) (*models.Source, error) {
	if strings.TrimSpace(sc.Name) == "" {
		return nil, fmt.Errorf("source without a name")
	}
	u, err := url.Parse(sc.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("source %s has an invalid base URL %q", sc.Name, sc.BaseURL)
	}
	return &models.Source{
		Name:                 sc.Name,
		BaseURL:              sc.BaseURL,
		FeedURL:              sc.FeedURL,
		Enabled:              true,
		MaxArticles:          sc.MaxArticles,
		CrawlIntervalMinutes: sc.CrawlIntervalMinutes,
		LinkSelector:         sc.LinkSelector,
		ContentSelector:      sc.ContentSelector,
	}, nil
}
