package crawler

import (
	"context"
	"fmt"

	"github.com/article-autopilot/internal/storage"
)

// DuplicateChecker tests candidates against articles already stored. URL
// checks run before fetching, content checks after extraction, since a new
// URL can still carry text that is already stored.
type DuplicateChecker struct {
	store storage.ArticleStore
}

// NewDuplicateChecker creates a checker
func NewDuplicateChecker(store storage.ArticleStore) *DuplicateChecker {
	return &DuplicateChecker{store: store}
}

// SeenURL reports whether an article was already stored from rawURL
func (d *DuplicateChecker) SeenURL(ctx context.Context, rawURL string) (bool, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		normalized = rawURL
	}
	exists, err := d.store.ArticleExistsByURL(ctx, normalized)
	if err != nil {
		return false, fmt.Errorf("url duplicate check: %w", err)
	}
	return exists, nil
}

// SeenContent reports whether the body's fingerprint or the exact title is
// already stored, and which one matched
func (d *DuplicateChecker) SeenContent(ctx context.Context, title, body string) (bool, string, error) {
	exists, err := d.store.ArticleExistsByFingerprint(ctx, Fingerprint(body))
	if err != nil {
		return false, "", fmt.Errorf("content duplicate check: %w", err)
	}
	if exists {
		return true, "fingerprint", nil
	}
	exists, err = d.store.ArticleExistsByTitle(ctx, title)
	if err != nil {
		return false, "", fmt.Errorf("title duplicate check: %w", err)
	}
	if exists {
		return true, "title", nil
	}
	return false, "", nil
}
