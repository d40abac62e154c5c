package storage

import (
	"context"
	"errors"
	"time"

	"github.com/article-autopilot/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert collides with an existing fingerprint or slug
	ErrDuplicate = errors.New("duplicate record")
)

// Repository defines the interface for data persistence
type Repository interface {
	SourceStore
	ArticleStore
	SettingsStore
	UsageStore
	ScheduleStore

	// Maintenance
	Ping(ctx context.Context) error
	Close() error
	Migrate() error
}

// SourceStore persists crawl sources
type SourceStore interface {
	CreateSource(ctx context.Context, source *models.Source) error
	GetSourceByID(ctx context.Context, id uint) (*models.Source, error)
	ListSources(ctx context.Context, enabledOnly bool) ([]*models.Source, error)
	UpdateSource(ctx context.Context, source *models.Source) error
	TouchSourceCrawl(ctx context.Context, id uint, at time.Time) error
}

// ArticleStore persists drafts and published articles
type ArticleStore interface {
	// CreateArticle returns ErrDuplicate when the fingerprint or slug already exists
	CreateArticle(ctx context.Context, article *models.Article) error
	GetArticleByID(ctx context.Context, id uint) (*models.Article, error)
	ListArticles(ctx context.Context, filter ArticleFilter) ([]*models.Article, error)
	ArticleExistsByURL(ctx context.Context, sourceURL string) (bool, error)
	ArticleExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error)
	ArticleExistsByTitle(ctx context.Context, title string) (bool, error)
	CountArticles(ctx context.Context, filter ArticleFilter) (int64, error)
	// PublishArticles flips the given drafts to published; already published rows are untouched
	PublishArticles(ctx context.Context, ids []uint, at time.Time) (int64, error)
	DeleteArticles(ctx context.Context, ids []uint) (int64, error)
	IncrementArticleViews(ctx context.Context, id uint, delta int) error
}

// SettingsStore is the key/value settings table
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	ListSettings(ctx context.Context) (map[string]string, error)
	SetSetting(ctx context.Context, key, value string) error
	// SetSettingIfMissing inserts the value only when the key is absent and reports whether it did
	SetSettingIfMissing(ctx context.Context, key, value string) (bool, error)
}

// UsageCeiling is the per-window request limit checked by ReserveUsage
type UsageCeiling struct {
	Daily  int
	Hourly int
	Minute int
}

// UsageStore persists provider usage ledger rows. Counters change only
// through atomic updates so several processes can share one ledger.
type UsageStore interface {
	GetUsage(ctx context.Context, key string) (*models.ProviderUsage, error)
	// ReserveUsage counts one request on seed's row when every window is
	// under its ceiling, and reports whether it did
	ReserveUsage(ctx context.Context, seed *models.ProviderUsage, ceiling UsageCeiling) (bool, error)
	RecordUsageOutcome(ctx context.Context, seed *models.ProviderUsage, success bool) error
}

// ScheduleStore persists the single computed schedule row
type ScheduleStore interface {
	GetScheduleConfig(ctx context.Context) (*models.ScheduleConfig, error)
	SaveScheduleConfig(ctx context.Context, cfg *models.ScheduleConfig) error
}

// ArticleFilter defines filtering options for articles
type ArticleFilter struct {
	Published       *bool
	SourceID        *uint
	PublishedAfter  *time.Time
	PublishedBefore *time.Time
	ExcludeFlagged  bool // skip drafts that failed the quality check
	Limit           int
	Offset          int
	OrderBy         string // "created_at", "published_at", "view_count"
	OrderDesc       bool
}

// DefaultArticleFilter returns a filter with sensible defaults
func DefaultArticleFilter() ArticleFilter {
	return ArticleFilter{
		Limit:     50,
		OrderBy:   "created_at",
		OrderDesc: true,
	}
}

// DraftFilter selects the oldest publishable drafts first
func DraftFilter(limit int) ArticleFilter {
	published := false
	return ArticleFilter{
		Published:      &published,
		ExcludeFlagged: true,
		Limit:          limit,
		OrderBy:        "created_at",
	}
}

// AllDraftsFilter selects every draft, flagged ones included
func AllDraftsFilter() ArticleFilter {
	published := false
	return ArticleFilter{Published: &published}
}

// PublishedFilter selects every published article
func PublishedFilter() ArticleFilter {
	published := true
	return ArticleFilter{
		Published: &published,
		OrderBy:   "published_at",
		OrderDesc: true,
	}
}

// PublishedBetween selects articles published in [from, to)
func PublishedBetween(from, to time.Time) ArticleFilter {
	f := PublishedFilter()
	f.PublishedAfter = &from
	f.PublishedBefore = &to
	return f
}
