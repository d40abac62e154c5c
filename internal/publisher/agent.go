package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/article-autopilot/internal/ai"
	"github.com/article-autopilot/internal/config"
	"github.com/article-autopilot/internal/crawler"
	"github.com/article-autopilot/internal/metrics"
	"github.com/article-autopilot/internal/models"
	"github.com/article-autopilot/internal/storage"
	"github.com/article-autopilot/pkg/logger"
)

const (
	defaultPublishBatch = 3
	defaultManualBatch  = 5
	defaultSEOTimeout   = 120 * time.Second
)

var errDuplicateTopic = errors.New("generated article duplicates stored content")

// Generator writes SEO articles through the AI dispatcher
type Generator interface {
	GenerateArticle(ctx context.Context, topic string, keywords []string) (*ai.GeneratedArticle, error)
	HasUsableKey(ctx context.Context) bool
}

// Store is the persistence the publisher reads and writes
type Store interface {
	storage.ArticleStore
	config.SettingsReader
}

// Agent promotes drafts, evicts low-value articles and generates SEO articles
type Agent struct {
	store     Store
	generator Generator
	topics    *TopicRotation
	weights   EvictionWeights
	cfg       config.ScheduleConfig
	dedup     *crawler.DuplicateChecker
	scorer    *crawler.QualityScorer
	now       func() time.Time
	log       *logger.Logger
}

// Option customizes the agent
type Option func(*Agent)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

// WithTopics overrides the SEO topic rotation
func WithTopics(topics *TopicRotation) Option {
	return func(a *Agent) {
		if topics != nil {
			a.topics = topics
		}
	}
}

// NewAgent creates a new publisher agent. generator may be nil, which
// disables SEO generation.
func NewAgent(
	store Store,
	generator Generator,
	scheduleConfig config.ScheduleConfig,
	weights EvictionWeights,
	log *logger.Logger,
	opts ...Option,
) *Agent {
	a := &Agent{
		store:     store,
		generator: generator,
		topics:    NewTopicRotation(DefaultTopics),
		weights:   weights,
		cfg:       scheduleConfig,
		dedup:     crawler.NewDuplicateChecker(store),
		scorer:    crawler.NewQualityScorer(),
		now:       time.Now,
		log:       log.WithComponent("publisher"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// PublishResult is the outcome of a timetable publish
type PublishResult struct {
	Published int  `json:"published"`
	Evicted   int  `json:"evicted"`
	Skipped   bool `json:"skipped"`
}

// PublishDue publishes the oldest drafts when auto-publish is on and, if
// anything was published, runs an eviction pass
func (a *Agent) PublishDue(ctx context.Context) (*PublishResult, error) {
	settings, err := config.LoadSettings(ctx, a.store)
	if err != nil {
		return nil, err
	}
	if !settings.AutoPublishEnabled {
		a.log.Debug().Msg("Auto-publish disabled, skipping")
		return &PublishResult{Skipped: true}, nil
	}

	limit := a.cfg.PublishBatch
	if limit <= 0 {
		limit = defaultPublishBatch
	}
	published, err := a.publishOldest(ctx, limit, "schedule")
	if err != nil {
		return nil, err
	}
	result := &PublishResult{Published: published}
	if published == 0 {
		return result, nil
	}

	evicted, err := a.Evict(ctx)
	if err != nil {
		return result, fmt.Errorf("eviction after publish: %w", err)
	}
	result.Evicted = evicted
	return result, nil
}

// PublishManual publishes up to five of the oldest drafts immediately and
// returns how many were published; zero means there was nothing to publish
func (a *Agent) PublishManual(ctx context.Context) (int, error) {
	limit := a.cfg.ManualPublishBatch
	if limit <= 0 {
		limit = defaultManualBatch
	}
	return a.publishOldest(ctx, limit, "manual")
}

func (a *Agent) publishOldest(ctx context.Context, limit int, trigger string) (int, error) {
	drafts, err := a.store.ListArticles(ctx, storage.DraftFilter(limit))
	if err != nil {
		return 0, fmt.Errorf("failed to list drafts: %w", err)
	}
	if len(drafts) == 0 {
		return 0, nil
	}

	ids := make([]uint, len(drafts))
	for i, d := range drafts {
		ids[i] = d.ID
	}
	n, err := a.store.PublishArticles(ctx, ids, a.now())
	if err != nil {
		return 0, fmt.Errorf("failed to publish drafts: %w", err)
	}

	metrics.ObservePublished(trigger, int(n))
	a.log.Info().
		Int64("published", n).
		Str("trigger", trigger).
		Msg("Drafts published")
	return int(n), nil
}

// Evict hard-deletes the lowest scored published articles until the
// published count is within max_article_count, returning the deleted count
func (a *Agent) Evict(ctx context.Context) (int, error) {
	settings, err := config.LoadSettings(ctx, a.store)
	if err != nil {
		return 0, err
	}
	limit := settings.MaxArticleCount
	if limit <= 0 {
		return 0, fmt.Errorf("%w: max_article_count must be positive", config.ErrInvalidSettings)
	}

	total, err := a.store.CountArticles(ctx, storage.PublishedFilter())
	if err != nil {
		return 0, fmt.Errorf("failed to count published articles: %w", err)
	}
	if total <= int64(limit) {
		metrics.SetPublishedCurrent(total)
		return 0, nil
	}

	published, err := a.store.ListArticles(ctx, storage.PublishedFilter())
	if err != nil {
		return 0, fmt.Errorf("failed to list published articles: %w", err)
	}
	_, victims := a.weights.Partition(published, limit, a.now())
	if len(victims) == 0 {
		return 0, nil
	}

	ids := make([]uint, len(victims))
	for i, v := range victims {
		ids[i] = v.ID
	}
	deleted, err := a.store.DeleteArticles(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete articles: %w", err)
	}

	metrics.ObserveEvicted(int(deleted))
	metrics.SetPublishedCurrent(total - deleted)
	a.log.Info().
		Int64("deleted", deleted).
		Int64("published_before", total).
		Int("max_articles", limit).
		Msg("Eviction pass completed")
	return int(deleted), nil
}

// SEOBatchResult is the outcome of one SEO generation run
type SEOBatchResult struct {
	Requested  int    `json:"requested"`
	Generated  int    `json:"generated"`
	Duplicates int    `json:"duplicates"`
	Failed     int    `json:"failed"`
	ArticleIDs []uint `json:"article_ids"`
	Skipped    string `json:"skipped,omitempty"`
}

// GenerateSEOBatch writes up to count articles from the topic rotation and
// publishes each immediately. A count of zero uses seo_daily_count.
func (a *Agent) GenerateSEOBatch(ctx context.Context, count int) (*SEOBatchResult, error) {
	settings, err := config.LoadSettings(ctx, a.store)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		count = settings.SEODailyCount
	}
	result := &SEOBatchResult{Requested: count}

	switch {
	case !settings.SEOEnabled:
		result.Skipped = "seo generation disabled"
		return result, nil
	case a.generator == nil || !a.generator.HasUsableKey(ctx):
		result.Skipped = "no provider key configured"
		return result, nil
	case count == 0:
		return result, nil
	}

	// Every topic may come back as a duplicate, so attempts are bounded by
	// one extra cycle beyond the requested count
	maxAttempts := count + a.topics.Len()
	duplicateRun := 0
	for attempt := 0; attempt < maxAttempts && result.Generated < count; attempt++ {
		if ctx.Err() != nil {
			break
		}
		topic := a.topics.Next()

		article, err := a.generateOne(ctx, topic, settings.SEOKeywords)
		switch {
		case errors.Is(err, errDuplicateTopic):
			result.Duplicates++
			duplicateRun++
			a.log.Debug().Str("topic", topic).Msg("Generated article is a duplicate, rotating topic")
		case err != nil:
			result.Failed++
			duplicateRun = 0
			a.log.Warn().Err(err).Str("topic", topic).Msg("SEO generation failed")
		default:
			duplicateRun = 0
			result.Generated++
			result.ArticleIDs = append(result.ArticleIDs, article.ID)
		}

		if errors.Is(err, ai.ErrNoProvider) {
			break
		}
		if duplicateRun >= a.topics.Len() {
			a.log.Warn().Msg("Every topic produced a duplicate, stopping")
			break
		}
	}

	metrics.ObservePublished("seo", result.Generated)
	a.log.Info().
		Int("requested", result.Requested).
		Int("generated", result.Generated).
		Int("duplicates", result.Duplicates).
		Int("failed", result.Failed).
		Msg("SEO batch completed")
	return result, nil
}

func (a *Agent) generateOne(ctx context.Context, topic string, keywords []string) (*models.Article, error) {
	timeout := a.cfg.SEOTimeout
	if timeout <= 0 {
		timeout = defaultSEOTimeout
	}
	genCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	generated, err := a.generator.GenerateArticle(genCtx, topic, keywords)
	if err != nil {
		if errors.Is(genCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("generation timed out after %s: %w", timeout, err)
		}
		return nil, err
	}

	seen, _, err := a.dedup.SeenContent(ctx, generated.Title, generated.Body)
	if err != nil {
		return nil, err
	}
	if seen {
		return nil, errDuplicateTopic
	}

	now := a.now()
	excerpt := strings.TrimSpace(generated.Excerpt)
	if excerpt == "" {
		excerpt = crawler.Excerpt(generated.Body, 200)
	}
	report := a.scorer.Score(generated.Title, generated.Body, keywords)
	article := &models.Article{
		Title:        generated.Title,
		Slug:         crawler.Slugify(generated.Title, now),
		Body:         generated.Body,
		Excerpt:      excerpt,
		Fingerprint:  crawler.Fingerprint(generated.Body),
		Tags:         models.StringSlice(generated.Tags),
		AIProvider:   generated.Provider,
		QualityScore: report.Score,
		Origin:       models.ArticleOriginSEO,
	}
	article.MarkPublished(now)

	if err := a.store.CreateArticle(ctx, article); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, errDuplicateTopic
		}
		return nil, fmt.Errorf("save generated article: %w", err)
	}
	a.log.WithArticleID(article.ID).Info().
		Str("topic", topic).
		Str("provider", generated.Provider).
		Msg("SEO article published")
	return article, nil
}

// Stats summarizes the published corpus
type Stats struct {
	PublishedToday     int64 `json:"published_today"`
	PublishedYesterday int64 `json:"published_yesterday"`
	TotalPublished     int64 `json:"total_published"`
	Drafts             int64 `json:"drafts"`
	FlaggedDrafts      int64 `json:"flagged_drafts"`
}

// Stats counts published and draft articles; day boundaries follow the
// clock's location
func (a *Agent) Stats(ctx context.Context) (*Stats, error) {
	now := a.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	yesterday := today.AddDate(0, 0, -1)
	tomorrow := today.AddDate(0, 0, 1)

	var s Stats
	var publishable int64
	g, gctx := errgroup.WithContext(ctx)
	count := func(dst *int64, filter storage.ArticleFilter) func() error {
		return func() error {
			n, err := a.store.CountArticles(gctx, filter)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		}
	}
	g.Go(count(&s.PublishedToday, storage.PublishedBetween(today, tomorrow)))
	g.Go(count(&s.PublishedYesterday, storage.PublishedBetween(yesterday, today)))
	g.Go(count(&s.TotalPublished, storage.PublishedFilter()))
	g.Go(count(&s.Drafts, storage.AllDraftsFilter()))
	g.Go(count(&publishable, storage.DraftFilter(0)))
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to collect stats: %w", err)
	}
	s.FlaggedDrafts = s.Drafts - publishable

	metrics.SetPublishedCurrent(s.TotalPublished)
	return &s, nil
}
