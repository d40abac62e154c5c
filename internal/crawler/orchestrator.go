package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/article-autopilot/internal/ai"
	"github.com/article-autopilot/internal/config"
	"github.com/article-autopilot/internal/metrics"
	"github.com/article-autopilot/internal/models"
	"github.com/article-autopilot/internal/storage"
	"github.com/article-autopilot/pkg/logger"
)

// Rewriter is the best-effort AI rewrite surface the crawler needs
type Rewriter interface {
	Rewrite(ctx context.Context, content string, keywords []string) ai.RewriteResult
	RewriteTitle(ctx context.Context, title string, keywords []string) ai.RewriteResult
}

// Store is the persistence the crawler reads and writes
type Store interface {
	storage.SourceStore
	storage.ArticleStore
	config.SettingsReader
}

// CrawlOptions controls one crawl pass. Zero values fall back to settings.
type CrawlOptions struct {
	Parallel         *bool
	ConcurrencyLimit int
	// DueOnly skips sources whose own crawl interval has not elapsed
	DueOnly bool
	// RunID labels the run; a fresh one is generated when empty
	RunID string
}

// Run is the outcome of a crawl pass
type Run struct {
	Results []models.CrawlResult `json:"results"`
	Summary models.CrawlSummary  `json:"summary"`
}

type outcome int

const (
	outcomeSaved outcome = iota
	outcomePublished
	outcomeDuplicate
	outcomeFailed
)

// Orchestrator turns enabled sources into stored articles
type Orchestrator struct {
	store    Store
	fetcher  Fetcher
	feeds    *FeedDiscoverer
	rewriter Rewriter
	dedup    *DuplicateChecker
	scorer   *QualityScorer
	cfg      config.CrawlerConfig
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
	log      *logger.Logger
}

// Option customizes the orchestrator
type Option func(*Orchestrator)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSleeper overrides how inter-batch and inter-article pauses are taken
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// WithScorer overrides the quality scorer
func WithScorer(scorer *QualityScorer) Option {
	return func(o *Orchestrator) {
		if scorer != nil {
			o.scorer = scorer
		}
	}
}

// NewOrchestrator creates a crawl orchestrator. feeds and rewriter may be nil.
func NewOrchestrator(
	store Store,
	fetcher Fetcher,
	feeds *FeedDiscoverer,
	rewriter Rewriter,
	cfg config.CrawlerConfig,
	log *logger.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		fetcher:  fetcher,
		feeds:    feeds,
		rewriter: rewriter,
		dedup:    NewDuplicateChecker(store),
		scorer:   NewQualityScorer(),
		cfg:      cfg,
		now:      time.Now,
		sleep:    pause,
		log:      log.WithComponent("crawler"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PerformCrawl crawls every enabled source, sequentially or in concurrent
// batches, and always returns one result per attempted source
func (o *Orchestrator) PerformCrawl(ctx context.Context, opts CrawlOptions) (*Run, error) {
	start := o.now()
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	log := o.log.WithRunID(runID)

	settings, err := config.LoadSettings(ctx, o.store)
	if err != nil {
		return nil, err
	}

	sources, err := o.store.ListSources(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	if opts.DueOnly {
		due := sources[:0]
		for _, src := range sources {
			if src.DueForCrawl(start) {
				due = append(due, src)
			}
		}
		sources = due
	}

	parallel := settings.ParallelCrawling
	if opts.Parallel != nil {
		parallel = *opts.Parallel
	}
	limit := settings.ConcurrencyLimit
	if opts.ConcurrencyLimit > 0 {
		limit = min(opts.ConcurrencyLimit, config.MaxConcurrency)
	}
	if !parallel || len(sources) <= 1 {
		limit = 1
	}

	log.Info().
		Int("sources", len(sources)).
		Bool("parallel", parallel).
		Int("concurrency", limit).
		Msg("Starting crawl")

	results := make([]models.CrawlResult, len(sources))
	for batchStart := 0; batchStart < len(sources); batchStart += limit {
		if batchStart > 0 {
			if err := o.sleep(ctx, o.cfg.BatchDelay); err != nil {
				o.abandon(results, sources, batchStart, err)
				break
			}
		}
		batchEnd := min(batchStart+limit, len(sources))

		var g errgroup.Group
		for i := batchStart; i < batchEnd; i++ {
			g.Go(func() error {
				results[i] = o.CrawlSource(ctx, sources[i], settings)
				return nil
			})
		}
		_ = g.Wait()
	}

	duration := o.now().Sub(start)
	summary := models.Summarize(runID, results, duration)
	metrics.ObserveCrawlRun(duration)

	log.Info().
		Int("attempted", summary.SourcesAttempted).
		Int("succeeded", summary.SourcesSucceeded).
		Int("found", summary.TotalFound).
		Int("processed", summary.TotalProcessed).
		Int("published", summary.TotalPublished).
		Int("errors", summary.TotalErrors).
		Dur("duration", duration).
		Msg("Crawl completed")

	return &Run{Results: results, Summary: summary}, nil
}

// abandon fills results for sources never reached because ctx ended
func (o *Orchestrator) abandon(results []models.CrawlResult, sources []*models.Source, from int, err error) {
	for i := from; i < len(sources); i++ {
		r := models.CrawlResult{
			SourceID:   sources[i].ID,
			SourceName: sources[i].Name,
			CrawledAt:  o.now(),
		}
		r.AddError(fmt.Errorf("crawl interrupted: %w", err))
		results[i] = r
	}
}

// CrawlByID crawls a single source regardless of its interval
func (o *Orchestrator) CrawlByID(ctx context.Context, id uint) (*models.CrawlResult, error) {
	settings, err := config.LoadSettings(ctx, o.store)
	if err != nil {
		return nil, err
	}
	src, err := o.store.GetSourceByID(ctx, id)
	if err != nil {
		return nil, err
	}
	result := o.CrawlSource(ctx, src, settings)
	return &result, nil
}

// CrawlSource runs one source: discover links, then fetch, dedupe, rewrite,
// score and persist each article in turn
func (o *Orchestrator) CrawlSource(ctx context.Context, src *models.Source, settings *config.Settings) models.CrawlResult {
	start := o.now()
	log := o.log.WithSource(src.ID, src.Name)
	result := models.CrawlResult{
		SourceID:   src.ID,
		SourceName: src.Name,
		CrawledAt:  start,
	}
	defer func() {
		result.Duration = o.now().Sub(start)
		metrics.ObserveSource(result.Success)
		if err := o.store.TouchSourceCrawl(context.WithoutCancel(ctx), src.ID, start); err != nil {
			log.Warn().Err(err).Msg("Failed to record crawl time")
		}
	}()

	candidates, err := o.discover(ctx, src)
	if err != nil {
		log.Error().Err(err).Msg("Source discovery failed")
		result.AddError(err)
		return result
	}
	if limit := src.ArticleCap(); len(candidates) > limit {
		candidates = candidates[:limit]
	}
	result.Found = len(candidates)
	result.Success = true

	for i, link := range candidates {
		if i > 0 {
			if err := o.sleep(ctx, o.cfg.ArticleDelay); err != nil {
				result.AddError(fmt.Errorf("crawl interrupted: %w", err))
				break
			}
		}

		out, err := o.processArticle(ctx, src, link, settings)
		metrics.ObserveArticle(outcomeLabel(out))
		switch out {
		case outcomePublished:
			result.Processed++
			result.Published++
		case outcomeSaved:
			result.Processed++
		case outcomeDuplicate:
			result.Skipped++
		case outcomeFailed:
			log.Warn().Err(err).Str("url", link).Msg("Article failed")
			result.AddError(fmt.Errorf("%s: %w", link, err))
		}
	}

	log.Info().
		Int("found", result.Found).
		Int("processed", result.Processed).
		Int("published", result.Published).
		Int("skipped", result.Skipped).
		Int("errors", len(result.Errors)).
		Msg("Source crawled")
	return result
}

// discover lists candidate article URLs, preferring the source's feed
func (o *Orchestrator) discover(ctx context.Context, src *models.Source) ([]string, error) {
	if src.FeedURL != "" && o.feeds != nil {
		items, err := o.feeds.Discover(ctx, src.FeedURL)
		if err == nil && len(items) > 0 {
			links := make([]string, 0, len(items))
			for _, item := range items {
				if normalized, err := NormalizeURL(item.URL); err == nil {
					links = append(links, normalized)
				}
			}
			return links, nil
		}
		o.log.WithSource(src.ID, src.Name).Warn().Err(err).Msg("Feed unavailable, falling back to index page")
	}

	page, err := o.fetcher.Fetch(ctx, src.BaseURL)
	if err != nil {
		return nil, err
	}
	pageURL := page.FinalURL
	if pageURL == "" {
		pageURL = src.BaseURL
	}
	return ExtractLinks(pageURL, page.Body, LinkOptions{
		Selector: src.LinkSelector,
		Limit:    src.ArticleCap() * 3,
	})
}

func (o *Orchestrator) processArticle(ctx context.Context, src *models.Source, link string, settings *config.Settings) (outcome, error) {
	seen, err := o.dedup.SeenURL(ctx, link)
	if err != nil {
		return outcomeFailed, err
	}
	if seen {
		return outcomeDuplicate, nil
	}

	page, err := o.fetcher.Fetch(ctx, link)
	if err != nil {
		return outcomeFailed, err
	}
	extracted, err := ExtractArticle(page.Body, ExtractOptions{
		TitleSelector:   src.TitleSelector,
		ContentSelector: src.ContentSelector,
		MaxBodyChars:    o.cfg.MaxBodyChars,
	})
	if err != nil {
		return outcomeFailed, err
	}

	seen, reason, err := o.dedup.SeenContent(ctx, extracted.Title, extracted.Body)
	if err != nil {
		return outcomeFailed, err
	}
	if seen {
		o.log.Debug().Str("url", link).Str("match", reason).Msg("Duplicate content")
		return outcomeDuplicate, nil
	}

	// The fingerprint is taken before rewriting so the same source text
	// always collides
	fingerprint := Fingerprint(extracted.Body)
	title, body, provider := extracted.Title, extracted.Body, ""
	if settings.AIRewriteEnabled && o.rewriter != nil {
		if res := o.rewriter.RewriteTitle(ctx, title, settings.SEOKeywords); res.Rewritten {
			title = res.Text
		}
		if res := o.rewriter.Rewrite(ctx, body, settings.SEOKeywords); res.Rewritten {
			body = res.Text
			provider = res.Provider
		}
	}

	report := o.scorer.Score(title, body, settings.SEOKeywords)
	if !o.scorer.Passes(report) {
		fixed := AutoFix(body)
		if refit := o.scorer.Score(title, fixed, settings.SEOKeywords); refit.Score >= report.Score {
			body, report = fixed, refit
		}
	}
	flagged := !o.scorer.Passes(report)

	now := o.now()
	sourceID := src.ID
	article := &models.Article{
		Title:          title,
		Slug:           Slugify(title, now),
		Body:           body,
		Excerpt:        Excerpt(body, 200),
		Author:         extracted.Author,
		SourceID:       &sourceID,
		SourceURL:      link,
		Fingerprint:    fingerprint,
		Tags:           matchedKeywords(title+" "+body, settings.SEOKeywords),
		AIProvider:     provider,
		QualityScore:   report.Score,
		QualityFlagged: flagged,
		Origin:         models.ArticleOriginCrawl,
	}
	if settings.AutoPublishEnabled && !flagged {
		article.MarkPublished(now)
	}

	if err := o.store.CreateArticle(ctx, article); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return outcomeDuplicate, nil
		}
		return outcomeFailed, fmt.Errorf("save article: %w", err)
	}
	if article.IsPublished {
		return outcomePublished, nil
	}
	return outcomeSaved, nil
}

func matchedKeywords(text string, keywords []string) models.StringSlice {
	text = strings.ToLower(text)
	var tags models.StringSlice
	for _, k := range keywords {
		if strings.Contains(text, strings.ToLower(k)) {
			tags = append(tags, k)
		}
	}
	return tags
}

func outcomeLabel(o outcome) string {
	switch o {
	case outcomeSaved:
		return "saved"
	case outcomePublished:
		return "published"
	case outcomeDuplicate:
		return "duplicate"
	default:
		return "failed"
	}
}

// pause waits for d or until ctx is done
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
