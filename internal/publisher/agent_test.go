package publisher_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/article-autopilot/internal/ai"
	"github.com/article-autopilot/internal/config"
	"github.com/article-autopilot/internal/models"
	"github.com/article-autopilot/internal/publisher"
	"github.com/article-autopilot/internal/storage"
	"github.com/article-autopilot/internal/storage/database"
	"github.com/article-autopilot/internal/testsupport"
	"github.com/article-autopilot/pkg/logger"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, repo *database.Repository, title string, publishedAt *time.Time, views int, flagged bool) *models.Article {
	t.Helper()
	a := &models.Article{
		Title:          title,
		Slug:           strings.ReplaceAll(strings.ToLower(title), " ", "-"),
		Body:           "Body of " + title,
		Fingerprint:    "fp-" + title,
		SourceURL:      "https://news.example/" + strings.ReplaceAll(title, " ", "-"),
		ViewCount:      views,
		QualityFlagged: flagged,
	}
	if publishedAt != nil {
		a.MarkPublished(*publishedAt)
	}
	require.NoError(t, repo.CreateArticle(context.Background(), a))
	return a
}

func daysAgo(d float64) *time.Time {
	at := now.Add(-time.Duration(d * float64(24*time.Hour)))
	return &at
}

type fakeGenerator struct {
	hasKey bool
	fn     func(ctx context.Context, topic string) (*ai.GeneratedArticle, error)

	mu     sync.Mutex
	topics []string
}

func (g *fakeGenerator) GenerateArticle(ctx context.Context, topic string, _ []string) (*ai.GeneratedArticle, error) {
	g.mu.Lock()
	g.topics = append(g.topics, topic)
	g.mu.Unlock()
	return g.fn(ctx, topic)
}

func (g *fakeGenerator) HasUsableKey(context.Context) bool { return g.hasKey }

func uniqueArticles(_ context.Context, topic string) (*ai.GeneratedArticle, error) {
	return &ai.GeneratedArticle{
		Title:    "Guide: " + topic,
		Body:     "A complete guide about " + topic + ". It covers the basics and more.",
		Tags:     []string{"guide"},
		Provider: "groq",
	}, nil
}

func newAgent(t *testing.T, gen publisher.Generator, cfg config.ScheduleConfig, topics ...string) (*publisher.Agent, *database.Repository) {
	t.Helper()
	repo := testsupport.NewRepository(t)
	clock := testsupport.NewClock(now)
	opts := []publisher.Option{publisher.WithClock(clock.Now)}
	if len(topics) > 0 {
		opts = append(opts, publisher.WithTopics(publisher.NewTopicRotation(topics)))
	}
	agent := publisher.NewAgent(repo, gen, cfg, publisher.DefaultEvictionWeights(), logger.Nop(), opts...)
	return agent, repo
}

func publishedIDs(t *testing.T, repo *database.Repository) map[uint]bool {
	t.Helper()
	articles, err := repo.ListArticles(context.Background(), storage.PublishedFilter())
	require.NoError(t, err)
	ids := make(map[uint]bool, len(articles))
	for _, a := range articles {
		ids[a.ID] = true
	}
	return ids
}

func TestEvictKeepsTopScoredArticles(t *testing.T) {
	t.Parallel()

	agent, repo := newAgent(t, nil, config.ScheduleConfig{})
	ctx := context.Background()
	require.NoError(t, repo.SetSetting(ctx, config.KeyMaxArticleCount, "20"))

	var byAge []*models.Article
	for i := 0; i < 24; i++ {
		byAge = append(byAge, seed(t, repo, fmt.Sprintf("story %d", i), daysAgo(float64(i)), 0, false))
	}
	stale := seed(t, repo, "stale story", daysAgo(90), 0, false)

	deleted, err := agent.Evict(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, deleted)

	kept := publishedIDs(t, repo)
	require.Len(t, kept, 20)
	require.False(t, kept[stale.ID])
	for i, a := range byAge {
		require.Equal(t, i < 20, kept[a.ID], "article aged %d days", i)
	}
}

func TestEvictNoopAtOrBelowCap(t *testing.T) {
	t.Parallel()

	agent, repo := newAgent(t, nil, config.ScheduleConfig{})
	ctx := context.Background()
	require.NoError(t, repo.SetSetting(ctx, config.KeyMaxArticleCount, "2"))
	seed(t, repo, "one", daysAgo(1), 0, false)
	seed(t, repo, "two", daysAgo(2), 0, false)

	deleted, err := agent.Evict(ctx)
	require.NoError(t, err)
	require.Zero(t, deleted)
	require.Len(t, publishedIDs(t, repo), 2)
}

func TestEvictTrafficOutweighsAge(t *testing.T) {
	t.Parallel()

	agent, repo := newAgent(t, nil, config.ScheduleConfig{})
	ctx := context.Background()
	require.NoError(t, repo.SetSetting(ctx, config.KeyMaxArticleCount, "1"))

	popular := seed(t, repo, "popular old", daysAgo(40), 30, false)
	seed(t, repo, "fresh unread", daysAgo(0), 0, false)

	_, err := agent.Evict(ctx)
	require.NoError(t, err)
	require.Equal(t, map[uint]bool{popular.ID: true}, publishedIDs(t, repo))
}

func TestPartitionBreaksTiesByRecency(t *testing.T) {
	t.Parallel()

	older := &models.Article{ID: 1}
	older.MarkPublished(*daysAgo(70))
	newer := &models.Article{ID: 2}
	newer.MarkPublished(*daysAgo(60))

	w := publisher.DefaultEvictionWeights()
	require.Zero(t, w.Score(older, now))
	require.Zero(t, w.Score(newer, now))

	kept, evicted := w.Partition([]*models.Article{older, newer}, 1, now)
	require.Equal(t, []*models.Article{newer}, kept)
	require.Equal(t, []*models.Article{older}, evicted)
}

func TestEvictionScore(t *testing.T) {
	t.Parallel()

	w := publisher.DefaultEvictionWeights()
	a := &models.Article{ViewCount: 12}
	a.MarkPublished(*daysAgo(10))
	// 0.6*24 + 0.3*40 + 0.1*20
	require.InDelta(t, 28.4, w.Score(a, now), 1e-9)

	capped := &models.Article{ViewCount: 500}
	capped.MarkPublished(*daysAgo(100))
	require.InDelta(t, 0.6*100+0.1*20, w.Score(capped, now), 1e-9)
}

func TestWeightsFromConfigKeepsDefaults(t *testing.T) {
	t.Parallel()

	w := publisher.WeightsFromConfig(config.EvictionConfig{TrafficCap: 50})
	require.Equal(t, 0.6, w.Traffic)
	require.Equal(t, 50.0, w.TrafficCap)
	require.Equal(t, 10, w.QualityViewThreshold)
}

func TestPublishDuePublishesOldestThenEvicts(t *testing.T) {
	t.Parallel()

	agent, repo := newAgent(t, nil, config.ScheduleConfig{PublishBatch: 3})
	ctx := context.Background()
	require.NoError(t, repo.SetSetting(ctx, config.KeyMaxArticleCount, "2"))

	flagged := seed(t, repo, "flagged draft", nil, 0, true)
	first := seed(t, repo, "draft one", nil, 0, false)
	second := seed(t, repo, "draft two", nil, 0, false)
	third := seed(t, repo, "draft three", nil, 0, false)
	fourth := seed(t, repo, "draft four", nil, 0, false)

	result, err := agent.PublishDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, result.Published)
	require.Equal(t, 1, result.Evicted)

	kept := publishedIDs(t, repo)
	require.Len(t, kept, 2)
	require.False(t, kept[flagged.ID])
	require.False(t, kept[fourth.ID])
	// all three share a publish time, so the highest IDs survive
	require.Equal(t, map[uint]bool{second.ID: true, third.ID: true}, kept)
	require.NotContains(t, kept, first.ID)

	drafts, err := repo.CountArticles(ctx, storage.AllDraftsFilter())
	require.NoError(t, err)
	require.EqualValues(t, 2, drafts)
}

func TestPublishDueSkipsWhenDisabled(t *testing.T) {
	t.Parallel()

	agent, repo := newAgent(t, nil, config.ScheduleConfig{})
	ctx := context.Background()
	require.NoError(t, repo.SetSetting(ctx, config.KeyAutoPublishEnabled, "false"))
	seed(t, repo, "draft", nil, 0, false)

	result, err := agent.PublishDue(ctx)
	require.NoError(t, err)
	require.True(t, result.Skipped)
	require.Empty(t, publishedIDs(t, repo))
}

func TestPublishDueWithoutDraftsDoesNotEvict(t *testing.T) {
	t.Parallel()

	agent, repo := newAgent(t, nil, config.ScheduleConfig{})
	ctx := context.Background()
	require.NoError(t, repo.SetSetting(ctx, config.KeyMaxArticleCount, "1"))
	seed(t, repo, "one", daysAgo(1), 0, false)
	seed(t, repo, "two", daysAgo(2), 0, false)

	result, err := agent.PublishDue(ctx)
	require.NoError(t, err)
	require.Zero(t, result.Published)
	require.Zero(t, result.Evicted)
	require.Len(t, publishedIDs(t, repo), 2)
}

func TestPublishManual(t *testing.T) {
	t.Parallel()

	agent, repo := newAgent(t, nil, config.ScheduleConfig{})
	ctx := context.Background()

	n, err := agent.PublishManual(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	for i := 0; i < 7; i++ {
		seed(t, repo, fmt.Sprintf("draft %d", i), nil, 0, false)
	}
	n, err = agent.PublishManual(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	published, err := repo.ListArticles(ctx, storage.PublishedFilter())
	require.NoError(t, err)
	for _, a := range published {
		require.NotNil(t, a.PublishedAt)
	}
}

func TestGenerateSEOBatchPublishesEachArticle(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{hasKey: true, fn: uniqueArticles}
	agent, repo := newAgent(t, gen, config.ScheduleConfig{}, "alpha", "beta", "gamma")
	ctx := context.Background()
	require.NoError(t, repo.SetSetting(ctx, config.KeySEOEnabled, "true"))

	result, err := agent.GenerateSEOBatch(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, 3, result.Generated)
	require.Len(t, result.ArticleIDs, 3)
	require.ElementsMatch(t, []string{"alpha", "beta", "gamma"}, gen.topics)

	articles, err := repo.ListArticles(ctx, storage.PublishedFilter())
	require.NoError(t, err)
	require.Len(t, articles, 3)
	for _, a := range articles {
		require.Equal(t, models.ArticleOriginSEO, a.Origin)
		require.Equal(t, "groq", a.AIProvider)
		require.NotEmpty(t, a.Excerpt)
	}
}

func TestGenerateSEOBatchStopsWhenEveryTopicDuplicates(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{hasKey: true, fn: func(context.Context, string) (*ai.GeneratedArticle, error) {
		return &ai.GeneratedArticle{Title: "Same title", Body: "Same body every time."}, nil
	}}
	agent, repo := newAgent(t, gen, config.ScheduleConfig{}, "alpha", "beta", "gamma")
	ctx := context.Background()
	require.NoError(t, repo.SetSetting(ctx, config.KeySEOEnabled, "true"))

	result, err := agent.GenerateSEOBatch(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, 1, result.Generated)
	require.Equal(t, 3, result.Duplicates)
	require.Len(t, gen.topics, 4)
}

func TestGenerateSEOBatchTimesOutEachAttempt(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{hasKey: true, fn: func(ctx context.Context, _ string) (*ai.GeneratedArticle, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	agent, repo := newAgent(t, gen, config.ScheduleConfig{SEOTimeout: 10 * time.Millisecond}, "alpha", "beta")
	ctx := context.Background()
	require.NoError(t, repo.SetSetting(ctx, config.KeySEOEnabled, "true"))

	result, err := agent.GenerateSEOBatch(ctx, 1)
	require.NoError(t, err)
	require.Zero(t, result.Generated)
	require.Equal(t, 3, result.Failed)
}

func TestGenerateSEOBatchNoops(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	gen := &fakeGenerator{hasKey: true, fn: uniqueArticles}
	agent, _ := newAgent(t, gen, config.ScheduleConfig{})
	result, err := agent.GenerateSEOBatch(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, "seo generation disabled", result.Skipped)

	keyless := &fakeGenerator{fn: uniqueArticles}
	agent, repo := newAgent(t, keyless, config.ScheduleConfig{})
	require.NoError(t, repo.SetSetting(ctx, config.KeySEOEnabled, "true"))
	result, err = agent.GenerateSEOBatch(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, "no provider key configured", result.Skipped)
	require.Empty(t, keyless.topics)
}

func TestTopicRotationCyclesWithoutReplacement(t *testing.T) {
	t.Parallel()

	topics := []string{"a", "b", "c", "d"}
	r := publisher.NewTopicRotation(topics)

	var first []string
	for range topics {
		first = append(first, r.Next())
	}
	require.ElementsMatch(t, topics, first)
	require.Equal(t, 1, r.Cycle())
	require.Zero(t, r.Remaining())

	r.Next()
	require.Equal(t, 2, r.Cycle())
	require.Equal(t, 3, r.Remaining())
}

func TestStats(t *testing.T) {
	t.Parallel()

	agent, repo := newAgent(t, nil, config.ScheduleConfig{})
	ctx := context.Background()

	seed(t, repo, "today a", daysAgo(0.1), 0, false)
	seed(t, repo, "today b", daysAgo(0.2), 0, false)
	seed(t, repo, "yesterday", daysAgo(1), 0, false)
	seed(t, repo, "last week", daysAgo(7), 0, false)
	seed(t, repo, "draft", nil, 0, false)
	seed(t, repo, "flagged", nil, 0, true)

	stats, err := agent.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.PublishedToday)
	require.EqualValues(t, 1, stats.PublishedYesterday)
	require.EqualValues(t, 4, stats.TotalPublished)
	require.EqualValues(t, 2, stats.Drafts)
	require.EqualValues(t, 1, stats.FlaggedDrafts)
}
