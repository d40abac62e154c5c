package ai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/article-autopilot/internal/ai"
	"github.com/article-autopilot/internal/config"
	"github.com/article-autopilot/pkg/logger"
)

func status(name string, daily, hourly int) ai.ProviderStatus {
	rem := ai.Remaining{Daily: daily, Hourly: hourly, Minute: 10}
	return ai.ProviderStatus{Name: name, HasKey: true, Remaining: rem, Available: rem.Available()}
}

func TestPlanScheduleClampsExtremes(t *testing.T) {
	t.Parallel()

	cfg := config.Default().Schedule
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name      string
		providers []ai.ProviderStatus
	}{
		{name: "no providers"},
		{name: "zero quota", providers: []ai.ProviderStatus{status("a", 0, 0)}},
		{name: "unlimited quota", providers: []ai.ProviderStatus{status("a", 1<<30, 1<<30)}},
		{name: "tiny quota", providers: []ai.ProviderStatus{status("a", 1, 1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := ai.PlanSchedule(cfg, ai.ScheduleInput{Now: now, Providers: tc.providers})
			require.GreaterOrEqual(t, plan.CrawlIntervalMinutes, cfg.CrawlMinMinutes)
			require.LessOrEqual(t, plan.CrawlIntervalMinutes, cfg.CrawlMaxMinutes)
			require.GreaterOrEqual(t, plan.SEOIntervalMinutes, cfg.SEOMinMinutes)
			require.LessOrEqual(t, plan.SEOIntervalMinutes, cfg.SEOMaxMinutes)
			require.GreaterOrEqual(t, plan.MaxArticleCount, 1)
		})
	}
}

func TestPlanScheduleUnlimitedQuotaHitsFloor(t *testing.T) {
	t.Parallel()

	cfg := config.Default().Schedule
	plan := ai.PlanSchedule(cfg, ai.ScheduleInput{
		Now:       time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		Providers: []ai.ProviderStatus{status("a", 1<<30, 1<<30)},
	})
	require.Equal(t, cfg.CrawlMinMinutes, plan.CrawlIntervalMinutes)
	require.Equal(t, cfg.SEOMinMinutes, plan.SEOIntervalMinutes)
	require.Equal(t, "a", plan.FavoredProvider)
}

func TestPlanScheduleLowQuotaForcesSlowCadence(t *testing.T) {
	t.Parallel()

	cfg := config.Default().Schedule
	plan := ai.PlanSchedule(cfg, ai.ScheduleInput{
		Now:       time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		Providers: []ai.ProviderStatus{status("a", cfg.LowQuotaThreshold-1, 1000)},
	})
	require.GreaterOrEqual(t, plan.CrawlIntervalMinutes, cfg.LowQuotaCrawlMinutes)
	require.GreaterOrEqual(t, plan.SEOIntervalMinutes, cfg.LowQuotaSEOMinutes)
}

func TestPlanScheduleFallbacksShortenIntervals(t *testing.T) {
	t.Parallel()

	cfg := config.Default().Schedule
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	// 12 hours left: 0.8*60/12 = 4 safe calls per hour
	single := []ai.ProviderStatus{status("a", 60, 1000)}
	many := append(single, status("b", 500, 100), status("c", 500, 100), status("d", 500, 100))

	alone := ai.PlanSchedule(cfg, ai.ScheduleInput{Now: now, Providers: single})
	backed := ai.PlanSchedule(cfg, ai.ScheduleInput{Now: now, Providers: many})

	require.Equal(t, []string{"b", "c", "d"}, []string(backed.FallbackProviders))
	require.Equal(t, 429, alone.CrawlIntervalMinutes)
	require.Equal(t, 300, backed.CrawlIntervalMinutes)
	require.Equal(t, 100, alone.SEOIntervalMinutes)
	require.Equal(t, 70, backed.SEOIntervalMinutes)
}

func TestComputeSchedulePersists(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{name: "a", fn: answer("x")}
	h := newHarness(t, ai.Entry{Provider: p, Limits: roomy(1)})
	h.setKey(t, "a", "key")
	ctx := context.Background()

	plan, err := h.disp.ComputeSchedule(ctx)
	require.NoError(t, err)
	require.Equal(t, "a", plan.FavoredProvider)

	stored, err := h.repo.GetScheduleConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, plan.CrawlIntervalMinutes, stored.CrawlIntervalMinutes)
	require.Equal(t, 500, stored.MaxArticleCount)
}

func TestChatProviderDispatch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role string `json:"role"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "demo-model", body.Model)
		require.Len(t, body.Messages, 2)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"content": " hello "}},
			},
		})
	}))
	defer server.Close()

	p := ai.NewChatProvider(ai.ChatConfig{Name: "groq", BaseURL: server.URL, Model: "demo-model"})
	text, err := p.Dispatch(context.Background(), "secret", ai.Request{System: "sys", Prompt: "hi"})
	require.NoError(t, err)
	require.Equal(t, "hello", text)

	// A full completions URL from older configs resolves to the same endpoint
	legacy := ai.NewChatProvider(ai.ChatConfig{Name: "groq", BaseURL: server.URL + "/chat/completions", Model: "demo-model"})
	text, err = legacy.Dispatch(context.Background(), "secret", ai.Request{System: "sys", Prompt: "hi"})
	require.NoError(t, err)
	require.Equal(t, "hello", text)
}

func TestChatProviderRateLimited(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer server.Close()

	p := ai.NewChatProvider(ai.ChatConfig{Name: "groq", BaseURL: server.URL, Model: "m"})
	_, err := p.Dispatch(context.Background(), "secret", ai.Request{Prompt: "hi"})
	require.Error(t, err)
	require.True(t, ai.IsStatus(err, http.StatusTooManyRequests))

	var statusErr *ai.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, 3*time.Second, statusErr.RetryAfter)
}

func TestChatProviderEmptyContent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer server.Close()

	p := ai.NewChatProvider(ai.ChatConfig{Name: "groq", BaseURL: server.URL, Model: "m"})
	_, err := p.Dispatch(context.Background(), "secret", ai.Request{Prompt: "hi"})
	require.ErrorIs(t, err, ai.ErrEmptyResponse)
}

func TestRegistryOrdersByPriority(t *testing.T) {
	t.Parallel()

	reg := ai.BuildRegistry(config.Default().AI, logger.Nop())
	require.Equal(t, config.ProviderNames(), reg.Names())
}
