package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/article-autopilot/internal/ai"
	"github.com/article-autopilot/internal/api"
	"github.com/article-autopilot/internal/config"
	"github.com/article-autopilot/internal/crawler"
	"github.com/article-autopilot/internal/models"
	"github.com/article-autopilot/internal/publisher"
	"github.com/article-autopilot/internal/resilience"
	"github.com/article-autopilot/internal/scheduler"
	"github.com/article-autopilot/internal/testsupport"
	"github.com/article-autopilot/pkg/logger"
)

type fakeCrawler struct {
	mu   sync.Mutex
	opts []crawler.CrawlOptions
	err  error
}

func (f *fakeCrawler) PerformCrawl(_ context.Context, opts crawler.CrawlOptions) (*crawler.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	return &crawler.Run{
		Results: []models.CrawlResult{{SourceID: 1, SourceName: "Motor1", Success: true, Found: 4, Processed: 2}},
		Summary: models.CrawlSummary{RunID: opts.RunID, SourcesAttempted: 1},
	}, nil
}

func (f *fakeCrawler) calls() []crawler.CrawlOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crawler.CrawlOptions(nil), f.opts...)
}

type fakeScheduler struct {
	running bool
	starts  int
}

func (f *fakeScheduler) Start(context.Context) error {
	if !f.running {
		f.starts++
	}
	f.running = true
	return nil
}

func (f *fakeScheduler) Stop() { f.running = false }

func (f *fakeScheduler) Status() scheduler.Status {
	st := scheduler.Status{Running: f.running}
	if f.running {
		st.ActiveTriggers = 8
	}
	return st
}

type fakePublisher struct {
	drafts  int
	evicted int
}

func (f *fakePublisher) PublishManual(context.Context) (int, error) {
	n := min(f.drafts, 5)
	f.drafts -= n
	return n, nil
}

func (f *fakePublisher) Evict(context.Context) (int, error) { return f.evicted, nil }

func (f *fakePublisher) Stats(context.Context) (*publisher.Stats, error) {
	return &publisher.Stats{PublishedToday: 3, PublishedYesterday: 6, TotalPublished: 120, Drafts: int64(f.drafts)}, nil
}

type fakeHealth struct {
	last   *resilience.Report
	checks int
	panics bool
}

func (f *fakeHealth) Last() *resilience.Report { return f.last }

func (f *fakeHealth) Check(context.Context) *resilience.Report {
	if f.panics {
		panic("probe exploded")
	}
	f.checks++
	f.last = &resilience.Report{Status: resilience.StatusHealthy}
	return f.last
}

type fakeProviders struct{}

func (fakeProviders) Status(context.Context) []ai.ProviderStatus {
	return []ai.ProviderStatus{{Name: "groq", HasKey: true, Available: true}}
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestCrawlSync(t *testing.T) {
	t.Parallel()

	fc := &fakeCrawler{}
	srv := api.NewServer(api.Deps{Crawler: fc}, config.ServerConfig{}, logger.Nop())

	rec := do(t, srv.Handler(), http.MethodPost, "/crawl", `{"parallel":false,"concurrency_limit":4}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Run-ID"))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var results []models.CrawlResult
	decode(t, rec, &results)
	require.Len(t, results, 1)
	require.Equal(t, "Motor1", results[0].SourceName)

	calls := fc.calls()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].Parallel)
	require.False(t, *calls[0].Parallel)
	require.Equal(t, 4, calls[0].ConcurrencyLimit)
	require.False(t, calls[0].DueOnly)
}

func TestCrawlEmptyBodyAndErrors(t *testing.T) {
	t.Parallel()

	fc := &fakeCrawler{}
	srv := api.NewServer(api.Deps{Crawler: fc}, config.ServerConfig{}, logger.Nop())
	require.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodPost, "/crawl", "").Code)
	require.Equal(t, http.StatusBadRequest, do(t, srv.Handler(), http.MethodPost, "/crawl", "{bad").Code)
	require.Equal(t, http.StatusBadRequest, do(t, srv.Handler(), http.MethodPost, "/crawl", `{"concurrency_limit":11}`).Code)

	fc.err = errors.New("settings unavailable")
	rec := do(t, srv.Handler(), http.MethodPost, "/crawl", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "settings unavailable")
}

func TestCrawlAsync(t *testing.T) {
	t.Parallel()

	fc := &fakeCrawler{}
	srv := api.NewServer(api.Deps{Crawler: fc}, config.ServerConfig{}, logger.Nop())

	rec := do(t, srv.Handler(), http.MethodPost, "/crawl", `{"async":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]string
	decode(t, rec, &body)
	require.NotEmpty(t, body["run_id"])

	srv.Wait()
	calls := fc.calls()
	require.Len(t, calls, 1)
	require.Equal(t, body["run_id"], calls[0].RunID)
}

func TestScheduleStartStopIdempotent(t *testing.T) {
	t.Parallel()

	fs := &fakeScheduler{}
	srv := api.NewServer(api.Deps{Scheduler: fs}, config.ServerConfig{}, logger.Nop())

	for range 2 {
		rec := do(t, srv.Handler(), http.MethodPost, "/schedule/start", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var st scheduler.Status
		decode(t, rec, &st)
		require.True(t, st.Running)
		require.Equal(t, 8, st.ActiveTriggers)
	}
	require.Equal(t, 1, fs.starts)

	for range 2 {
		rec := do(t, srv.Handler(), http.MethodPost, "/schedule/stop", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var st scheduler.Status
		decode(t, rec, &st)
		require.False(t, st.Running)
	}
}

func TestPublishManual(t *testing.T) {
	t.Parallel()

	fp := &fakePublisher{drafts: 7}
	srv := api.NewServer(api.Deps{Publisher: fp}, config.ServerConfig{}, logger.Nop())

	rec := do(t, srv.Handler(), http.MethodPost, "/publish/manual", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"published":5}`, rec.Body.String())

	rec = do(t, srv.Handler(), http.MethodPost, "/publish/manual", "")
	require.JSONEq(t, `{"published":2}`, rec.Body.String())

	rec = do(t, srv.Handler(), http.MethodPost, "/publish/manual", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"nothing to publish"}`, rec.Body.String())
}

func TestEvictAndStats(t *testing.T) {
	t.Parallel()

	fp := &fakePublisher{drafts: 2, evicted: 5}
	srv := api.NewServer(api.Deps{Publisher: fp, Scheduler: &fakeScheduler{running: true}}, config.ServerConfig{}, logger.Nop())

	rec := do(t, srv.Handler(), http.MethodPost, "/evict", "")
	require.JSONEq(t, `{"deleted":5}`, rec.Body.String())

	rec = do(t, srv.Handler(), http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{
		"published_today": 3,
		"published_yesterday": 6,
		"total_published": 120,
		"drafts": 2,
		"flagged_drafts": 0,
		"scheduler_running": true,
		"active_triggers": 8
	}`, rec.Body.String())
}

func TestAPIKeyGuardsMutations(t *testing.T) {
	t.Parallel()

	fp := &fakePublisher{drafts: 1}
	srv := api.NewServer(api.Deps{Publisher: fp}, config.ServerConfig{APIKey: "s3cret"}, logger.Nop())

	require.Equal(t, http.StatusUnauthorized, do(t, srv.Handler(), http.MethodPost, "/publish/manual", "").Code)
	require.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodPost, "/publish/manual", "", "X-API-Key", "s3cret").Code)
	require.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodPost, "/evict", "", "Authorization", "Bearer s3cret").Code)
	require.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodGet, "/stats", "").Code)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := do(t, api.NewServer(api.Deps{}, config.ServerConfig{}, logger.Nop()).Handler(), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"unknown"`)

	fh := &fakeHealth{}
	srv := api.NewServer(api.Deps{Health: fh}, config.ServerConfig{}, logger.Nop())
	rec = do(t, srv.Handler(), http.MethodGet, "/healthz", "")
	require.Contains(t, rec.Body.String(), `"status":"healthy"`)
	do(t, srv.Handler(), http.MethodGet, "/healthz", "")
	require.Equal(t, 1, fh.checks)

	fh.last = &resilience.Report{Status: resilience.StatusUnhealthy, Fatal: true}
	require.Equal(t, http.StatusServiceUnavailable, do(t, srv.Handler(), http.MethodGet, "/healthz", "").Code)

	broken := api.NewServer(api.Deps{Health: &fakeHealth{panics: true}}, config.ServerConfig{}, logger.Nop())
	rec = do(t, broken.Handler(), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"unknown"`)
}

func TestProvidersIncludesSchedule(t *testing.T) {
	t.Parallel()

	repo := testsupport.NewRepository(t)
	srv := api.NewServer(api.Deps{Providers: fakeProviders{}, Schedules: repo}, config.ServerConfig{}, logger.Nop())

	rec := do(t, srv.Handler(), http.MethodGet, "/providers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Providers []ai.ProviderStatus   `json:"providers"`
		Schedule  *models.ScheduleConfig `json:"schedule"`
	}
	decode(t, rec, &body)
	require.Len(t, body.Providers, 1)
	require.Nil(t, body.Schedule)

	require.NoError(t, repo.SaveScheduleConfig(context.Background(), &models.ScheduleConfig{CrawlIntervalMinutes: 90, FavoredProvider: "groq"}))
	rec = do(t, srv.Handler(), http.MethodGet, "/providers", "")
	decode(t, rec, &body)
	require.NotNil(t, body.Schedule)
	require.Equal(t, 90, body.Schedule.CrawlIntervalMinutes)
}

func TestMissingComponentsAnswerUnavailable(t *testing.T) {
	t.Parallel()

	srv := api.NewServer(api.Deps{}, config.ServerConfig{}, logger.Nop())
	for _, path := range []string{"/crawl", "/schedule/start", "/publish/manual", "/evict"} {
		require.Equal(t, http.StatusServiceUnavailable, do(t, srv.Handler(), http.MethodPost, path, "").Code, path)
	}
	require.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodGet, "/metrics", "").Code)
}
