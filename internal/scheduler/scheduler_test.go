package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/article-autopilot/internal/config"
	"github.com/article-autopilot/internal/crawler"
	"github.com/article-autopilot/internal/models"
	"github.com/article-autopilot/internal/publisher"
	"github.com/article-autopilot/internal/resilience"
	"github.com/article-autopilot/internal/scheduler"
	"github.com/article-autopilot/internal/storage/database"
	"github.com/article-autopilot/internal/testsupport"
	"github.com/article-autopilot/pkg/logger"
)

type recorder struct {
	mu    sync.Mutex
	calls map[string]int
	opts  []crawler.CrawlOptions
	seo   []int
}

func newRecorder() *recorder {
	return &recorder{calls: map[string]int{}}
}

func (r *recorder) hit(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[name]++
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

func (r *recorder) PerformCrawl(_ context.Context, opts crawler.CrawlOptions) (*crawler.Run, error) {
	r.hit("crawl")
	r.mu.Lock()
	r.opts = append(r.opts, opts)
	r.mu.Unlock()
	return &crawler.Run{Summary: models.CrawlSummary{RunID: "run"}}, nil
}

func (r *recorder) PublishDue(context.Context) (*publisher.PublishResult, error) {
	r.hit("publish")
	return &publisher.PublishResult{}, nil
}

func (r *recorder) Evict(context.Context) (int, error) {
	r.hit("evict")
	return 0, nil
}

func (r *recorder) GenerateSEOBatch(_ context.Context, count int) (*publisher.SEOBatchResult, error) {
	r.hit("seo")
	r.mu.Lock()
	r.seo = append(r.seo, count)
	r.mu.Unlock()
	return &publisher.SEOBatchResult{Requested: count}, nil
}

func (r *recorder) ComputeSchedule(context.Context) (*models.ScheduleConfig, error) {
	r.hit("optimize")
	return &models.ScheduleConfig{}, nil
}

func (r *recorder) Check(context.Context) *resilience.Report {
	r.hit("health")
	return &resilience.Report{Status: resilience.StatusHealthy}
}

type fixture struct {
	repo  *database.Repository
	rec   *recorder
	clock *testsupport.Clock
	sched *scheduler.Scheduler
}

func newFixture(t *testing.T, opts ...scheduler.Option) *fixture {
	t.Helper()
	f := &fixture{
		repo:  testsupport.NewRepository(t),
		rec:   newRecorder(),
		clock: testsupport.NewClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)),
	}
	_, err := config.RepairSettings(context.Background(), f.repo)
	require.NoError(t, err)

	opts = append([]scheduler.Option{
		scheduler.WithClock(f.clock.Now),
		scheduler.WithOptimizer(f.rec),
		scheduler.WithHealth(f.rec, config.HealthConfig{Interval: 5 * time.Minute, StallAfter: 5 * time.Minute}),
	}, opts...)
	f.sched = scheduler.New(f.repo, f.rec, f.rec, resilience.NewErrorQueue(10, time.Minute),
		config.ScheduleConfig{OptimizeEvery: 30 * time.Minute}, logger.Nop(), opts...)
	t.Cleanup(f.sched.Stop)
	return f
}

func TestParseTimes(t *testing.T) {
	t.Parallel()

	valid, invalid := scheduler.ParseTimes(" 18:00, 9:05,24:00, 09:05,7:5,13:30 ,")
	require.Equal(t, []string{"09:05", "13:30", "18:00"}, valid)
	require.Equal(t, []string{"24:00", "7:5"}, invalid)

	valid, invalid = scheduler.ParseTimes("")
	require.Empty(t, valid)
	require.Empty(t, invalid)
}

func TestStopWithoutStartIsSafe(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sched.Stop()
	require.False(t, f.sched.Status().Running)
	require.False(t, f.sched.Healthy())
}

func TestStartIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.sched.Start(ctx))
	first := f.sched.Status()
	require.True(t, first.Running)
	// watcher, optimizer, health, crawl, cleanup and three publish times
	require.Equal(t, 8, first.ActiveTriggers)
	require.Equal(t, []string{"09:00", "13:00", "18:00"}, first.PublishTimes)

	require.NoError(t, f.sched.Start(ctx))
	require.Equal(t, 8, f.sched.Status().ActiveTriggers)

	f.sched.Stop()
	stopped := f.sched.Status()
	require.False(t, stopped.Running)
	require.Zero(t, stopped.ActiveTriggers)

	require.NoError(t, f.sched.Start(ctx))
	again := f.sched.Status()
	require.Equal(t, first.ActiveTriggers, again.ActiveTriggers)
	require.Equal(t, first.PublishTimes, again.PublishTimes)
	require.Equal(t, first.CrawlIntervalMinutes, again.CrawlIntervalMinutes)
}

func TestReloadReplacesTriggers(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sched.Start(ctx))

	changed, err := f.sched.Reload(ctx)
	require.NoError(t, err)
	require.False(t, changed)

	require.NoError(t, f.repo.SetSetting(ctx, config.KeyPublishSchedule, "08:00,bogus"))
	require.NoError(t, f.repo.SetSetting(ctx, config.KeySEOEnabled, "true"))
	require.NoError(t, f.repo.SetSetting(ctx, config.KeySEOSchedule, "10:00,22:30"))

	changed, err = f.sched.Reload(ctx)
	require.NoError(t, err)
	require.True(t, changed)

	st := f.sched.Status()
	require.Equal(t, []string{"08:00"}, st.PublishTimes)
	require.Equal(t, []string{"10:00", "22:30"}, st.SEOTimes)
	// watcher, optimizer, health, crawl, cleanup, one publish and two seo
	require.Equal(t, 8, st.ActiveTriggers)
}

func TestComputedIntervalSlowsCrawling(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.SaveScheduleConfig(ctx, &models.ScheduleConfig{
		CrawlIntervalMinutes:   180,
		SEOIntervalMinutes:     360,
		CleanupIntervalMinutes: 120,
		SEOCountPerRun:         4,
	}))

	require.NoError(t, f.sched.Start(ctx))
	st := f.sched.Status()
	require.Equal(t, 180, st.CrawlIntervalMinutes)
	require.Equal(t, 360, st.SEOIntervalMinutes)
	require.Equal(t, 120, st.CleanupIntervalMinutes)
}

func TestDisabledCrawlHasNoTrigger(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.SetSetting(ctx, config.KeyCrawlEnabled, "false"))

	require.NoError(t, f.sched.Start(ctx))
	require.Equal(t, 7, f.sched.Status().ActiveTriggers)

	require.NoError(t, f.sched.RunNow(ctx, scheduler.JobCrawl))
	require.Zero(t, f.rec.count("crawl"))
}

func TestRunNowDispatchesJobs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sched.Start(ctx))

	require.NoError(t, f.sched.RunNow(ctx, scheduler.JobCrawl))
	require.NoError(t, f.sched.RunNow(ctx, scheduler.JobPublish))
	require.NoError(t, f.sched.RunNow(ctx, scheduler.JobCleanup))
	require.NoError(t, f.sched.RunNow(ctx, scheduler.JobOptimize))
	require.NoError(t, f.sched.RunNow(ctx, scheduler.JobHealth))

	require.Equal(t, 1, f.rec.count("crawl"))
	require.True(t, f.rec.opts[0].DueOnly)
	require.Equal(t, 1, f.rec.count("publish"))
	require.Equal(t, 1, f.rec.count("evict"))
	require.Equal(t, 1, f.rec.count("optimize"))
	require.Equal(t, 1, f.rec.count("health"))

	require.ErrorIs(t, f.sched.RunNow(ctx, "nope"), scheduler.ErrUnknownJob)
}

func TestSEOIntervalGatesBatches(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.SaveScheduleConfig(ctx, &models.ScheduleConfig{SEOIntervalMinutes: 60, SEOCountPerRun: 3}))
	require.NoError(t, f.sched.Start(ctx))

	require.NoError(t, f.sched.RunNow(ctx, scheduler.JobSEO))
	f.clock.Advance(30 * time.Minute)
	require.NoError(t, f.sched.RunNow(ctx, scheduler.JobSEO))
	require.Equal(t, 1, f.rec.count("seo"))

	f.clock.Advance(31 * time.Minute)
	require.NoError(t, f.sched.RunNow(ctx, scheduler.JobSEO))
	require.Equal(t, 2, f.rec.count("seo"))
	require.Equal(t, []int{3, 3}, f.rec.seo)
}

func TestHealthyTracksWatcherTicks(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sched.Start(ctx))
	require.True(t, f.sched.Healthy())

	f.clock.Advance(6 * time.Minute)
	require.False(t, f.sched.Healthy())

	require.NoError(t, f.sched.RunNow(ctx, scheduler.JobWatch))
	require.True(t, f.sched.Healthy())
	require.NotNil(t, f.sched.Status().LastTick)

	require.NoError(t, f.sched.Restart(ctx))
	require.True(t, f.sched.Status().Running)
}

func TestFatalHealthInvokesHandler(t *testing.T) {
	t.Parallel()

	fatal := make(chan *resilience.Report, 1)
	f := newFixture(t,
		scheduler.WithHealth(fatalChecker{}, config.HealthConfig{}),
		scheduler.OnFatal(func(r *resilience.Report) { fatal <- r }),
	)
	require.NoError(t, f.sched.RunNow(context.Background(), scheduler.JobHealth))
	require.True(t, (<-fatal).Fatal)
}

type fatalChecker struct{}

func (fatalChecker) Check(context.Context) *resilience.Report {
	return &resilience.Report{Status: resilience.StatusUnhealthy, Fatal: true}
}
