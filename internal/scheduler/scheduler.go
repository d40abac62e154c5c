// Package scheduler owns every recurring job of the pipeline: timetable
// publishing and SEO generation, interval crawls and cleanups, quota-driven
// schedule optimization and health checks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/article-autopilot/internal/config"
	"github.com/article-autopilot/internal/crawler"
	"github.com/article-autopilot/internal/metrics"
	"github.com/article-autopilot/internal/models"
	"github.com/article-autopilot/internal/publisher"
	"github.com/article-autopilot/internal/resilience"
	"github.com/article-autopilot/internal/storage"
	"github.com/article-autopilot/pkg/logger"
)

// Job names, used for triggers, metrics and RunNow
const (
	JobCrawl    = "crawl"
	JobPublish  = "publish"
	JobSEO      = "seo"
	JobCleanup  = "cleanup"
	JobOptimize = "optimize"
	JobHealth   = "health"
	JobWatch    = "watch"
)

// ErrUnknownJob is returned by RunNow for a name it does not know
var ErrUnknownJob = errors.New("unknown job")

// Crawler runs crawl passes
type Crawler interface {
	PerformCrawl(ctx context.Context, opts crawler.CrawlOptions) (*crawler.Run, error)
}

// Publisher publishes, evicts and generates articles
type Publisher interface {
	PublishDue(ctx context.Context) (*publisher.PublishResult, error)
	Evict(ctx context.Context) (int, error)
	GenerateSEOBatch(ctx context.Context, count int) (*publisher.SEOBatchResult, error)
}

// Optimizer recomputes the schedule from provider quota
type Optimizer interface {
	ComputeSchedule(ctx context.Context) (*models.ScheduleConfig, error)
}

// HealthChecker runs the periodic health check
type HealthChecker interface {
	Check(ctx context.Context) *resilience.Report
}

// Store is the persistence the scheduler reads
type Store interface {
	config.SettingsReader
	storage.ScheduleStore
}

// Status is a snapshot of the scheduler
type Status struct {
	Running                bool       `json:"running"`
	ActiveTriggers         int        `json:"active_triggers"`
	CrawlEnabled           bool       `json:"crawl_enabled"`
	CrawlIntervalMinutes   int        `json:"crawl_interval_minutes"`
	PublishTimes           []string   `json:"publish_times"`
	SEOEnabled             bool       `json:"seo_enabled"`
	SEOTimes               []string   `json:"seo_times"`
	SEOIntervalMinutes     int        `json:"seo_interval_minutes"`
	CleanupIntervalMinutes int        `json:"cleanup_interval_minutes"`
	StartedAt              *time.Time `json:"started_at,omitempty"`
	LastTick               *time.Time `json:"last_tick,omitempty"`
}

// Scheduler is the single owner of the cron instance and its triggers
type Scheduler struct {
	store     Store
	crawler   Crawler
	publisher Publisher
	optimizer Optimizer
	health    HealthChecker
	queue     *resilience.ErrorQueue
	cfg       config.ScheduleConfig
	healthCfg config.HealthConfig
	onFatal   func(*resilience.Report)
	now       func() time.Time
	log       *logger.Logger

	mu        sync.Mutex
	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	startedAt time.Time
	lastTick  time.Time
	lastSEO   time.Time
	current   timetable
	triggers  []cron.EntryID
}

// Option customizes the scheduler
type Option func(*Scheduler)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithOptimizer enables the periodic schedule optimization job
func WithOptimizer(o Optimizer) Option {
	return func(s *Scheduler) {
		s.optimizer = o
	}
}

// WithHealth enables the periodic health check job
func WithHealth(h HealthChecker, cfg config.HealthConfig) Option {
	return func(s *Scheduler) {
		s.health = h
		s.healthCfg = cfg
	}
}

// OnFatal is called when a health check reports the store as lost
func OnFatal(fn func(*resilience.Report)) Option {
	return func(s *Scheduler) {
		s.onFatal = fn
	}
}

// New creates a stopped scheduler
func New(
	store Store,
	crawl Crawler,
	pub Publisher,
	queue *resilience.ErrorQueue,
	cfg config.ScheduleConfig,
	log *logger.Logger,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		store:     store,
		crawler:   crawl,
		publisher: pub,
		queue:     queue,
		cfg:       cfg,
		now:       time.Now,
		log:       log.WithComponent("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers every trigger and starts the cron. Calling Start on a
// running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	t, err := s.loadTimetable(ctx)
	if err != nil {
		return err
	}

	cl := cronLogger{s.log}
	c := cron.New(cron.WithLogger(cl))
	s.cron = c
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	if err := s.addSystemJobs(c); err != nil {
		s.cancel()
		return err
	}
	if err := s.register(t); err != nil {
		s.cancel()
		return err
	}

	c.Start()
	s.running = true
	s.startedAt = s.now()
	s.lastTick = time.Time{}
	metrics.SetSchedulerRunning(true)

	s.log.Info().
		Int("triggers", len(c.Entries())).
		Strs("publish_times", t.PublishTimes).
		Int("crawl_interval", t.CrawlIntervalMinutes).
		Msg("Scheduler started")
	return nil
}

// Stop removes every trigger and cancels running jobs. It is safe to call
// on a scheduler that was never started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cancel()
	s.cron.Stop()
	s.cron = nil
	s.triggers = nil
	s.current = timetable{}
	s.running = false
	metrics.SetSchedulerRunning(false)
	s.log.Info().Msg("Scheduler stopped")
}

// Restart stops and starts the scheduler
func (s *Scheduler) Restart(ctx context.Context) error {
	s.Stop()
	return s.Start(ctx)
}

// Running reports whether the scheduler is started
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Healthy reports whether the scheduler is started and its minute watcher
// has ticked recently
func (s *Scheduler) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return false
	}
	stall := s.healthCfg.StallAfter
	if stall <= 0 {
		stall = 5 * time.Minute
	}
	last := s.lastTick
	if last.IsZero() {
		last = s.startedAt
	}
	return s.now().Sub(last) < stall
}

// Status returns a snapshot of the registered triggers
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:                s.running,
		CrawlEnabled:           s.current.CrawlEnabled,
		CrawlIntervalMinutes:   s.current.CrawlIntervalMinutes,
		PublishTimes:           append([]string(nil), s.current.PublishTimes...),
		SEOEnabled:             s.current.SEOEnabled,
		SEOTimes:               append([]string(nil), s.current.SEOTimes...),
		SEOIntervalMinutes:     s.current.SEOIntervalMinutes,
		CleanupIntervalMinutes: s.current.CleanupIntervalMinutes,
	}
	if s.running {
		st.ActiveTriggers = len(s.cron.Entries())
		started := s.startedAt
		st.StartedAt = &started
	}
	if !s.lastTick.IsZero() {
		tick := s.lastTick
		st.LastTick = &tick
	}
	return st
}

// Reload re-reads settings and the computed schedule and, when anything
// changed, replaces the timetable triggers. It reports whether it did.
func (s *Scheduler) Reload(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return false, nil
	}
	t, err := s.loadTimetable(ctx)
	if err != nil {
		return false, err
	}
	if t.equal(s.current) {
		return false, nil
	}

	for _, id := range s.triggers {
		s.cron.Remove(id)
	}
	s.triggers = nil
	if err := s.register(t); err != nil {
		return false, err
	}

	s.log.Info().
		Strs("publish_times", t.PublishTimes).
		Strs("seo_times", t.SEOTimes).
		Int("crawl_interval", t.CrawlIntervalMinutes).
		Int("cleanup_interval", t.CleanupIntervalMinutes).
		Msg("Timetable reloaded")
	return true, nil
}

// RunNow runs a job immediately on the caller's goroutine, through the same
// guard as a scheduled run
func (s *Scheduler) RunNow(ctx context.Context, job string) error {
	fn, ok := s.jobs()[job]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, job)
	}
	return s.guarded(ctx, job, fn)
}

func (s *Scheduler) loadTimetable(ctx context.Context) (timetable, error) {
	settings, err := config.LoadSettings(ctx, s.store)
	if err != nil {
		return timetable{}, err
	}
	plan, err := s.store.GetScheduleConfig(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return timetable{}, fmt.Errorf("failed to read schedule config: %w", err)
	}

	t, invalid := buildTimetable(settings, plan)
	if len(invalid) > 0 {
		s.log.Warn().Strs("entries", invalid).Msg("Ignoring invalid schedule times")
	}
	return t, nil
}

func (s *Scheduler) addSystemJobs(c *cron.Cron) error {
	if _, err := c.AddFunc("@every 1m", s.cronFunc(JobWatch)); err != nil {
		return fmt.Errorf("failed to schedule watcher: %w", err)
	}
	if s.optimizer != nil {
		every := s.cfg.OptimizeEvery
		if every <= 0 {
			every = 30 * time.Minute
		}
		if _, err := c.AddFunc("@every "+every.String(), s.cronFunc(JobOptimize)); err != nil {
			return fmt.Errorf("failed to schedule optimizer: %w", err)
		}
	}
	if s.health != nil {
		every := s.healthCfg.Interval
		if every <= 0 {
			every = 5 * time.Minute
		}
		if _, err := c.AddFunc("@every "+every.String(), s.cronFunc(JobHealth)); err != nil {
			return fmt.Errorf("failed to schedule health check: %w", err)
		}
	}
	return nil
}

// register adds the timetable triggers. The caller holds s.mu.
func (s *Scheduler) register(t timetable) error {
	cl := cronLogger{s.log}
	add := func(spec string, job cron.Job) error {
		id, err := s.cron.AddJob(spec, job)
		if err != nil {
			return fmt.Errorf("failed to schedule %q: %w", spec, err)
		}
		s.triggers = append(s.triggers, id)
		return nil
	}
	skipOverlap := cron.NewChain(cron.SkipIfStillRunning(cl))

	if t.CrawlEnabled && s.crawler != nil {
		if err := add(everyMinutes(t.CrawlIntervalMinutes), skipOverlap.Then(cron.FuncJob(s.cronFunc(JobCrawl)))); err != nil {
			return err
		}
	}
	if s.publisher != nil {
		for _, at := range t.PublishTimes {
			if err := add(cronSpec(at), cron.FuncJob(s.cronFunc(JobPublish))); err != nil {
				return err
			}
		}
		if t.SEOEnabled {
			seo := skipOverlap.Then(cron.FuncJob(s.cronFunc(JobSEO)))
			for _, at := range t.SEOTimes {
				if err := add(cronSpec(at), seo); err != nil {
					return err
				}
			}
		}
		if err := add(everyMinutes(t.CleanupIntervalMinutes), skipOverlap.Then(cron.FuncJob(s.cronFunc(JobCleanup)))); err != nil {
			return err
		}
	}
	s.current = t
	return nil
}

func (s *Scheduler) cronFunc(job string) func() {
	return func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}
		_ = s.RunNow(ctx, job)
	}
}

func (s *Scheduler) guarded(ctx context.Context, job string, fn func(context.Context) error) error {
	start := s.now()
	err := resilience.Guard(ctx, job, s.queue, s.log, fn)
	metrics.ObserveJob(job, err)
	s.log.Debug().Str("job", job).Dur("took", s.now().Sub(start)).Err(err).Msg("Job finished")
	return err
}

func (s *Scheduler) jobs() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		JobWatch:    s.watch,
		JobCrawl:    s.crawl,
		JobPublish:  s.publish,
		JobSEO:      s.seo,
		JobCleanup:  s.cleanup,
		JobOptimize: s.optimize,
		JobHealth:   s.checkHealth,
	}
}

// watch records liveness and picks up settings changes
func (s *Scheduler) watch(ctx context.Context) error {
	s.mu.Lock()
	s.lastTick = s.now()
	s.mu.Unlock()
	_, err := s.Reload(ctx)
	return err
}

func (s *Scheduler) crawl(ctx context.Context) error {
	if s.crawler == nil {
		return nil
	}
	settings, err := config.LoadSettings(ctx, s.store)
	if err != nil {
		return err
	}
	if !settings.CrawlEnabled {
		s.log.Debug().Msg("Crawling disabled, skipping")
		return nil
	}
	run, err := s.crawler.PerformCrawl(ctx, crawler.CrawlOptions{DueOnly: true})
	if err != nil {
		return err
	}
	s.log.Info().
		Str("run_id", run.Summary.RunID).
		Int("processed", run.Summary.TotalProcessed).
		Msg("Scheduled crawl finished")
	return nil
}

func (s *Scheduler) publish(ctx context.Context) error {
	if s.publisher == nil {
		return nil
	}
	_, err := s.publisher.PublishDue(ctx)
	return err
}

// seo runs a generation batch unless the computed SEO interval has not yet
// elapsed since the previous batch
func (s *Scheduler) seo(ctx context.Context) error {
	if s.publisher == nil {
		return nil
	}
	s.mu.Lock()
	interval := time.Duration(s.current.SEOIntervalMinutes) * time.Minute
	count := s.current.SEOCountPerRun
	last := s.lastSEO
	now := s.now()
	if !last.IsZero() && now.Sub(last) < interval {
		s.mu.Unlock()
		s.log.Info().Dur("since_last", now.Sub(last)).Msg("SEO interval not elapsed, skipping")
		return nil
	}
	s.lastSEO = now
	s.mu.Unlock()

	_, err := s.publisher.GenerateSEOBatch(ctx, count)
	return err
}

func (s *Scheduler) cleanup(ctx context.Context) error {
	if s.publisher == nil {
		return nil
	}
	_, err := s.publisher.Evict(ctx)
	return err
}

func (s *Scheduler) optimize(ctx context.Context) error {
	if s.optimizer == nil {
		return nil
	}
	if _, err := s.optimizer.ComputeSchedule(ctx); err != nil {
		return err
	}
	_, err := s.Reload(ctx)
	return err
}

func (s *Scheduler) checkHealth(ctx context.Context) error {
	if s.health == nil {
		return nil
	}
	report := s.health.Check(ctx)
	if report != nil && report.Fatal && s.onFatal != nil {
		s.onFatal(report)
	}
	return nil
}

// cronLogger adapts our logger for cron
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
