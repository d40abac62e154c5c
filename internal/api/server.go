// Package api exposes the HTTP interface for operators: manual crawls,
// scheduler control, manual publishing, stats and health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/article-autopilot/internal/ai"
	"github.com/article-autopilot/internal/config"
	"github.com/article-autopilot/internal/crawler"
	"github.com/article-autopilot/internal/metrics"
	"github.com/article-autopilot/internal/models"
	"github.com/article-autopilot/internal/publisher"
	"github.com/article-autopilot/internal/resilience"
	"github.com/article-autopilot/internal/scheduler"
	"github.com/article-autopilot/internal/storage"
	"github.com/article-autopilot/pkg/logger"
)

// Crawler runs crawl passes
type Crawler interface {
	PerformCrawl(ctx context.Context, opts crawler.CrawlOptions) (*crawler.Run, error)
}

// Scheduler is the controllable job scheduler
type Scheduler interface {
	Start(ctx context.Context) error
	Stop()
	Status() scheduler.Status
}

// Publisher publishes and evicts articles
type Publisher interface {
	PublishManual(ctx context.Context) (int, error)
	Evict(ctx context.Context) (int, error)
	Stats(ctx context.Context) (*publisher.Stats, error)
}

// Health reports system health
type Health interface {
	Last() *resilience.Report
	Check(ctx context.Context) *resilience.Report
}

// Providers reports provider quota
type Providers interface {
	Status(ctx context.Context) []ai.ProviderStatus
}

// Deps bundles the components the server drives. Nil members disable their
// routes' behavior, which then answer 503.
type Deps struct {
	Crawler   Crawler
	Scheduler Scheduler
	Publisher Publisher
	Health    Health
	Providers Providers
	Schedules storage.ScheduleStore
}

// Server wires HTTP handlers to the pipeline components
type Server struct {
	router chi.Router
	deps   Deps
	cfg    config.ServerConfig
	base   context.Context
	log    *logger.Logger

	wg sync.WaitGroup
}

// Option customizes the server
type Option func(*Server)

// WithBaseContext sets the context background crawls run under
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) {
		if ctx != nil {
			s.base = ctx
		}
	}
}

// NewServer constructs a Server with middleware and routes
func NewServer(deps Deps, cfg config.ServerConfig, log *logger.Logger, opts ...Option) *Server {
	s := &Server{
		deps: deps,
		cfg:  cfg,
		base: context.Background(),
		log:  log.WithComponent("api"),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/metrics", metrics.Handler().ServeHTTP)
	r.Get("/stats", s.stats)
	r.Get("/providers", s.providers)

	r.Group(func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Post("/crawl", s.crawl)
		r.Post("/schedule/start", s.scheduleStart)
		r.Post("/schedule/stop", s.scheduleStop)
		r.Post("/publish/manual", s.publishManual)
		r.Post("/evict", s.evict)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Wait blocks until background crawls started through the API finish
func (s *Server) Wait() {
	s.wg.Wait()
}

type crawlRequest struct {
	Parallel         *bool `json:"parallel"`
	ConcurrencyLimit int   `json:"concurrency_limit"`
	Async            bool  `json:"async"`
}

func (s *Server) crawl(w http.ResponseWriter, r *http.Request) {
	if s.deps.Crawler == nil {
		writeError(w, http.StatusServiceUnavailable, "crawler not configured")
		return
	}
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ConcurrencyLimit < 0 || req.ConcurrencyLimit > config.MaxConcurrency {
		writeError(w, http.StatusBadRequest, "concurrency_limit must be between 1 and 10")
		return
	}
	opts := crawler.CrawlOptions{
		Parallel:         req.Parallel,
		ConcurrencyLimit: req.ConcurrencyLimit,
		RunID:            uuid.NewString(),
	}

	if req.Async {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, err := s.deps.Crawler.PerformCrawl(s.base, opts); err != nil {
				s.log.Error().Err(err).Str("run_id", opts.RunID).Msg("Background crawl failed")
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"run_id": opts.RunID, "status": "started"})
		return
	}

	run, err := s.deps.Crawler.PerformCrawl(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	results := run.Results
	if results == nil {
		results = []models.CrawlResult{}
	}
	w.Header().Set("X-Run-ID", run.Summary.RunID)
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) scheduleStart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}
	if err := s.deps.Scheduler.Start(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Scheduler.Status())
}

func (s *Server) scheduleStop(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}
	s.deps.Scheduler.Stop()
	writeJSON(w, http.StatusOK, s.deps.Scheduler.Status())
}

func (s *Server) publishManual(w http.ResponseWriter, r *http.Request) {
	if s.deps.Publisher == nil {
		writeError(w, http.StatusServiceUnavailable, "publisher not configured")
		return
	}
	n, err := s.deps.Publisher.PublishManual(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if n == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "nothing to publish"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"published": n})
}

func (s *Server) evict(w http.ResponseWriter, r *http.Request) {
	if s.deps.Publisher == nil {
		writeError(w, http.StatusServiceUnavailable, "publisher not configured")
		return
	}
	n, err := s.deps.Publisher.Evict(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

type statsResponse struct {
	*publisher.Stats
	SchedulerRunning bool `json:"scheduler_running"`
	ActiveTriggers   int  `json:"active_triggers"`
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Publisher == nil {
		writeError(w, http.StatusServiceUnavailable, "publisher not configured")
		return
	}
	st, err := s.deps.Publisher.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := statsResponse{Stats: st}
	if s.deps.Scheduler != nil {
		status := s.deps.Scheduler.Status()
		resp.SchedulerRunning = status.Running
		resp.ActiveTriggers = status.ActiveTriggers
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	report := s.healthReport(r.Context())
	code := http.StatusOK
	if report.Status == resilience.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

// healthReport returns the latest report, running a check when none exists.
// A missing or failing monitor yields an unknown status.
func (s *Server) healthReport(ctx context.Context) (report *resilience.Report) {
	unknown := &resilience.Report{Status: resilience.StatusUnknown, CheckedAt: time.Now()}
	if s.deps.Health == nil {
		return unknown
	}
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error().Interface("panic", rec).Msg("Health check panicked")
			report = unknown
		}
	}()
	if report = s.deps.Health.Last(); report != nil {
		return report
	}
	if report = s.deps.Health.Check(ctx); report != nil {
		return report
	}
	return unknown
}

type providersResponse struct {
	Providers []ai.ProviderStatus   `json:"providers"`
	Schedule  *models.ScheduleConfig `json:"schedule"`
}

func (s *Server) providers(w http.ResponseWriter, r *http.Request) {
	if s.deps.Providers == nil {
		writeError(w, http.StatusServiceUnavailable, "providers not configured")
		return
	}
	resp := providersResponse{Providers: s.deps.Providers.Status(r.Context())}
	if s.deps.Schedules != nil {
		cfg, err := s.deps.Schedules.GetScheduleConfig(r.Context())
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Schedule = cfg
	}
	writeJSON(w, http.StatusOK, resp)
}
