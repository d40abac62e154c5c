// Package app assembles the pipeline components from configuration. Both
// binaries build on it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/article-autopilot/internal/ai"
	"github.com/article-autopilot/internal/api"
	"github.com/article-autopilot/internal/config"
	"github.com/article-autopilot/internal/crawler"
	"github.com/article-autopilot/internal/models"
	"github.com/article-autopilot/internal/publisher"
	"github.com/article-autopilot/internal/resilience"
	"github.com/article-autopilot/internal/scheduler"
	"github.com/article-autopilot/internal/storage/database"
	"github.com/article-autopilot/pkg/logger"
	"github.com/article-autopilot/pkg/ratelimit"
)

// feedMaxAge drops feed items older than this from discovery
const feedMaxAge = 7 * 24 * time.Hour

// App holds every wired component
type App struct {
	Config     *config.Config
	Log        *logger.Logger
	Repo       *database.Repository
	Limiter    *ratelimit.MultiLimiter
	Ledger     *ai.Ledger
	Dispatcher *ai.Dispatcher
	Crawler    *crawler.Orchestrator
	Publisher  *publisher.Agent
	Errors     *resilience.ErrorQueue
	Monitor    *resilience.Monitor
	Scheduler  *scheduler.Scheduler
}

// Open connects to the database, migrates it, repairs missing settings and
// wires the components. opts are applied to the scheduler.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...scheduler.Option) (*App, error) {
	repo, err := database.New(database.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := repo.Migrate(); err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	repaired, err := config.RepairSettings(ctx, repo)
	if err != nil {
		repo.Close()
		return nil, err
	}
	if len(repaired) > 0 {
		log.Info().Strs("keys", repaired).Msg("Wrote default settings")
	}

	a := &App{Config: cfg, Log: log, Repo: repo}
	a.wire(opts)
	return a, nil
}

func (a *App) wire(opts []scheduler.Option) {
	cfg, log := a.Config, a.Log

	a.Limiter = ratelimit.NewMultiLimiter(cfg.Crawler.HostRPS, cfg.Crawler.HostBurst)
	a.Ledger = ai.NewLedger(a.Repo, log)
	a.Dispatcher = ai.NewDispatcher(ai.BuildRegistry(cfg.AI, log), a.Ledger, a.Repo, a.Repo, cfg.AI, cfg.Schedule, log)

	fetcher := crawler.NewCollyFetcher(cfg.Crawler, a.Limiter)
	feeds := crawler.NewFeedDiscoverer(a.Limiter, feedMaxAge, log)
	a.Crawler = crawler.NewOrchestrator(a.Repo, fetcher, feeds, a.Dispatcher, cfg.Crawler, log)
	a.Publisher = publisher.NewAgent(a.Repo, a.Dispatcher, cfg.Schedule, publisher.WeightsFromConfig(cfg.Eviction), log)

	a.Errors = resilience.NewErrorQueue(cfg.Health.ErrorQueueSize, cfg.Health.ErrorWindow)
	a.Monitor = resilience.NewMonitor(a.Repo, a.Errors, cfg.Health, log, resilience.WithReconnect(a.Repo.Reconnect))

	opts = append([]scheduler.Option{
		scheduler.WithOptimizer(a.Dispatcher),
		scheduler.WithHealth(a.Monitor, cfg.Health),
	}, opts...)
	a.Scheduler = scheduler.New(a.Repo, a.Crawler, a.Publisher, a.Errors, cfg.Schedule, log, opts...)
	a.Monitor.Supervise(resilience.Supervised{
		Name: "scheduler",
		Healthy: func() bool {
			return !a.Scheduler.Running() || a.Scheduler.Healthy()
		},
		Restart: a.Scheduler.Restart,
	})

	a.Dispatcher.OnScheduleChange(func(*models.ScheduleConfig) {
		if _, err := a.Scheduler.Reload(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to reload timetable after schedule change")
		}
	})
}

// Server builds the HTTP API over the wired components
func (a *App) Server(ctx context.Context) *api.Server {
	return api.NewServer(api.Deps{
		Crawler:   a.Crawler,
		Scheduler: a.Scheduler,
		Publisher: a.Publisher,
		Health:    a.Monitor,
		Providers: a.Dispatcher,
		Schedules: a.Repo,
	}, a.Config.Server, a.Log, api.WithBaseContext(ctx))
}

// Close stops the scheduler and closes the database
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	return a.Repo.Close()
}
