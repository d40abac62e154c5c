package ai

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/article-autopilot/internal/config"
	"github.com/article-autopilot/internal/models"
)

// Share of the safe call budget given to crawling; SEO generation gets the rest
const crawlShare = 0.7

// ScheduleInput is everything the cadence computation depends on
type ScheduleInput struct {
	Now       time.Time
	Providers []ProviderStatus // priority order
	Settings  *config.Settings
}

// PlanSchedule derives the operating parameters from provider headroom.
// It is pure so the clamping rules can be exercised with extreme inputs.
func PlanSchedule(cfg config.ScheduleConfig, in ScheduleInput) *models.ScheduleConfig {
	s := in.Settings
	if s == nil {
		s = config.ParseSettings(config.DefaultSettings())
	}
	out := &models.ScheduleConfig{
		SEOCountPerRun:         s.SEODailyCount,
		MaxArticleCount:        s.MaxArticleCount,
		CleanupIntervalMinutes: s.CleanupIntervalMinutes,
		LastOptimizedAt:        in.Now,
	}

	var usable []ProviderStatus
	totalDaily := 0
	for _, p := range in.Providers {
		if !p.HasKey {
			continue
		}
		if p.Remaining.Daily > 0 {
			totalDaily += p.Remaining.Daily
		}
		if p.Available {
			usable = append(usable, p)
		}
	}

	crawl := float64(cfg.CrawlMaxMinutes)
	seo := float64(cfg.SEOMaxMinutes)

	if len(usable) == 0 {
		crawl = float64(cfg.LowQuotaCrawlMinutes)
		seo = float64(cfg.LowQuotaSEOMinutes)
	} else {
		best := usable[0]
		out.FavoredProvider = best.Name
		for _, p := range usable[1:] {
			out.FallbackProviders = append(out.FallbackProviders, p.Name)
		}

		safe := safeCallsPerHour(cfg.SafetyMargin, best.Remaining, in.Now)
		if safe > 0 {
			callsPerCrawl := math.Max(float64(cfg.CallsPerCrawl), 1)
			callsPerSEO := math.Max(float64(s.SEODailyCount), 1)
			crawl = 60 * callsPerCrawl / (safe * crawlShare)
			seo = 60 * callsPerSEO / (safe * (1 - crawlShare))
		}

		if len(out.FallbackProviders) > 2 {
			discount := 1 - math.Min(math.Max(cfg.FallbackDiscount, 0), 0.3)
			crawl *= discount
			seo *= discount
		}
	}

	if totalDaily < cfg.LowQuotaThreshold {
		crawl = math.Max(crawl, float64(cfg.LowQuotaCrawlMinutes))
		seo = math.Max(seo, float64(cfg.LowQuotaSEOMinutes))
	}

	out.CrawlIntervalMinutes = clampMinutes(crawl, cfg.CrawlMinMinutes, cfg.CrawlMaxMinutes)
	out.SEOIntervalMinutes = clampMinutes(seo, cfg.SEOMinMinutes, cfg.SEOMaxMinutes)
	out.CleanupIntervalMinutes = clampMinutes(float64(out.CleanupIntervalMinutes),
		config.MinCleanupIntervalMinutes, config.MaxCleanupIntervalMinutes)
	if out.MaxArticleCount < 1 {
		out.MaxArticleCount = 1
	}
	if out.SEOCountPerRun < 0 {
		out.SEOCountPerRun = 0
	}
	return out
}

// safeCallsPerHour applies the safety margin to the hourly remainder and to
// the daily remainder spread over the hours left today
func safeCallsPerHour(margin float64, rem Remaining, now time.Time) float64 {
	if margin <= 0 || margin > 1 {
		margin = 0.8
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
	hoursLeft := math.Max(midnight.Sub(now).Hours(), 1)

	hourly := margin * float64(max(rem.Hourly, 0))
	daily := margin * float64(max(rem.Daily, 0)) / hoursLeft
	return math.Min(hourly, daily)
}

func clampMinutes(v float64, lo, hi int) int {
	if math.IsNaN(v) || math.IsInf(v, 1) || v > float64(hi) {
		return hi
	}
	if v < float64(lo) {
		return lo
	}
	return int(math.Round(v))
}

// ComputeSchedule recomputes the operating parameters from current quota
// headroom, persists them and notifies listeners
func (d *Dispatcher) ComputeSchedule(ctx context.Context) (*models.ScheduleConfig, error) {
	plan := PlanSchedule(d.schedCfg, ScheduleInput{
		Now:       d.ledger.Now(),
		Providers: d.Status(ctx),
		Settings:  d.loadSettings(ctx),
	})

	if d.schedules != nil {
		if err := d.schedules.SaveScheduleConfig(ctx, plan); err != nil {
			return plan, fmt.Errorf("failed to save schedule config: %w", err)
		}
	}

	d.log.Info().
		Int("crawl_interval", plan.CrawlIntervalMinutes).
		Int("seo_interval", plan.SEOIntervalMinutes).
		Int("max_articles", plan.MaxArticleCount).
		Str("favored", plan.FavoredProvider).
		Strs("fallbacks", plan.FallbackProviders).
		Msg("Schedule recomputed")

	d.mu.Lock()
	listeners := append([]func(*models.ScheduleConfig){}, d.onChange...)
	d.mu.Unlock()
	for _, fn := range listeners {
		fn(plan)
	}
	return plan, nil
}
