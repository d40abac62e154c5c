package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/article-autopilot/internal/models"
	"github.com/article-autopilot/internal/storage"
	"github.com/article-autopilot/pkg/logger"
)

const outcomeWindowSize = 20

// Remaining is the unused quota of a provider per window
type Remaining struct {
	Daily  int `json:"daily"`
	Hourly int `json:"hourly"`
	Minute int `json:"minute"`
}

// Available reports whether every window has room for one more call
func (r Remaining) Available() bool {
	return r.Daily > 0 && r.Hourly > 0 && r.Minute > 0
}

// Ledger tracks per-provider usage for the current day, hour and minute.
// Counters live in the usage store and are only changed by its atomic
// reservation, so the daemon and the CLI can share one ledger. The rolling
// outcome window used for error rates is per process.
type Ledger struct {
	store storage.UsageStore
	now   func() time.Time
	log   *logger.Logger

	mu       sync.Mutex
	outcomes map[string][]bool
}

// LedgerOption customizes the ledger
type LedgerOption func(*Ledger)

// WithClock overrides the time source
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLedger creates a usage ledger backed by store
func NewLedger(store storage.UsageStore, log *logger.Logger, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:    store,
		now:      time.Now,
		log:      log.WithComponent("ledger"),
		outcomes: make(map[string][]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the ledger's current time
func (l *Ledger) Now() time.Time {
	return l.now()
}

// current reads today's row for provider from the store and rolls its hour
// and minute buckets in memory
func (l *Ledger) current(ctx context.Context, provider string, now time.Time) (*models.ProviderUsage, error) {
	u, err := l.store.GetUsage(ctx, models.UsageKey(provider, now))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return models.NewProviderUsage(provider, now), nil
	case err != nil:
		return nil, fmt.Errorf("failed to load usage for %s: %w", provider, err)
	}
	u.Roll(now)
	return u, nil
}

func remaining(u *models.ProviderUsage, limits Limits) Remaining {
	return Remaining{
		Daily:  limits.Daily - u.RequestCount,
		Hourly: limits.Hourly - u.HourCount,
		Minute: limits.Minute - u.MinuteCount,
	}
}

// Remaining returns the unused quota of provider
func (l *Ledger) Remaining(ctx context.Context, provider string, limits Limits) (Remaining, error) {
	u, err := l.current(ctx, provider, l.now())
	if err != nil {
		return Remaining{}, err
	}
	return remaining(u, limits), nil
}

// Usage returns provider's row for today
func (l *Ledger) Usage(ctx context.Context, provider string) (models.ProviderUsage, error) {
	u, err := l.current(ctx, provider, l.now())
	if err != nil {
		return models.ProviderUsage{}, err
	}
	return *u, nil
}

// Acquire reserves one request against all three windows. It returns false
// without recording anything when any window is exhausted.
func (l *Ledger) Acquire(ctx context.Context, provider string, limits Limits) (bool, error) {
	seed := models.NewProviderUsage(provider, l.now())
	ok, err := l.store.ReserveUsage(ctx, seed, storage.UsageCeiling{
		Daily:  limits.Daily,
		Hourly: limits.Hourly,
		Minute: limits.Minute,
	})
	if err != nil {
		return false, fmt.Errorf("failed to reserve usage for %s: %w", provider, err)
	}
	return ok, nil
}

// Record stores the outcome of a dispatch and returns the provider's rolling
// error rate together with the number of samples it covers.
func (l *Ledger) Record(ctx context.Context, provider string, success bool) (float64, int, error) {
	l.mu.Lock()
	window := append(l.outcomes[provider], success)
	if len(window) > outcomeWindowSize {
		window = window[len(window)-outcomeWindowSize:]
	}
	l.outcomes[provider] = window
	rate, samples := errorRate(window)
	l.mu.Unlock()

	seed := models.NewProviderUsage(provider, l.now())
	if err := l.store.RecordUsageOutcome(ctx, seed, success); err != nil {
		return rate, samples, fmt.Errorf("failed to save usage for %s: %w", provider, err)
	}
	return rate, samples, nil
}

// ErrorRate returns the rolling error rate of provider
func (l *Ledger) ErrorRate(provider string) (float64, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return errorRate(l.outcomes[provider])
}

func errorRate(window []bool) (float64, int) {
	if len(window) == 0 {
		return 0, 0
	}
	failures := 0
	for _, ok := range window {
		if !ok {
			failures++
		}
	}
	return float64(failures) / float64(len(window)), len(window)
}
