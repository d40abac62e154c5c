package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/article-autopilot/internal/config"
	"github.com/article-autopilot/internal/metrics"
	"github.com/article-autopilot/internal/models"
	"github.com/article-autopilot/internal/storage"
	"github.com/article-autopilot/pkg/logger"
	"github.com/article-autopilot/pkg/retry"
)

// ErrNoProvider is returned when no provider has both a key and quota left
var ErrNoProvider = errors.New("no AI provider available")

// ErrQuotaExhausted is returned when providers have keys but every quota
// window is spent. It wraps ErrNoProvider.
var ErrQuotaExhausted = fmt.Errorf("%w: quota exhausted", ErrNoProvider)

// RewriteResult is the outcome of a best-effort rewrite
type RewriteResult struct {
	Text      string
	Provider  string
	Rewritten bool
}

// ProviderStatus is the live view of one provider
type ProviderStatus struct {
	Name      string    `json:"name"`
	Priority  int       `json:"priority"`
	HasKey    bool      `json:"has_key"`
	Available bool      `json:"available"`
	Limits    Limits    `json:"limits"`
	Remaining Remaining `json:"remaining"`
	Requests  int       `json:"requests_today"`
	Successes int       `json:"successes_today"`
	Errors    int       `json:"errors_today"`
	ErrorRate float64   `json:"error_rate"`
	Err       string    `json:"error,omitempty"`
}

// Dispatcher selects providers, enforces their quota and computes the
// system-wide polling cadence
type Dispatcher struct {
	registry  *Registry
	ledger    *Ledger
	settings  config.SettingsReader
	schedules storage.ScheduleStore
	aiCfg     config.AIConfig
	schedCfg  config.ScheduleConfig
	policy    retry.Policy
	sleep     func(context.Context, time.Duration) error
	log       *logger.Logger

	mu       sync.Mutex
	onChange []func(*models.ScheduleConfig)
}

// DispatcherOption customizes the dispatcher
type DispatcherOption func(*Dispatcher)

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleep func(context.Context, time.Duration) error) DispatcherOption {
	return func(d *Dispatcher) {
		if sleep != nil {
			d.sleep = sleep
		}
	}
}

// NewDispatcher creates a dispatcher
func NewDispatcher(
	registry *Registry,
	ledger *Ledger,
	settings config.SettingsReader,
	schedules storage.ScheduleStore,
	aiCfg config.AIConfig,
	schedCfg config.ScheduleConfig,
	log *logger.Logger,
	opts ...DispatcherOption,
) *Dispatcher {
	attempts := aiCfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	maxDelay := aiCfg.RetryMaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	d := &Dispatcher{
		registry:  registry,
		ledger:    ledger,
		settings:  settings,
		schedules: schedules,
		aiCfg:     aiCfg,
		schedCfg:  schedCfg,
		policy:    retry.Exponential(attempts, aiCfg.RetryBaseDelay, maxDelay),
		sleep:     sleepContext,
		log:       log.WithComponent("dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OnScheduleChange registers a callback run after every schedule recompute
func (d *Dispatcher) OnScheduleChange(fn func(*models.ScheduleConfig)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onChange = append(d.onChange, fn)
}

// Registry returns the provider table
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// loadSettings reads the settings store, falling back to defaults
func (d *Dispatcher) loadSettings(ctx context.Context) *config.Settings {
	if d.settings == nil {
		return config.ParseSettings(config.DefaultSettings())
	}
	s, err := config.LoadSettings(ctx, d.settings)
	if err != nil {
		d.log.Warn().Err(err).Msg("Failed to read settings, using defaults")
		return config.ParseSettings(config.DefaultSettings())
	}
	return s
}

func (d *Dispatcher) apiKey(s *config.Settings, e Entry) string {
	return strings.TrimSpace(s.APIKey(e.Name(), e.DefaultKey))
}

// CanDispatch reports whether provider has room in all three quota windows
func (d *Dispatcher) CanDispatch(ctx context.Context, provider string) (bool, error) {
	e, ok := d.registry.Lookup(provider)
	if !ok {
		return false, fmt.Errorf("unknown provider %q", provider)
	}
	rem, err := d.ledger.Remaining(ctx, provider, e.Limits)
	if err != nil {
		return false, err
	}
	return rem.Available(), nil
}

// SelectProvider returns the first candidate, in priority order, that has an
// API key and quota left
func (d *Dispatcher) SelectProvider(ctx context.Context, candidates []string) (string, error) {
	wanted := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		wanted[c] = true
	}
	s := d.loadSettings(ctx)
	keyed := false

	for _, e := range d.registry.Entries() {
		if len(candidates) > 0 && !wanted[e.Name()] {
			continue
		}
		if d.apiKey(s, e) == "" {
			continue
		}
		keyed = true
		ok, err := d.CanDispatch(ctx, e.Name())
		if err != nil {
			d.log.Warn().Err(err).Str("provider", e.Name()).Msg("Quota check failed, skipping provider")
			continue
		}
		if ok {
			return e.Name(), nil
		}
	}
	if keyed {
		return "", ErrQuotaExhausted
	}
	return "", ErrNoProvider
}

// RecordOutcome stores a dispatch outcome and recomputes the schedule when
// the provider's rolling error rate crosses the threshold
func (d *Dispatcher) RecordOutcome(ctx context.Context, provider string, success bool) {
	metrics.ObserveProviderCall(provider, success)

	rate, samples, err := d.ledger.Record(ctx, provider, success)
	if err != nil {
		d.log.Warn().Err(err).Str("provider", provider).Msg("Failed to record outcome")
	}
	if success || samples < d.schedCfg.ErrorRateMinCalls || rate <= d.schedCfg.ErrorRateThreshold {
		return
	}

	d.log.Warn().
		Str("provider", provider).
		Float64("error_rate", rate).
		Int("samples", samples).
		Msg("Provider error rate above threshold, recomputing schedule")
	if _, err := d.ComputeSchedule(ctx); err != nil {
		d.log.Error().Err(err).Msg("Schedule recompute failed")
	}
}

// HasUsableKey reports whether any provider has a key and quota left
func (d *Dispatcher) HasUsableKey(ctx context.Context) bool {
	_, err := d.SelectProvider(ctx, nil)
	return err == nil
}

// Status returns the live state of every registered provider
func (d *Dispatcher) Status(ctx context.Context) []ProviderStatus {
	s := d.loadSettings(ctx)
	entries := d.registry.Entries()
	out := make([]ProviderStatus, 0, len(entries))

	for _, e := range entries {
		st := ProviderStatus{
			Name:     e.Name(),
			Priority: e.Limits.Priority,
			HasKey:   d.apiKey(s, e) != "",
			Limits:   e.Limits,
		}
		usage, err := d.ledger.Usage(ctx, e.Name())
		if err != nil {
			st.Err = err.Error()
			out = append(out, st)
			continue
		}
		st.Remaining = remaining(&usage, e.Limits)
		st.Available = st.HasKey && st.Remaining.Available()
		st.Requests = usage.RequestCount
		st.Successes = usage.SuccessCount
		st.Errors = usage.ErrorCount
		st.ErrorRate, _ = d.ledger.ErrorRate(e.Name())
		metrics.SetQuotaRemaining(e.Name(), st.Remaining.Daily, st.Remaining.Hourly, st.Remaining.Minute)
		out = append(out, st)
	}
	return out
}

// Rewrite rewrites article content with the first usable provider. It never
// fails: when every provider is exhausted or errors, the original content is
// returned unchanged.
func (d *Dispatcher) Rewrite(ctx context.Context, content string, keywords []string) RewriteResult {
	original := RewriteResult{Text: content}
	if strings.TrimSpace(content) == "" {
		return original
	}

	req := Request{
		System:      RewriteSystemPrompt,
		Prompt:      fmt.Sprintf(RewriteUserPrompt, keywordList(keywords), content),
		MaxTokens:   d.aiCfg.MaxTokens,
		Temperature: d.aiCfg.Temperature,
	}
	text, provider, err := d.dispatch(ctx, req, d.aiCfg.BodyTimeout)
	if err != nil {
		d.log.Warn().Err(err).Msg("Rewrite unavailable, keeping original content")
		return original
	}
	text = stripCodeFence(text)
	if text == "" {
		return original
	}
	return RewriteResult{Text: text, Provider: provider, Rewritten: true}
}

// RewriteTitle rewrites a headline; like Rewrite it falls back to the input
func (d *Dispatcher) RewriteTitle(ctx context.Context, title string, keywords []string) RewriteResult {
	original := RewriteResult{Text: title}
	if strings.TrimSpace(title) == "" {
		return original
	}

	req := Request{
		System:      TitleRewriteSystemPrompt,
		Prompt:      fmt.Sprintf(TitleRewriteUserPrompt, keywordList(keywords), title),
		MaxTokens:   120,
		Temperature: d.aiCfg.Temperature,
	}
	text, provider, err := d.dispatch(ctx, req, d.aiCfg.TitleTimeout)
	if err != nil {
		d.log.Warn().Err(err).Msg("Title rewrite unavailable, keeping original title")
		return original
	}
	text = cleanTitle(text)
	if text == "" {
		return original
	}
	return RewriteResult{Text: text, Provider: provider, Rewritten: true}
}

// Generate dispatches a prompt and fails with ErrNoProvider when nothing is
// usable. Used where the caller has no original text to fall back to.
func (d *Dispatcher) Generate(ctx context.Context, req Request) (string, string, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = d.aiCfg.MaxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = d.aiCfg.Temperature
	}
	return d.dispatch(ctx, req, d.aiCfg.BodyTimeout)
}

// dispatch walks providers in priority order. Each attempt reserves quota
// before the HTTP call; the outcome is recorded once per provider.
func (d *Dispatcher) dispatch(ctx context.Context, req Request, timeout time.Duration) (string, string, error) {
	s := d.loadSettings(ctx)
	attempts := d.policy.Attempts

	var lastErr error
	tried := 0
	exhausted := false
	for _, e := range d.registry.Entries() {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}
		key := d.apiKey(s, e)
		if key == "" {
			continue
		}
		name := e.Name()
		log := d.log.WithProvider(name)

		var callErr error
		called := false
		waits := d.policy.BackOff()
		for attempt := 1; attempt <= attempts; attempt++ {
			ok, err := d.ledger.Acquire(ctx, name, e.Limits)
			if err != nil {
				log.Warn().Err(err).Msg("Quota reservation failed")
				callErr = err
				break
			}
			if !ok {
				log.Debug().Msg("Provider quota exhausted")
				exhausted = true
				break
			}
			called = true

			text, err := d.call(ctx, e.Provider, key, req, timeout)
			if err == nil {
				d.RecordOutcome(ctx, name, true)
				return text, name, nil
			}
			callErr = err
			log.Warn().Err(err).Int("attempt", attempt).Msg("Provider call failed")

			again, after := retryable(err)
			if !again || attempt == attempts || ctx.Err() != nil {
				break
			}
			delay := waits.NextBackOff()
			if after > 0 {
				delay = min(after, d.policy.MaxDelay)
			}
			if err := d.sleep(ctx, delay); err != nil {
				return "", "", err
			}
		}

		if called {
			tried++
			d.RecordOutcome(ctx, name, false)
		}
		if callErr != nil {
			lastErr = callErr
		}
	}

	if lastErr != nil {
		return "", "", fmt.Errorf("%w: %d provider(s) failed, last error: %v", ErrNoProvider, tried, lastErr)
	}
	if exhausted {
		return "", "", ErrQuotaExhausted
	}
	return "", "", ErrNoProvider
}

func (d *Dispatcher) call(ctx context.Context, p Provider, key string, req Request, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return p.Dispatch(ctx, key, req)
}

func sleepContext(ctx context.Context, d time.Duration) error {
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

func keywordList(keywords []string) string {
	if len(keywords) == 0 {
		return "(none)"
	}
	return strings.Join(keywords, ", ")
}

func cleanTitle(text string) string {
	text = stripCodeFence(text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "Title:")
	text = strings.Trim(strings.TrimSpace(text), "\"'*#` ")
	return text
}
