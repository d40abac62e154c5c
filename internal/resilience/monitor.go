package resilience

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/article-autopilot/internal/config"
	"github.com/article-autopilot/pkg/logger"
	"github.com/article-autopilot/pkg/retry"
)

// Status is the outcome of a health probe
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Check is one probe's result
type Check struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report is the result of a full health check
type Report struct {
	Status    Status    `json:"status"`
	Checks    []Check   `json:"checks"`
	CheckedAt time.Time `json:"checked_at"`
	// Fatal is set when the store stayed unreachable after every reconnect attempt
	Fatal bool `json:"fatal"`
}

// Store is what the monitor needs from persistence
type Store interface {
	Ping(ctx context.Context) error
	config.SettingsReader
	config.SettingsWriter
	SetSetting(ctx context.Context, key, value string) error
}

// Supervised is a long-running component the monitor restarts when it
// reports itself unhealthy
type Supervised struct {
	Name    string
	Healthy func() bool
	Restart func(ctx context.Context) error
}

// Monitor runs periodic health checks with automatic repair
type Monitor struct {
	store     Store
	queue     *ErrorQueue
	cfg       config.HealthConfig
	reconnect func(ctx context.Context) error
	now       func() time.Time
	log       *logger.Logger

	mu         sync.Mutex
	supervised []Supervised
	last       *Report
}

// MonitorOption customizes the monitor
type MonitorOption func(*Monitor)

// WithReconnect sets the hook that reopens the store between ping attempts
func WithReconnect(fn func(ctx context.Context) error) MonitorOption {
	return func(m *Monitor) {
		m.reconnect = fn
	}
}

// WithMonitorClock overrides the time source
func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMonitor creates a health monitor
func NewMonitor(store Store, queue *ErrorQueue, cfg config.HealthConfig, log *logger.Logger, opts ...MonitorOption) *Monitor {
	if queue == nil {
		queue = NewErrorQueue(cfg.ErrorQueueSize, cfg.ErrorWindow)
	}
	m := &Monitor{
		store: store,
		queue: queue,
		cfg:   cfg,
		now:   time.Now,
		log:   log.WithComponent("health"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Supervise registers a component for the restart check
func (m *Monitor) Supervise(s Supervised) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.supervised = append(m.supervised, s)
}

// Last returns the most recent report, or nil before the first check
func (m *Monitor) Last() *Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Check runs every probe and returns the combined report. Probe failures
// are reported, never returned.
func (m *Monitor) Check(ctx context.Context) *Report {
	report := &Report{CheckedAt: m.now()}

	storeCheck := m.probe(ctx, "store", m.checkStore)
	report.Checks = append(report.Checks, storeCheck)
	report.Fatal = storeCheck.Status == StatusUnhealthy

	if !report.Fatal {
		report.Checks = append(report.Checks, m.probe(ctx, "settings", m.checkSettings))
	}
	report.Checks = append(report.Checks, m.probe(ctx, "errors", m.checkErrors))

	m.mu.Lock()
	supervised := append([]Supervised(nil), m.supervised...)
	m.mu.Unlock()
	for _, s := range supervised {
		report.Checks = append(report.Checks, m.probe(ctx, s.Name, func(ctx context.Context) (Status, string, error) {
			return m.checkSupervised(ctx, s)
		}))
	}

	report.Status = overall(report.Checks)

	event := m.log.Info()
	if report.Status != StatusHealthy {
		event = m.log.Warn()
	}
	event.Str("status", string(report.Status)).Bool("fatal", report.Fatal).Msg("Health check completed")

	m.mu.Lock()
	m.last = report
	m.mu.Unlock()
	return report
}

type probeFunc func(ctx context.Context) (Status, string, error)

// probe runs fn, turning a panic or error into an unknown status
func (m *Monitor) probe(ctx context.Context, name string, fn probeFunc) (check Check) {
	start := m.now()
	check.Name = name
	defer func() {
		if r := recover(); r != nil {
			check.Status = StatusUnknown
			check.Message = fmt.Sprintf("probe panicked: %v", r)
			m.log.Error().Str("probe", name).Interface("panic", r).Msg("Health probe panicked")
		}
		check.Duration = m.now().Sub(start)
	}()

	status, msg, err := fn(ctx)
	if err != nil {
		m.queue.Record(Wrap("health", name, err))
		if status == "" {
			status = StatusUnknown
		}
		if msg == "" {
			msg = err.Error()
		}
	}
	check.Status = status
	check.Message = msg
	return check
}

func (m *Monitor) checkStore(ctx context.Context) (Status, string, error) {
	attempts := 0
	policy := retry.Fixed(m.cfg.StoreRetryAttempts, m.cfg.StoreRetryDelay)
	policy.Notify = func(err error, next time.Duration) {
		m.log.Debug().Err(err).Dur("next", next).Msg("Store ping failed, retrying")
	}

	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		attempts++
		if attempts > 1 && m.reconnect != nil {
			if err := m.reconnect(ctx); err != nil {
				m.log.Warn().Err(err).Int("attempt", attempts).Msg("Store reconnect failed")
			}
		}
		return m.store.Ping(ctx)
	})
	if err != nil {
		e := &Error{Kind: KindStore, Component: "health", Op: "ping", Err: err}
		m.queue.Record(e)
		return StatusUnhealthy, err.Error(), nil
	}
	if attempts > 1 {
		return StatusDegraded, fmt.Sprintf("reconnected after %d attempts", attempts), nil
	}
	return StatusHealthy, "", nil
}

// checkSettings repairs missing and unusable settings, then revalidates
func (m *Monitor) checkSettings(ctx context.Context) (Status, string, error) {
	settings, err := config.LoadSettings(ctx, m.store)
	if err != nil {
		return StatusUnknown, "", err
	}
	if settings.Validate() == nil {
		return StatusHealthy, "", nil
	}

	repaired, err := config.RepairSettings(ctx, m.store)
	if err != nil {
		return StatusUnhealthy, "", err
	}
	defaults := config.DefaultSettings()
	for _, key := range settings.Invalid {
		if err := m.store.SetSetting(ctx, key, defaults[key]); err != nil {
			return StatusUnhealthy, "", fmt.Errorf("failed to reset %s: %w", key, err)
		}
		repaired = append(repaired, key)
	}

	settings, err = config.LoadSettings(ctx, m.store)
	if err != nil {
		return StatusUnknown, "", err
	}
	if err := settings.Validate(); err != nil {
		m.queue.Record(&Error{Kind: KindConfig, Component: "health", Op: "settings", Err: err})
		return StatusUnhealthy, err.Error(), nil
	}

	m.log.Warn().Strs("keys", repaired).Msg("Settings repaired to defaults")
	return StatusDegraded, "repaired " + strings.Join(repaired, ", "), nil
}

func (m *Monitor) checkErrors(context.Context) (Status, string, error) {
	window := m.cfg.ErrorWindow
	if window <= 0 {
		window = 15 * time.Minute
	}
	n := m.queue.Count(window)
	limit := m.cfg.MaxErrorsPerWindow
	if limit > 0 && n > limit {
		return StatusDegraded, fmt.Sprintf("%d errors in the last %s", n, window), nil
	}
	return StatusHealthy, fmt.Sprintf("%d errors in the last %s", n, window), nil
}

func (m *Monitor) checkSupervised(ctx context.Context, s Supervised) (Status, string, error) {
	if s.Healthy == nil || s.Healthy() {
		return StatusHealthy, "", nil
	}
	if s.Restart == nil {
		return StatusUnhealthy, "not running", nil
	}

	m.log.Warn().Str("target", s.Name).Msg("Restarting unhealthy component")
	if err := s.Restart(ctx); err != nil {
		m.queue.Record(&Error{Kind: KindService, Component: s.Name, Op: "restart", Err: err})
		return StatusUnhealthy, "restart failed: " + err.Error(), nil
	}
	return StatusDegraded, "restarted", nil
}

func overall(checks []Check) Status {
	rank := map[Status]int{StatusHealthy: 0, StatusUnknown: 1, StatusDegraded: 2, StatusUnhealthy: 3}
	worst := StatusHealthy
	for _, c := range checks {
		if rank[c.Status] > rank[worst] {
			worst = c.Status
		}
	}
	return worst
}
