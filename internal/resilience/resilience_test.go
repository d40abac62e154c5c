package resilience_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/article-autopilot/internal/ai"
	"github.com/article-autopilot/internal/config"
	"github.com/article-autopilot/internal/resilience"
	"github.com/article-autopilot/internal/storage"
	"github.com/article-autopilot/internal/storage/database"
	"github.com/article-autopilot/internal/testsupport"
	"github.com/article-autopilot/pkg/logger"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	require.Equal(t, resilience.KindConfig, resilience.Classify(fmt.Errorf("load: %w", config.ErrInvalidSettings)))
	require.Equal(t, resilience.KindStore, resilience.Classify(storage.ErrNotFound))
	require.Equal(t, resilience.KindProvider, resilience.Classify(&ai.StatusError{Provider: "groq", StatusCode: 500}))
	require.Equal(t, resilience.KindProvider, resilience.Classify(fmt.Errorf("rewrite: %w", ai.ErrNoProvider)))
	require.Equal(t, resilience.KindService, resilience.Classify(errors.New("boom")))

	wrapped := resilience.Wrap("crawler", "fetch", &resilience.Error{Kind: resilience.KindStore, Err: errors.New("locked")})
	require.Equal(t, resilience.KindStore, wrapped.Kind)
	require.Equal(t, "crawler", wrapped.Component)
	require.Nil(t, resilience.Wrap("x", "y", nil))
}

func TestErrorQueueBoundsBySizeAndWindow(t *testing.T) {
	t.Parallel()

	clock := testsupport.NewClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	q := resilience.NewErrorQueue(4, 15*time.Minute)
	q.SetClock(clock.Now)

	for i := 0; i < 5; i++ {
		q.Record(&resilience.Error{Kind: resilience.KindProvider, Component: "ai", Err: fmt.Errorf("e%d", i)})
	}
	snapshot := q.Snapshot()
	require.Len(t, snapshot, 4)
	require.EqualError(t, snapshot[0].Err, "e1")

	clock.Advance(10 * time.Minute)
	q.Record(&resilience.Error{Kind: resilience.KindStore, Component: "db", Err: errors.New("late")})
	require.Equal(t, 1, q.Count(5*time.Minute))
	require.Equal(t, 4, q.Count(15*time.Minute))
	require.InDelta(t, 3.0/15, q.Rate(resilience.KindProvider), 1e-9)

	clock.Advance(6 * time.Minute)
	require.Equal(t, 1, q.Count(15*time.Minute))
	require.Zero(t, q.Rate(resilience.KindProvider))
}

func TestWrappedErrorsUseQueueClock(t *testing.T) {
	t.Parallel()

	at := time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := testsupport.NewClock(at)
	q := resilience.NewErrorQueue(10, 15*time.Minute)
	q.SetClock(clock.Now)

	wrapped := resilience.Wrap("crawler", "fetch", errors.New("timeout"))
	require.True(t, wrapped.At.IsZero())

	q.Record(wrapped)
	require.Equal(t, at, wrapped.At)
	require.Equal(t, 1, q.Count(time.Minute))

	clock.Advance(16 * time.Minute)
	require.Zero(t, q.Count(15*time.Minute))
}

func TestGuardRecoversPanics(t *testing.T) {
	t.Parallel()

	q := resilience.NewErrorQueue(10, time.Minute)
	err := resilience.Guard(context.Background(), "publish", q, logger.Nop(), func(context.Context) error {
		panic("nil map")
	})
	require.ErrorContains(t, err, "panic: nil map")

	var classified *resilience.Error
	require.ErrorAs(t, err, &classified)
	require.Equal(t, "publish", classified.Component)
	require.Equal(t, 1, q.Count(time.Minute))

	require.NoError(t, resilience.Guard(context.Background(), "publish", q, logger.Nop(), func(context.Context) error { return nil }))
	require.Equal(t, 1, q.Count(time.Minute))
}

// flakyStore fails Ping a configurable number of times
type flakyStore struct {
	*database.Repository

	mu       sync.Mutex
	failures int
	pings    int
}

func (s *flakyStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	s.pings++
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return errors.New("database is locked")
	}
	return s.Repository.Ping(ctx)
}

func healthConfig() config.HealthConfig {
	return config.HealthConfig{
		ErrorWindow:        15 * time.Minute,
		ErrorQueueSize:     200,
		MaxErrorsPerWindow: 25,
		StoreRetryAttempts: 3,
		StoreRetryDelay:    time.Millisecond,
	}
}

func newMonitor(t *testing.T, failures int, opts ...resilience.MonitorOption) (*resilience.Monitor, *flakyStore) {
	t.Helper()
	store := &flakyStore{Repository: testsupport.NewRepository(t), failures: failures}
	_, err := config.RepairSettings(context.Background(), store)
	require.NoError(t, err)
	return resilience.NewMonitor(store, nil, healthConfig(), logger.Nop(), opts...), store
}

func TestMonitorHealthy(t *testing.T) {
	t.Parallel()

	m, _ := newMonitor(t, 0)
	require.Nil(t, m.Last())

	report := m.Check(context.Background())
	require.Equal(t, resilience.StatusHealthy, report.Status)
	require.False(t, report.Fatal)
	require.Same(t, report, m.Last())
}

func TestMonitorReconnectsStore(t *testing.T) {
	t.Parallel()

	reconnects := 0
	m, store := newMonitor(t, 2, resilience.WithReconnect(func(context.Context) error {
		reconnects++
		return nil
	}))

	report := m.Check(context.Background())
	require.Equal(t, resilience.StatusDegraded, report.Status)
	require.False(t, report.Fatal)
	require.Equal(t, 3, store.pings)
	require.Equal(t, 2, reconnects)
}

func TestMonitorFatalWhenStoreStaysDown(t *testing.T) {
	t.Parallel()

	m, store := newMonitor(t, 10)
	report := m.Check(context.Background())
	require.True(t, report.Fatal)
	require.Equal(t, resilience.StatusUnhealthy, report.Status)
	require.Equal(t, 3, store.pings)
	for _, c := range report.Checks {
		require.NotEqual(t, "settings", c.Name)
	}
}

func TestMonitorRepairsSettings(t *testing.T) {
	t.Parallel()

	m, store := newMonitor(t, 0)
	ctx := context.Background()
	require.NoError(t, store.SetSetting(ctx, config.KeyMaxArticleCount, "0"))
	require.NoError(t, store.SetSetting(ctx, config.KeyPublishSchedule, "08:00"))

	report := m.Check(ctx)
	require.Equal(t, resilience.StatusDegraded, report.Status)

	value, err := store.GetSetting(ctx, config.KeyMaxArticleCount)
	require.NoError(t, err)
	require.Equal(t, "500", value)

	value, err = store.GetSetting(ctx, config.KeyPublishSchedule)
	require.NoError(t, err)
	require.Equal(t, "08:00", value)

	require.Equal(t, resilience.StatusHealthy, m.Check(ctx).Status)
}

func TestMonitorRestartsSupervisedComponent(t *testing.T) {
	t.Parallel()

	m, _ := newMonitor(t, 0)
	running := false
	m.Supervise(resilience.Supervised{
		Name:    "scheduler",
		Healthy: func() bool { return running },
		Restart: func(context.Context) error {
			running = true
			return nil
		},
	})

	report := m.Check(context.Background())
	require.Equal(t, resilience.StatusDegraded, report.Status)
	require.True(t, running)
	require.Equal(t, resilience.StatusHealthy, m.Check(context.Background()).Status)
}

func TestMonitorProbePanicIsUnknown(t *testing.T) {
	t.Parallel()

	m, _ := newMonitor(t, 0)
	m.Supervise(resilience.Supervised{
		Name:    "crawler",
		Healthy: func() bool { panic("broken probe") },
	})

	report := m.Check(context.Background())
	require.Equal(t, resilience.StatusUnknown, report.Status)
	last := report.Checks[len(report.Checks)-1]
	require.Equal(t, "crawler", last.Name)
	require.Contains(t, last.Message, "broken probe")
}
