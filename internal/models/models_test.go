package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSourceDueForCrawl(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	last := now.Add(-30 * time.Minute)

	s := Source{Enabled: true, CrawlIntervalMinutes: 60, LastCrawlAt: &last}
	require.False(t, s.DueForCrawl(now))
	require.True(t, s.DueForCrawl(now.Add(30*time.Minute)))

	s.LastCrawlAt = nil
	require.True(t, s.DueForCrawl(now))

	s.Enabled = false
	require.False(t, s.DueForCrawl(now))
}

func TestProviderUsageRoll(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 10, 15, 30, 0, time.UTC)
	u := NewProviderUsage("groq", start)
	require.Equal(t, "usage:groq:2026-03-01", u.Key)

	u.HourCount, u.MinuteCount = 4, 2
	u.Roll(start.Add(10 * time.Second))
	require.Equal(t, 4, u.HourCount)
	require.Equal(t, 2, u.MinuteCount)

	u.Roll(start.Add(time.Minute))
	require.Equal(t, 4, u.HourCount)
	require.Equal(t, 0, u.MinuteCount)

	u.Roll(start.Add(time.Hour))
	require.Equal(t, 0, u.HourCount)
}

func TestArticleMarkPublished(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	a := Article{}
	a.MarkPublished(at)
	require.True(t, a.IsPublished)
	require.NotNil(t, a.PublishedAt)
	require.InDelta(t, 2.0, a.AgeDays(at.Add(48*time.Hour)), 0.001)
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	results := []CrawlResult{
		{Success: true, Found: 4, Processed: 3, Published: 1},
		{Success: false, Errors: []string{"fetch failed"}},
	}
	var r CrawlResult
	r.AddError(errors.New("x"))
	r.AddError(nil)
	results = append(results, r)

	s := Summarize("run-1", results, time.Second)
	require.Equal(t, 3, s.SourcesAttempted)
	require.Equal(t, 1, s.SourcesSucceeded)
	require.Equal(t, 4, s.TotalFound)
	require.Equal(t, 2, s.TotalErrors)
}

func TestStringSliceValueScan(t *testing.T) {
	t.Parallel()

	v, err := StringSlice{"go", "ai"}.Value()
	require.NoError(t, err)

	var out StringSlice
	require.NoError(t, out.Scan(v))
	require.Equal(t, StringSlice{"go", "ai"}, out)
	require.NoError(t, out.Scan([]byte(`["x"]`)))
	require.Equal(t, StringSlice{"x"}, out)
}
