package scheduler

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/article-autopilot/internal/config"
	"github.com/article-autopilot/internal/models"
)

var timeOfDay = regexp.MustCompile(`^([01]?\d|2[0-3]):[0-5]\d$`)

// ParseTimes splits a comma separated "HH:MM" list. Valid entries are
// normalized to two-digit hours, deduplicated and sorted; the rest are
// returned separately.
func ParseTimes(raw string) (valid, invalid []string) {
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !timeOfDay.MatchString(part) {
			invalid = append(invalid, part)
			continue
		}
		hour, minute, _ := strings.Cut(part, ":")
		h, _ := strconv.Atoi(hour)
		normalized := fmt.Sprintf("%02d:%s", h, minute)
		if !slices.Contains(valid, normalized) {
			valid = append(valid, normalized)
		}
	}
	slices.Sort(valid)
	return valid, invalid
}

// cronSpec turns a validated "HH:MM" into a daily cron expression
func cronSpec(hhmm string) string {
	hour, minute, _ := strings.Cut(hhmm, ":")
	h, _ := strconv.Atoi(hour)
	m, _ := strconv.Atoi(minute)
	return fmt.Sprintf("%d %d * * *", m, h)
}

func everyMinutes(n int) string {
	return fmt.Sprintf("@every %dm", n)
}

// timetable is the set of settings-driven triggers currently registered
type timetable struct {
	CrawlEnabled           bool
	CrawlIntervalMinutes   int
	PublishTimes           []string
	SEOEnabled             bool
	SEOTimes               []string
	SEOCountPerRun         int
	SEOIntervalMinutes     int
	CleanupIntervalMinutes int
}

// buildTimetable combines the operator settings with the computed schedule.
// The computed crawl interval acts as a floor under the configured one so
// quota pressure can only slow crawling down.
func buildTimetable(s *config.Settings, plan *models.ScheduleConfig) (timetable, []string) {
	publish, badPublish := ParseTimes(s.PublishSchedule)
	seo, badSEO := ParseTimes(s.SEOSchedule)

	t := timetable{
		CrawlEnabled:           s.CrawlEnabled,
		CrawlIntervalMinutes:   s.CrawlIntervalMinutes,
		PublishTimes:           publish,
		SEOEnabled:             s.SEOEnabled,
		SEOTimes:               seo,
		SEOCountPerRun:         s.SEODailyCount,
		CleanupIntervalMinutes: s.CleanupIntervalMinutes,
	}
	if plan != nil {
		t.CrawlIntervalMinutes = max(t.CrawlIntervalMinutes, plan.CrawlIntervalMinutes)
		t.SEOIntervalMinutes = plan.SEOIntervalMinutes
		if plan.CleanupIntervalMinutes > 0 {
			t.CleanupIntervalMinutes = plan.CleanupIntervalMinutes
		}
		if plan.SEOCountPerRun > 0 {
			t.SEOCountPerRun = plan.SEOCountPerRun
		}
	}
	return t, append(badPublish, badSEO...)
}

func (t timetable) equal(o timetable) bool {
	return t.CrawlEnabled == o.CrawlEnabled &&
		t.CrawlIntervalMinutes == o.CrawlIntervalMinutes &&
		slices.Equal(t.PublishTimes, o.PublishTimes) &&
		t.SEOEnabled == o.SEOEnabled &&
		slices.Equal(t.SEOTimes, o.SEOTimes) &&
		t.SEOCountPerRun == o.SEOCountPerRun &&
		t.SEOIntervalMinutes == o.SEOIntervalMinutes &&
		t.CleanupIntervalMinutes == o.CleanupIntervalMinutes
}
