package config

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Settings store keys
const (
	KeyCrawlEnabled           = "crawl_enabled"
	KeyCrawlIntervalMinutes   = "crawl_interval_minutes"
	KeyPublishSchedule        = "publish_schedule"
	KeyAutoPublishEnabled     = "auto_publish_enabled"
	KeySEOEnabled             = "seo_enabled"
	KeySEOSchedule            = "seo_schedule"
	KeySEODailyCount          = "seo_daily_count"
	KeySEOKeywords            = "seo_keywords"
	KeyMaxArticleCount        = "max_article_count"
	KeyCleanupIntervalMinutes = "cleanup_interval_minutes"
	KeyParallelCrawling       = "parallel_crawling"
	KeyConcurrencyLimit       = "concurrency_limit"
	KeyAIRewriteEnabled       = "ai_rewrite_enabled"

	apiKeyPrefix = "api_key_"
)

// APIKeySetting returns the settings key holding a provider credential
func APIKeySetting(provider string) string {
	return apiKeyPrefix + provider
}

// Value ranges enforced by Clamp
const (
	MinCrawlIntervalMinutes   = 30
	MaxCrawlIntervalMinutes   = 1440
	MinCleanupIntervalMinutes = 60
	MaxCleanupIntervalMinutes = 1440
	MinConcurrency            = 1
	MaxConcurrency            = 10
	MaxSEODailyCount          = 20
)

// ErrInvalidSettings is wrapped by Validate
var ErrInvalidSettings = errors.New("invalid settings")

// SettingsReader is the read side of the settings store
type SettingsReader interface {
	ListSettings(ctx context.Context) (map[string]string, error)
}

// SettingsWriter inserts defaults without overwriting
type SettingsWriter interface {
	SetSettingIfMissing(ctx context.Context, key, value string) (bool, error)
}

// Settings is the typed view of the runtime key/value settings
type Settings struct {
	CrawlEnabled           bool
	CrawlIntervalMinutes   int
	PublishSchedule        string
	AutoPublishEnabled     bool
	SEOEnabled             bool
	SEOSchedule            string
	SEODailyCount          int
	SEOKeywords            []string
	MaxArticleCount        int
	CleanupIntervalMinutes int
	ParallelCrawling       bool
	ConcurrencyLimit       int
	AIRewriteEnabled       bool
	APIKeys                map[string]string

	// Missing lists required keys absent from the store
	Missing []string
	// Invalid lists keys whose stored value could not be used
	Invalid []string
}

// DefaultSettings returns the default value of every required key
func DefaultSettings() map[string]string {
	return map[string]string{
		KeyCrawlEnabled:           "true",
		KeyCrawlIntervalMinutes:   "60",
		KeyPublishSchedule:        "09:00,13:00,18:00",
		KeyAutoPublishEnabled:     "true",
		KeySEOEnabled:             "false",
		KeySEOSchedule:            "10:00",
		KeySEODailyCount:          "2",
		KeySEOKeywords:            "",
		KeyMaxArticleCount:        "500",
		KeyCleanupIntervalMinutes: "360",
		KeyParallelCrawling:       "true",
		KeyConcurrencyLimit:       "3",
		KeyAIRewriteEnabled:       "true",
	}
}

// LoadSettings reads the settings store into a typed Settings. Missing or
// unusable values fall back to defaults and are reported through Missing and
// Invalid; only a store failure is returned as an error.
func LoadSettings(ctx context.Context, store SettingsReader) (*Settings, error) {
	raw, err := store.ListSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	return ParseSettings(raw), nil
}

// ParseSettings builds Settings from raw key/value pairs
func ParseSettings(raw map[string]string) *Settings {
	defaults := DefaultSettings()
	s := &Settings{APIKeys: make(map[string]string)}

	lookup := func(key string) string {
		v, ok := raw[key]
		if !ok {
			s.Missing = append(s.Missing, key)
			return defaults[key]
		}
		return strings.TrimSpace(v)
	}
	boolean := func(key string) bool {
		v := lookup(key)
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.Invalid = append(s.Invalid, key)
			b, _ = strconv.ParseBool(defaults[key])
		}
		return b
	}
	integer := func(key string, min int) int {
		v := lookup(key)
		n, err := strconv.Atoi(v)
		if err != nil || n < min {
			s.Invalid = append(s.Invalid, key)
			n, _ = strconv.Atoi(defaults[key])
		}
		return n
	}

	s.CrawlEnabled = boolean(KeyCrawlEnabled)
	s.CrawlIntervalMinutes = integer(KeyCrawlIntervalMinutes, 1)
	s.PublishSchedule = lookup(KeyPublishSchedule)
	s.AutoPublishEnabled = boolean(KeyAutoPublishEnabled)
	s.SEOEnabled = boolean(KeySEOEnabled)
	s.SEOSchedule = lookup(KeySEOSchedule)
	s.SEODailyCount = integer(KeySEODailyCount, 0)
	s.SEOKeywords = splitList(lookup(KeySEOKeywords))
	// A zero or negative cap would evict everything
	s.MaxArticleCount = integer(KeyMaxArticleCount, 1)
	s.CleanupIntervalMinutes = integer(KeyCleanupIntervalMinutes, 1)
	s.ParallelCrawling = boolean(KeyParallelCrawling)
	s.ConcurrencyLimit = integer(KeyConcurrencyLimit, 1)
	s.AIRewriteEnabled = boolean(KeyAIRewriteEnabled)

	for key, value := range raw {
		if provider, ok := strings.CutPrefix(key, apiKeyPrefix); ok && strings.TrimSpace(value) != "" {
			s.APIKeys[provider] = strings.TrimSpace(value)
		}
	}

	sort.Strings(s.Missing)
	sort.Strings(s.Invalid)
	s.Clamp()
	return s
}

// Clamp forces numeric values into their allowed ranges
func (s *Settings) Clamp() {
	s.CrawlIntervalMinutes = clamp(s.CrawlIntervalMinutes, MinCrawlIntervalMinutes, MaxCrawlIntervalMinutes)
	s.CleanupIntervalMinutes = clamp(s.CleanupIntervalMinutes, MinCleanupIntervalMinutes, MaxCleanupIntervalMinutes)
	s.ConcurrencyLimit = clamp(s.ConcurrencyLimit, MinConcurrency, MaxConcurrency)
	s.SEODailyCount = clamp(s.SEODailyCount, 0, MaxSEODailyCount)
	if s.MaxArticleCount < 1 {
		s.MaxArticleCount = 1
	}
}

// Validate reports missing or unusable keys
func (s *Settings) Validate() error {
	var problems []string
	if len(s.Missing) > 0 {
		problems = append(problems, "missing "+strings.Join(s.Missing, ", "))
	}
	if len(s.Invalid) > 0 {
		problems = append(problems, "invalid "+strings.Join(s.Invalid, ", "))
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(problems, "; "))
}

// APIKey returns the credential for provider, preferring the settings store
func (s *Settings) APIKey(provider, fallback string) string {
	if s != nil {
		if key := s.APIKeys[provider]; key != "" {
			return key
		}
	}
	return fallback
}

// RepairSettings writes defaults for absent keys without touching present
// values and returns the keys it inserted.
func RepairSettings(ctx context.Context, store SettingsWriter) ([]string, error) {
	defaults := DefaultSettings()
	keys := make([]string, 0, len(defaults))
	for key := range defaults {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var repaired []string
	for _, key := range keys {
		inserted, err := store.SetSettingIfMissing(ctx, key, defaults[key])
		if err != nil {
			return repaired, fmt.Errorf("failed to repair %s: %w", key, err)
		}
		if inserted {
			repaired = append(repaired, key)
		}
	}
	return repaired, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
