package models

import (
	"time"
)

// ScheduleConfigID is the primary key of the single schedule config row
const ScheduleConfigID = 1

// ScheduleConfig holds the live computed operating parameters
type ScheduleConfig struct {
	ID                     uint        `gorm:"primaryKey" json:"id"`
	CrawlIntervalMinutes   int         `json:"crawl_interval_minutes"`
	SEOIntervalMinutes     int         `json:"seo_interval_minutes"`
	SEOCountPerRun         int         `json:"seo_count_per_run"`
	MaxArticleCount        int         `json:"max_article_count"`
	CleanupIntervalMinutes int         `json:"cleanup_interval_minutes"`
	FavoredProvider        string      `json:"favored_provider"`
	FallbackProviders      StringSlice `gorm:"type:text" json:"fallback_providers"`
	LastOptimizedAt        time.Time   `json:"last_optimized_at"`
	UpdatedAt              time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

// Setting is a single row of the key/value settings store
type Setting struct {
	Key       string    `gorm:"primaryKey;size:128" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
