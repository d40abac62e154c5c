package models

import (
	"time"
)

// Source is a configured external site crawled for articles
type Source struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	Name                 string     `gorm:"uniqueIndex;not null" json:"name"`
	BaseURL              string     `gorm:"not null" json:"base_url"`
	FeedURL              string     `json:"feed_url,omitempty"` // Optional RSS/Atom feed used for link discovery
	Enabled              bool       `gorm:"index" json:"enabled"`
	MaxArticles          int        `gorm:"default:5" json:"max_articles"`
	CrawlIntervalMinutes int        `gorm:"default:60" json:"crawl_interval_minutes"`
	LastCrawlAt          *time.Time `json:"last_crawl_at"`
	// Selector hints, tried before the generic patterns
	LinkSelector    string    `json:"link_selector,omitempty"`
	TitleSelector   string    `json:"title_selector,omitempty"`
	ContentSelector string    `json:"content_selector,omitempty"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// DueForCrawl reports whether the source's own interval has elapsed
func (s *Source) DueForCrawl(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.LastCrawlAt == nil || s.CrawlIntervalMinutes <= 0 {
		return true
	}
	return !now.Before(s.LastCrawlAt.Add(time.Duration(s.CrawlIntervalMinutes) * time.Minute))
}

// ArticleCap returns the per-crawl article limit, defaulting to 5
func (s *Source) ArticleCap() int {
	if s.MaxArticles <= 0 {
		return 5
	}
	return s.MaxArticles
}
