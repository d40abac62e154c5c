package models

import (
	"time"
)

// ArticleOrigin records which pipeline path created an article
type ArticleOrigin string

const (
	ArticleOriginCrawl ArticleOrigin = "crawl"
	ArticleOriginSEO   ArticleOrigin = "seo"
)

// Article is a crawled or generated piece of content (draft or published)
type Article struct {
	ID             uint          `gorm:"primaryKey" json:"id"`
	Title          string        `gorm:"not null" json:"title"`
	Slug           string        `gorm:"uniqueIndex;not null" json:"slug"`
	Body           string        `gorm:"type:text;not null" json:"body"`
	Excerpt        string        `gorm:"type:text" json:"excerpt"`
	Author         string        `json:"author,omitempty"`
	SourceID       *uint         `gorm:"index" json:"source_id"` // Nullable for generated articles
	SourceURL      string        `gorm:"index" json:"source_url,omitempty"`
	Fingerprint    string        `gorm:"uniqueIndex;size:64;not null" json:"fingerprint"`
	IsPublished    bool          `gorm:"index;default:false" json:"is_published"`
	PublishedAt    *time.Time    `gorm:"index" json:"published_at"`
	ViewCount      int           `gorm:"default:0" json:"view_count"`
	Tags           StringSlice   `gorm:"type:text" json:"tags"`
	AIProvider     string        `json:"ai_provider,omitempty"`
	QualityScore   float64       `json:"quality_score"`
	QualityFlagged bool          `json:"quality_flagged"`
	Origin         ArticleOrigin `gorm:"size:16;default:'crawl'" json:"origin"`
	CreatedAt      time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// MarkPublished flips the article to published, keeping PublishedAt non-nil
func (a *Article) MarkPublished(at time.Time) {
	a.IsPublished = true
	a.PublishedAt = &at
}

// AgeDays returns whole days since publication (0 for unpublished articles)
func (a *Article) AgeDays(now time.Time) float64 {
	if a.PublishedAt == nil {
		return 0
	}
	age := now.Sub(*a.PublishedAt).Hours() / 24
	if age < 0 {
		return 0
	}
	return age
}
