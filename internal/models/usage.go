package models

import (
	"fmt"
	"time"
)

// ProviderUsage is the per (provider, calendar day) call ledger row
type ProviderUsage struct {
	Key          string    `gorm:"primaryKey;size:128" json:"key"` // usage:{provider}:{date}
	Provider     string    `gorm:"index;not null" json:"provider"`
	Day          string    `gorm:"size:10;not null" json:"day"` // YYYY-MM-DD
	RequestCount int       `json:"request_count"`
	SuccessCount int       `json:"success_count"`
	ErrorCount   int       `json:"error_count"`
	HourBucket   time.Time `json:"hour_bucket"`
	HourCount    int       `json:"hour_count"`
	MinuteBucket time.Time `json:"minute_bucket"`
	MinuteCount  int       `json:"minute_count"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// UsageDay formats the calendar day used in usage keys
func UsageDay(t time.Time) string {
	return t.Format("2006-01-02")
}

// UsageKey returns the ledger key for provider on the day of t
func UsageKey(provider string, t time.Time) string {
	return fmt.Sprintf("usage:%s:%s", provider, UsageDay(t))
}

// NewProviderUsage creates an empty ledger row for provider on the day of t.
// Buckets are kept in UTC so every process writes comparable values.
func NewProviderUsage(provider string, t time.Time) *ProviderUsage {
	return &ProviderUsage{
		Key:          UsageKey(provider, t),
		Provider:     provider,
		Day:          UsageDay(t),
		HourBucket:   t.UTC().Truncate(time.Hour),
		MinuteBucket: t.UTC().Truncate(time.Minute),
	}
}

// Roll brings the hour and minute buckets forward to t, resetting their counts
// when the bucket changed. Day rollover is handled by the key itself.
func (u *ProviderUsage) Roll(t time.Time) {
	hour := t.UTC().Truncate(time.Hour)
	if !u.HourBucket.Equal(hour) {
		u.HourBucket = hour
		u.HourCount = 0
	}
	minute := t.UTC().Truncate(time.Minute)
	if !u.MinuteBucket.Equal(minute) {
		u.MinuteBucket = minute
		u.MinuteCount = 0
	}
}
