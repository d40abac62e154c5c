package models

import (
	"time"
)

// CrawlResult is the outcome of one source's crawl pass. It is not persisted.
type CrawlResult struct {
	SourceID   uint          `json:"source_id"`
	SourceName string        `json:"source_name"`
	Success    bool          `json:"success"`
	Found      int           `json:"found"`
	Processed  int           `json:"processed"`
	Published  int           `json:"published"`
	Skipped    int           `json:"skipped"`
	Errors     []string      `json:"errors"`
	Duration   time.Duration `json:"duration"`
	CrawledAt  time.Time     `json:"crawled_at"`
}

// AddError records a non-fatal error message on the result
func (r *CrawlResult) AddError(err error) {
	if err != nil {
		r.Errors = append(r.Errors, err.Error())
	}
}

// CrawlSummary aggregates the results of one crawl run
type CrawlSummary struct {
	RunID            string        `json:"run_id"`
	SourcesAttempted int           `json:"sources_attempted"`
	SourcesSucceeded int           `json:"sources_succeeded"`
	TotalFound       int           `json:"total_found"`
	TotalProcessed   int           `json:"total_processed"`
	TotalPublished   int           `json:"total_published"`
	TotalErrors      int           `json:"total_errors"`
	Duration         time.Duration `json:"duration"`
}

// Summarize folds crawl results into a summary
func Summarize(runID string, results []CrawlResult, duration time.Duration) CrawlSummary {
	s := CrawlSummary{RunID: runID, SourcesAttempted: len(results), Duration: duration}
	for _, r := range results {
		if r.Success {
			s.SourcesSucceeded++
		}
		s.TotalFound += r.Found
		s.TotalProcessed += r.Processed
		s.TotalPublished += r.Published
		s.TotalErrors += len(r.Errors)
	}
	return s
}
