package resilience

import (
	"sync"
	"time"

	"github.com/article-autopilot/internal/metrics"
)

// ErrorQueue keeps the most recent classified errors, bounded both by count
// and by age
type ErrorQueue struct {
	mu      sync.Mutex
	size    int
	window  time.Duration
	entries []*Error
	now     func() time.Time
}

// NewErrorQueue creates a queue holding at most size errors no older than window
func NewErrorQueue(size int, window time.Duration) *ErrorQueue {
	if size <= 0 {
		size = 200
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &ErrorQueue{size: size, window: window, now: time.Now}
}

// SetClock overrides the time source
func (q *ErrorQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// Record stores a classified error, stamping it when At is zero
func (q *ErrorQueue) Record(e *Error) {
	if e == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if e.At.IsZero() {
		e.At = q.now()
	}
	q.entries = append(q.entries, e)
	if over := len(q.entries) - q.size; over > 0 {
		q.entries = append([]*Error(nil), q.entries[over:]...)
	}
	q.pruneLocked()
	metrics.ObserveError(string(e.Kind), e.Component)
}

func (q *ErrorQueue) pruneLocked() {
	cutoff := q.now().Add(-q.window)
	i := 0
	for i < len(q.entries) && q.entries[i].At.Before(cutoff) {
		i++
	}
	if i > 0 {
		q.entries = append([]*Error(nil), q.entries[i:]...)
	}
}

// Count returns how many errors were recorded within the last d
func (q *ErrorQueue) Count(d time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pruneLocked()

	cutoff := q.now().Add(-d)
	n := 0
	for _, e := range q.entries {
		if !e.At.Before(cutoff) {
			n++
		}
	}
	return n
}

// Rate returns errors of kind per minute over the queue window
func (q *ErrorQueue) Rate(kind Kind) float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pruneLocked()

	n := 0
	for _, e := range q.entries {
		if e.Kind == kind {
			n++
		}
	}
	return float64(n) / q.window.Minutes()
}

// Snapshot returns a copy of the retained errors, oldest first
func (q *ErrorQueue) Snapshot() []Error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pruneLocked()

	out := make([]Error, len(q.entries))
	for i, e := range q.entries {
		out[i] = *e
	}
	return out
}
