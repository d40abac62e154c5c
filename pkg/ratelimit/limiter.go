package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// MultiLimiter manages multiple rate limiters keyed by name (service or host)
type MultiLimiter struct {
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	mu           sync.RWMutex
}

// NewMultiLimiter creates a new multi-limiter. Keys without an explicit limiter
// get one lazily with the default rate; a non-positive rate means unlimited.
func NewMultiLimiter(defaultRPS float64, defaultBurst int) *MultiLimiter {
	r := rate.Limit(defaultRPS)
	if defaultRPS <= 0 {
		r = rate.Inf
	}
	if defaultBurst <= 0 {
		defaultBurst = 1
	}
	return &MultiLimiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: defaultBurst,
	}
}

// AddLimiter adds a new rate limiter for a key
// requestsPerSecond: the rate limit (e.g., 10 means 10 requests per second)
// burst: maximum burst size
func (m *MultiLimiter) AddLimiter(name string, requestsPerSecond float64, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[name] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

func (m *MultiLimiter) get(name string) *rate.Limiter {
	m.mu.RLock()
	limiter, ok := m.limiters[name]
	m.mu.RUnlock()
	if ok {
		return limiter
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if limiter, ok = m.limiters[name]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(m.defaultRate, m.defaultBurst)
	m.limiters[name] = limiter
	return limiter
}

// Wait blocks until the limiter for name allows an event
func (m *MultiLimiter) Wait(ctx context.Context, name string) error {
	if err := m.get(name).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait %s: %w", name, err)
	}
	return nil
}

// WaitURL waits on the limiter of the URL's host
func (m *MultiLimiter) WaitURL(ctx context.Context, rawURL string) error {
	return m.Wait(ctx, HostKey(rawURL))
}

// Allow reports whether an event may happen now
func (m *MultiLimiter) Allow(name string) bool {
	return m.get(name).Allow()
}

// HostKey returns the lowercased host of rawURL, or "unknown"
func HostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
