package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/article-autopilot/internal/config"
	"github.com/article-autopilot/pkg/logger"
)

// Request is a single prompt sent to a provider
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Provider is one text-generation backend
type Provider interface {
	Name() string
	Dispatch(ctx context.Context, apiKey string, req Request) (string, error)
}

// Limits describes a provider's request ceilings and preference
type Limits struct {
	Daily         int
	Hourly        int
	Minute        int
	Priority      int // lower is preferred
	TokensPerCall int
}

// Entry is a registered provider with its limits and fallback key
type Entry struct {
	Provider   Provider
	Limits     Limits
	DefaultKey string
}

// Name returns the provider name
func (e Entry) Name() string {
	return e.Provider.Name()
}

// Registry is the priority-ordered provider table
type Registry struct {
	entries []Entry
}

// NewRegistry creates a registry sorted by ascending priority, then name
func NewRegistry(entries ...Entry) *Registry {
	r := &Registry{}
	for _, e := range entries {
		r.Register(e)
	}
	return r
}

// Register adds or replaces a provider, keeping priority order
func (r *Registry) Register(e Entry) {
	for i, existing := range r.entries {
		if existing.Name() == e.Name() {
			r.entries[i] = e
			r.sort()
			return
		}
	}
	r.entries = append(r.entries, e)
	r.sort()
}

func (r *Registry) sort() {
	sort.SliceStable(r.entries, func(i, j int) bool {
		if r.entries[i].Limits.Priority != r.entries[j].Limits.Priority {
			return r.entries[i].Limits.Priority < r.entries[j].Limits.Priority
		}
		return r.entries[i].Name() < r.entries[j].Name()
	})
}

// Entries returns the providers in priority order
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Lookup finds a provider by name
func (r *Registry) Lookup(name string) (Entry, bool) {
	for _, e := range r.entries {
		if e.Name() == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Names returns provider names in priority order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		names = append(names, e.Name())
	}
	return names
}

// BuildRegistry creates the provider table from configuration
func BuildRegistry(cfg config.AIConfig, log *logger.Logger) *Registry {
	reg := NewRegistry()
	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		var p Provider
		switch strings.ToLower(pc.Kind) {
		case "anthropic":
			p = NewAnthropicProvider(name, pc.Model, pc.BaseURL)
		case "", "chat":
			p = NewChatProvider(ChatConfig{Name: name, BaseURL: pc.BaseURL, Model: pc.Model})
		default:
			log.Warn().Str("provider", name).Str("kind", pc.Kind).Msg("Unknown provider kind, skipping")
			continue
		}
		reg.Register(Entry{
			Provider: p,
			Limits: Limits{
				Daily:         pc.Daily,
				Hourly:        pc.Hourly,
				Minute:        pc.Minute,
				Priority:      pc.Priority,
				TokensPerCall: pc.TokensPerCall,
			},
			DefaultKey: pc.APIKey,
		})
	}
	return reg
}

// StatusError is a non-2xx provider response
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.StatusCode, body)
}

// ErrEmptyResponse is returned when a provider answers with no text
var ErrEmptyResponse = errors.New("empty response")

// retryable reports whether a failed attempt is worth repeating and the
// server-requested delay, if any
func retryable(err error) (bool, time.Duration) {
	if err == nil {
		return false, 0
	}
	if errors.Is(err, context.Canceled) {
		return false, 0
	}
	if errors.Is(err, ErrEmptyResponse) || errors.Is(err, context.DeadlineExceeded) {
		return true, 0
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			return true, statusErr.RetryAfter
		default:
			return false, 0
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true, 0
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true, 0
	}
	return false, 0
}
