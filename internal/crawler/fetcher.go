package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/article-autopilot/internal/config"
	"github.com/article-autopilot/pkg/ratelimit"
)

// Page is a fetched HTML document
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
}

// Fetcher retrieves a single page
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// CollyFetcher implements Fetcher using the Colly collector. Every request
// waits on the per-host limiter first so concurrent sources never burst one
// origin.
type CollyFetcher struct {
	baseCollector *colly.Collector
	limiter       *ratelimit.MultiLimiter
}

// NewCollyFetcher constructs a configured Colly-based Fetcher.
func NewCollyFetcher(cfg config.CrawlerConfig, limiter *ratelimit.MultiLimiter) *CollyFetcher {
	base := colly.NewCollector(colly.Async(false))
	if cfg.UserAgent != "" {
		base.UserAgent = cfg.UserAgent
	}
	// Index pages are revisited on every crawl
	base.AllowURLRevisit = true
	base.IgnoreRobotsTxt = !cfg.RespectRobots
	base.WithTransport(newHTTPTransport())

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	base.SetRequestTimeout(timeout)

	if limiter == nil {
		limiter = ratelimit.NewMultiLimiter(0, 1)
	}
	return &CollyFetcher{
		baseCollector: base,
		limiter:       limiter,
	}
}

// Fetch retrieves a page via a clone of the base collector.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	if err := f.limiter.WaitURL(ctx, rawURL); err != nil {
		return Page{}, err
	}

	collector := f.baseCollector.Clone()
	var (
		page     Page
		fetchErr error
		once     sync.Once
	)
	collector.OnResponse(func(r *colly.Response) {
		once.Do(func() {
			page = Page{
				URL:        rawURL,
				FinalURL:   r.Request.URL.String(),
				StatusCode: r.StatusCode,
				Body:       append([]byte(nil), r.Body...),
			}
		})
	})
	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		if r != nil && r.StatusCode > 0 {
			err = fmt.Errorf("http %d: %w", r.StatusCode, err)
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return Page{}, fmt.Errorf("fetch %s canceled: %w", rawURL, ctx.Err())
	case err := <-done:
		if err != nil {
			return Page{}, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
		if fetchErr != nil {
			return Page{}, fmt.Errorf("fetch %s: %w", rawURL, fetchErr)
		}
		if page.Body == nil {
			return Page{}, fmt.Errorf("fetch %s: empty response", rawURL)
		}
		return page, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
