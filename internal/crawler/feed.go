package crawler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/article-autopilot/pkg/logger"
	"github.com/article-autopilot/pkg/ratelimit"
)

// Candidate is a link worth fetching as an article
type Candidate struct {
	URL   string
	Title string
}

// FeedDiscoverer lists article candidates from RSS/Atom feeds
type FeedDiscoverer struct {
	parser  *gofeed.Parser
	limiter *ratelimit.MultiLimiter
	maxAge  time.Duration
	now     func() time.Time
	log     *logger.Logger
}

// NewFeedDiscoverer creates a feed discoverer. Items older than maxAge are
// ignored; zero disables the age filter.
func NewFeedDiscoverer(limiter *ratelimit.MultiLimiter, maxAge time.Duration, log *logger.Logger) *FeedDiscoverer {
	if limiter == nil {
		limiter = ratelimit.NewMultiLimiter(0, 1)
	}
	return &FeedDiscoverer{
		parser:  gofeed.NewParser(),
		limiter: limiter,
		maxAge:  maxAge,
		now:     time.Now,
		log:     log.WithComponent("feed"),
	}
}

// Discover retrieves candidate links from the feed at feedURL
func (d *FeedDiscoverer) Discover(ctx context.Context, feedURL string) ([]Candidate, error) {
	d.log.Debug().Str("url", feedURL).Msg("Fetching feed")

	if err := d.limiter.WaitURL(ctx, feedURL); err != nil {
		return nil, err
	}
	feed, err := d.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", feedURL, err)
	}

	candidates := make([]Candidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item.Link == "" {
			continue
		}
		if d.maxAge > 0 && item.PublishedParsed != nil && d.now().Sub(*item.PublishedParsed) > d.maxAge {
			continue
		}
		candidates = append(candidates, Candidate{
			URL:   strings.TrimSpace(item.Link),
			Title: cleanText(item.Title),
		})
	}

	d.log.Debug().
		Int("count", len(candidates)).
		Str("feed", feed.Title).
		Msg("Fetched feed items")

	return candidates, nil
}

// cleanText removes HTML tags and extra whitespace
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "<br>", " ")
	text = strings.ReplaceAll(text, "<br/>", " ")
	text = strings.ReplaceAll(text, "<br />", " ")
	text = strings.ReplaceAll(text, "</p>", " ")

	var result strings.Builder
	inTag := false
	for _, r := range text {
		if r == '<' {
			inTag = true
		} else if r == '>' {
			inTag = false
		} else if !inTag {
			result.WriteRune(r)
		}
	}

	return strings.Join(strings.Fields(result.String()), " ")
}
