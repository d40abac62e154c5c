package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// genericLinkSelectors are tried after a source-specific selector, in order
var genericLinkSelectors = []string{
	"article h1 a[href]",
	"article h2 a[href]",
	"article h3 a[href]",
	"h2 a[href]",
	"h3 a[href]",
	".entry-title a[href]",
	".post-title a[href]",
	".article-title a[href]",
	".news-item a[href]",
	".story a[href]",
	"article a[href]",
}

// catchAllSelector matches any link; only links that look like articles pass
const catchAllSelector = "a[href]"

var (
	includePatterns = []*regexp.Regexp{
		regexp.MustCompile(`/\d{4}/\d{1,2}(/\d{1,2})?/`), // /2026/03/10/
		regexp.MustCompile(`\d{4}-\d{2}-\d{2}`),         // 2026-03-10
		regexp.MustCompile(`[/-]\d{5,}`),                // numeric IDs
		regexp.MustCompile(`\.s?html?$`),
		regexp.MustCompile(`/[a-z0-9]+(-[a-z0-9]+){3,}/?$`), // long slug
	}
	excludePatterns = []*regexp.Regexp{
		regexp.MustCompile(`/(tag|tags|category|categories|topic|topics|author|authors|user|users)/`),
		regexp.MustCompile(`/page/\d+`),
		regexp.MustCompile(`[?&](page|p|s|q)=`),
		regexp.MustCompile(`/(search|login|signin|signup|register|subscribe|account|cart|feed|rss)(/|$)`),
		regexp.MustCompile(`\.(jpe?g|png|gif|webp|svg|pdf|zip|mp3|mp4|avi|mov|css|js|xml)$`),
	}
)

// LinkOptions tunes link extraction for one source
type LinkOptions struct {
	Selector string // source-specific override, tried first
	Limit    int
}

// ExtractLinks returns article-looking links from an index page, restricted
// to the index page's own host, in selector priority order.
func ExtractLinks(pageURL string, body []byte, opts LinkOptions) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	seen := make(map[string]bool)
	var links []string
	full := func() bool {
		return opts.Limit > 0 && len(links) >= opts.Limit
	}

	collect := func(selector string, requireInclude bool) {
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, _ := s.Attr("href")
			link, ok := resolveArticleLink(base, href, requireInclude)
			if ok && !seen[link] {
				seen[link] = true
				links = append(links, link)
			}
			return !full()
		})
	}

	if sel := strings.TrimSpace(opts.Selector); sel != "" {
		collect(sel, false)
	}
	for _, sel := range genericLinkSelectors {
		if full() {
			break
		}
		collect(sel, true)
	}
	if !full() {
		collect(catchAllSelector, true)
	}
	return links, nil
}

func resolveArticleLink(base *url.URL, href string, requireInclude bool) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	lower := strings.ToLower(href)
	for _, scheme := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, scheme) {
			return "", false
		}
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if !sameHost(base.Hostname(), abs.Hostname()) {
		return "", false
	}
	abs.Fragment = ""
	if abs.Path == "" || abs.Path == "/" || path.Clean(abs.Path) == path.Clean(base.Path) {
		return "", false
	}

	target := strings.ToLower(abs.Path)
	if abs.RawQuery != "" {
		target += "?" + strings.ToLower(abs.RawQuery)
	}
	for _, re := range excludePatterns {
		if re.MatchString(target) {
			return "", false
		}
	}
	if requireInclude && !matchesAny(includePatterns, strings.ToLower(abs.Path)) {
		return "", false
	}

	normalized, err := NormalizeURL(abs.String())
	if err != nil {
		return "", false
	}
	return normalized, true
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func sameHost(a, b string) bool {
	a = strings.TrimPrefix(strings.ToLower(a), "www.")
	b = strings.TrimPrefix(strings.ToLower(b), "www.")
	return a != "" && a == b
}

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, and sorts query parameters.
// It also removes fragments.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}
