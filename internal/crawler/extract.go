package crawler

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoContent is returned when a page has no usable article body
var ErrNoContent = errors.New("no article content")

const minBodyChars = 200

var (
	titleSelectors = []string{
		"article h1",
		"h1.entry-title",
		"h1.post-title",
		"h1",
	}
	bodySelectors = []string{
		"[itemprop=articleBody]",
		"article .entry-content",
		"article .post-content",
		".article-content",
		".article-body",
		".entry-content",
		".post-content",
		"article",
		"main",
		"#content",
	}
	authorSelectors = []string{
		"[itemprop=author] [itemprop=name]",
		"[itemprop=author]",
		"[rel=author]",
		".author-name",
		".byline .author",
		".author",
	}
	// noise is removed before the body is read
	noiseSelectors = "script, style, noscript, iframe, nav, header, footer, aside, form, figure figcaption, .share, .social, .related, .comments, .advertisement, .ad"
)

// Extracted is the readable content of an article page
type Extracted struct {
	Title  string
	Body   string
	Author string
}

// ExtractOptions carries source-specific selector overrides
type ExtractOptions struct {
	TitleSelector   string
	ContentSelector string
	MaxBodyChars    int
}

// ExtractArticle pulls title, body and author out of an article page using
// the override selectors first and generic fallbacks after.
func ExtractArticle(body []byte, opts ExtractOptions) (*Extracted, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	out := &Extracted{
		Title:  extractTitle(doc, opts.TitleSelector),
		Author: extractAuthor(doc),
	}

	doc.Find(noiseSelectors).Remove()
	out.Body = extractBody(doc, opts.ContentSelector)
	if opts.MaxBodyChars > 0 && len(out.Body) > opts.MaxBodyChars {
		out.Body = truncateAtParagraph(out.Body, opts.MaxBodyChars)
	}

	if out.Title == "" {
		return nil, fmt.Errorf("%w: missing title", ErrNoContent)
	}
	if len(out.Body) < minBodyChars {
		return nil, fmt.Errorf("%w: body has %d chars", ErrNoContent, len(out.Body))
	}
	return out, nil
}

func extractTitle(doc *goquery.Document, override string) string {
	selectors := titleSelectors
	if override = strings.TrimSpace(override); override != "" {
		selectors = append([]string{override}, titleSelectors...)
	}
	for _, sel := range selectors {
		if text := squash(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && squash(og) != "" {
		return squash(og)
	}
	return squash(doc.Find("title").First().Text())
}

func extractAuthor(doc *goquery.Document) string {
	if author, ok := doc.Find(`meta[name="author"]`).Attr("content"); ok && squash(author) != "" {
		return squash(author)
	}
	for _, sel := range authorSelectors {
		if text := squash(doc.Find(sel).First().Text()); text != "" && len(text) < 100 {
			return strings.TrimPrefix(text, "By ")
		}
	}
	return ""
}

func extractBody(doc *goquery.Document, override string) string {
	selectors := bodySelectors
	if override = strings.TrimSpace(override); override != "" {
		selectors = append([]string{override}, bodySelectors...)
	}
	for _, sel := range selectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		if text := paragraphs(node); len(text) >= minBodyChars {
			return text
		}
	}
	return paragraphs(doc.Find("body"))
}

// paragraphs joins the text of p/h2/h3/li blocks, falling back to the raw text
func paragraphs(node *goquery.Selection) string {
	var parts []string
	node.Find("p, h2, h3, li, blockquote").Each(func(_ int, s *goquery.Selection) {
		// Nested matches (p inside li) are read through their parent
		if s.ParentsFiltered("p, li, blockquote").Length() > 0 {
			return
		}
		if text := squash(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	if len(parts) == 0 {
		return squash(node.Text())
	}
	return strings.Join(parts, "\n\n")
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateAtParagraph(body string, limit int) string {
	if len(body) <= limit {
		return body
	}
	cut := strings.ToValidUTF8(body[:limit], "")
	if i := strings.LastIndex(cut, "\n\n"); i > limit/2 {
		return cut[:i]
	}
	return strings.TrimSpace(cut)
}
