package crawler

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxSlugBase = 80

// Fingerprint hashes the normalized body so that the same text found under a
// different URL or with different whitespace collides
func Fingerprint(body string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(body), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Slugify turns a title into an ASCII slug with a uniqueness suffix derived
// from at
func Slugify(title string, at time.Time) string {
	base := slugBase(title)
	if base == "" {
		base = "article"
	}
	return base + "-" + strconv.FormatInt(at.UnixMilli(), 36)
}

func slugBase(title string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, title)
	if err != nil {
		folded = title
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if len(slug) > maxSlugBase {
		slug = strings.TrimSuffix(slug[:maxSlugBase], "-")
		if i := strings.LastIndexByte(slug, '-'); i > maxSlugBase/2 {
			slug = slug[:i]
		}
	}
	return slug
}

// Excerpt returns the first sentences of body up to limit characters
func Excerpt(body string, limit int) string {
	text := strings.Join(strings.Fields(body), " ")
	if len(text) <= limit {
		return text
	}
	cut := strings.ToValidUTF8(text[:limit], "")
	if i := strings.LastIndexAny(cut, ".!?"); i > limit/2 {
		return cut[:i+1]
	}
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}

// wordCount counts whitespace separated words
func wordCount(s string) int {
	return len(strings.Fields(s))
}
