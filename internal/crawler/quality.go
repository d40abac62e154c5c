package crawler

import (
	"math"
	"regexp"
	"strings"
)

// DefaultQualityThreshold is the score below which an article gets one
// automatic fix pass and is flagged if it still fails
const DefaultQualityThreshold = 40.0

var (
	sentenceEnd = regexp.MustCompile(`[.!?]+(\s|$)`)
	boilerplate = regexp.MustCompile(`(?i)(subscribe to|sign up for|newsletter|all rights reserved|click here|advertisement|share this|follow us|cookie|read more:|related articles|copyright ©)`)
)

// QualityReport breaks a 0-100 score into its four 0-25 components
type QualityReport struct {
	Score       float64 `json:"score"`
	Readability float64 `json:"readability"`
	Length      float64 `json:"length"`
	Keywords    float64 `json:"keywords"`
	Structure   float64 `json:"structure"`
	Words       int     `json:"words"`
}

// QualityScorer rates article text
type QualityScorer struct {
	Threshold  float64
	IdealWords int
}

// NewQualityScorer creates a scorer with the default threshold
func NewQualityScorer() *QualityScorer {
	return &QualityScorer{Threshold: DefaultQualityThreshold, IdealWords: 600}
}

// Passes reports whether a report clears the threshold
func (q *QualityScorer) Passes(r QualityReport) bool {
	return r.Score >= q.Threshold
}

// Score rates title and body against the keyword list
func (q *QualityScorer) Score(title, body string, keywords []string) QualityReport {
	words := wordCount(body)
	r := QualityReport{Words: words}

	r.Readability = readabilityScore(body, words)

	ideal := q.IdealWords
	if ideal <= 0 {
		ideal = 600
	}
	r.Length = 25 * math.Min(float64(words)/float64(ideal), 1)

	r.Keywords = keywordScore(title+"\n"+body, keywords)
	r.Structure = structureScore(title, body)

	r.Score = math.Round((r.Readability+r.Length+r.Keywords+r.Structure)*10) / 10
	return r
}

func readabilityScore(body string, words int) float64 {
	if words == 0 {
		return 0
	}
	sentences := len(sentenceEnd.FindAllStringIndex(body, -1))
	if sentences == 0 {
		sentences = 1
	}
	avg := float64(words) / float64(sentences)

	var dist float64
	switch {
	case avg < 10:
		dist = 10 - avg
	case avg > 22:
		dist = avg - 22
	}
	return math.Max(25-1.5*dist, 0)
}

func keywordScore(text string, keywords []string) float64 {
	var wanted []string
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			wanted = append(wanted, k)
		}
	}
	if len(wanted) == 0 {
		return 12.5
	}
	text = strings.ToLower(text)
	hits := 0
	for _, k := range wanted {
		if strings.Contains(text, k) {
			hits++
		}
	}
	return 25 * float64(hits) / float64(len(wanted))
}

func structureScore(title, body string) float64 {
	var score float64
	if n := len(strings.TrimSpace(title)); n >= 10 && n <= 120 {
		score += 8
	}
	switch paras := len(splitParagraphs(body)); {
	case paras >= 3:
		score += 9
	case paras == 2:
		score += 5
	}
	trimmed := strings.TrimSpace(body)
	if trimmed != "" && strings.ContainsAny(trimmed[len(trimmed)-1:], ".!?\"") {
		score += 4
	}
	if !boilerplate.MatchString(body) {
		score += 4
	}
	return score
}

func splitParagraphs(body string) []string {
	var out []string
	for _, p := range strings.Split(body, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// AutoFix strips boilerplate paragraphs, drops repeats and breaks a wall of
// text into paragraphs of a few sentences
func AutoFix(body string) string {
	seen := make(map[string]bool)
	var kept []string
	for _, p := range splitParagraphs(body) {
		if boilerplate.MatchString(p) && wordCount(p) < 40 {
			continue
		}
		key := strings.ToLower(squash(p))
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, p)
	}

	if len(kept) == 1 {
		kept = chunkSentences(kept[0], 4)
	}
	return strings.Join(kept, "\n\n")
}

func chunkSentences(text string, per int) []string {
	ends := sentenceEnd.FindAllStringIndex(text, -1)
	if len(ends) <= per {
		return []string{text}
	}
	var out []string
	start := 0
	for i, loc := range ends {
		if (i+1)%per == 0 {
			out = append(out, strings.TrimSpace(text[start:loc[1]]))
			start = loc[1]
		}
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}
