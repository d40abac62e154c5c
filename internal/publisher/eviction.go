package publisher

import (
	"math"
	"sort"
	"time"

	"github.com/article-autopilot/internal/config"
	"github.com/article-autopilot/internal/models"
)

// EvictionWeights parameterizes the retention score
type EvictionWeights struct {
	Traffic              float64
	Freshness            float64
	Quality              float64
	TrafficMultiplier    float64
	TrafficCap           float64
	FreshnessBase        float64
	QualityBonus         float64
	QualityViewThreshold int
}

// DefaultEvictionWeights returns 0.6 traffic, 0.3 freshness, 0.1 quality
func DefaultEvictionWeights() EvictionWeights {
	return EvictionWeights{
		Traffic:              0.6,
		Freshness:            0.3,
		Quality:              0.1,
		TrafficMultiplier:    2,
		TrafficCap:           100,
		FreshnessBase:        50,
		QualityBonus:         20,
		QualityViewThreshold: 10,
	}
}

// WeightsFromConfig converts the file config, keeping defaults for unset values
func WeightsFromConfig(cfg config.EvictionConfig) EvictionWeights {
	w := DefaultEvictionWeights()
	if cfg.TrafficWeight > 0 || cfg.FreshnessWeight > 0 || cfg.QualityWeight > 0 {
		w.Traffic = cfg.TrafficWeight
		w.Freshness = cfg.FreshnessWeight
		w.Quality = cfg.QualityWeight
	}
	if cfg.TrafficMultiplier > 0 {
		w.TrafficMultiplier = cfg.TrafficMultiplier
	}
	if cfg.TrafficCap > 0 {
		w.TrafficCap = cfg.TrafficCap
	}
	if cfg.FreshnessBase > 0 {
		w.FreshnessBase = cfg.FreshnessBase
	}
	if cfg.QualityBonus > 0 {
		w.QualityBonus = cfg.QualityBonus
	}
	if cfg.QualityViewThreshold > 0 {
		w.QualityViewThreshold = cfg.QualityViewThreshold
	}
	return w
}

// Score rates a published article for retention; higher is kept longer
func (w EvictionWeights) Score(a *models.Article, now time.Time) float64 {
	traffic := math.Min(float64(a.ViewCount)*w.TrafficMultiplier, w.TrafficCap)
	freshness := math.Max(w.FreshnessBase-a.AgeDays(now), 0)
	var quality float64
	if a.ViewCount >= w.QualityViewThreshold {
		quality = w.QualityBonus
	}
	return w.Traffic*traffic + w.Freshness*freshness + w.Quality*quality
}

// Partition orders articles by score and splits them into the keep-top-n set
// and the remainder. Equal scores keep the more recently published article.
func (w EvictionWeights) Partition(articles []*models.Article, keep int, now time.Time) (kept, evicted []*models.Article) {
	type scored struct {
		article *models.Article
		score   float64
	}
	ranked := make([]scored, len(articles))
	for i, a := range articles {
		ranked[i] = scored{article: a, score: w.Score(a, now)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return publishedAfter(ranked[i].article, ranked[j].article)
	})

	if keep < 0 {
		keep = 0
	}
	for i, r := range ranked {
		if i < keep {
			kept = append(kept, r.article)
		} else {
			evicted = append(evicted, r.article)
		}
	}
	return kept, evicted
}

func publishedAfter(a, b *models.Article) bool {
	switch {
	case a.PublishedAt == nil:
		return false
	case b.PublishedAt == nil:
		return true
	case !a.PublishedAt.Equal(*b.PublishedAt):
		return a.PublishedAt.After(*b.PublishedAt)
	default:
		return a.ID > b.ID
	}
}
