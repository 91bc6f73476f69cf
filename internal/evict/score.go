package evict

import (
	"math"
	"time"

	"github.com/mohammed-shakir/geotoken-cache/internal/core/model"
)

// Weights shape the priority score used when the hard ceiling forces a
// choice among tokens that all passed retention.
type Weights struct {
	Generation     float64
	GenerationCap  int
	RefCount       float64
	RefCountCap    int
	MessageBonus   float64
	Recency        float64
	Freshness      float64
	FreshnessHalf  time.Duration
	Exploration    float64
	ExplorationAge time.Duration
}

func DefaultWeights() Weights {
	return Weights{
		Generation:     1.5,
		GenerationCap:  10,
		RefCount:       1.0,
		RefCountCap:    20,
		MessageBonus:   2.0,
		Recency:        3.0,
		Freshness:      2.0,
		FreshnessHalf:  30 * 24 * time.Hour,
		Exploration:    1.5,
		ExplorationAge: 7 * 24 * time.Hour,
	}
}

const day = 24 * time.Hour

// priorityScore ranks a token for ceiling eviction: lineage and
// references reward established tokens, the decay terms reward recent
// activity and young tokens, and the exploration bonus keeps brand-new
// tokens from losing immediately to old important ones.
func priorityScore(t *model.Token, rec model.AccessRecord, now time.Time, w Weights) float64 {
	gen := min(t.Generation, w.GenerationCap)
	ref := min(t.RefCount, w.RefCountCap)

	score := float64(gen)*w.Generation + float64(ref)*w.RefCount
	if t.Message != "" {
		score += w.MessageBonus
	}

	accessAgeDays := now.Sub(rec.LastAccessedAt).Hours() / 24
	if accessAgeDays < 0 {
		accessAgeDays = 0
	}
	score += w.Recency * math.Exp(-accessAgeDays)

	age := now.Sub(t.CreatedAt)
	if age < 0 {
		age = 0
	}
	lambda := math.Ln2 / w.FreshnessHalf.Seconds()
	score += w.Freshness * math.Exp(-lambda*age.Seconds())

	if age < w.ExplorationAge {
		score += w.Exploration
	}
	return score
}
