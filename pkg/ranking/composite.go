// Package ranking orders search results by a composite relevance score,
// graph authority (PageRank) and co-activation between related memories.
package ranking

import (
	"math"
	"sort"
	"time"

	"github.com/oceanbase/memrank-go/pkg/storage"
)

// RecencyScaleDays is the e-folding time of the recency factor.
const RecencyScaleDays = 30.0

// Weights are the composite factor weights.
type Weights struct {
	Similarity float64 `json:"similarity" koanf:"similarity"`
	Importance float64 `json:"importance" koanf:"importance"`
	Recency    float64 `json:"recency" koanf:"recency"`
	Popularity float64 `json:"popularity" koanf:"popularity"`
	TierBoost  float64 `json:"tier_boost" koanf:"tier_boost"`
}

// DefaultWeights returns 0.35/0.25/0.20/0.10/0.10.
func DefaultWeights() Weights {
	return Weights{
		Similarity: 0.35,
		Importance: 0.25,
		Recency:    0.20,
		Popularity: 0.10,
		TierBoost:  0.10,
	}
}

func (w Weights) orDefault() Weights {
	if w == (Weights{}) {
		return DefaultWeights()
	}
	return w
}

var tierBoost = map[storage.ImportanceTier]float64{
	storage.TierConstitutional: 1.0,
	storage.TierCritical:       1.0,
	storage.TierImportant:      0.8,
	storage.TierNormal:         0.5,
	storage.TierTemporary:      0.3,
	storage.TierDeprecated:     0.0,
}

// TierBoost returns the fixed boost for tier; unknown tiers count as normal.
func TierBoost(tier storage.ImportanceTier) float64 {
	if v, ok := tierBoost[tier]; ok {
		return v
	}
	return tierBoost[storage.TierNormal]
}

// Row is a search hit awaiting scoring.
type Row struct {
	Memory *storage.Memory

	// Similarity is the search score in [0,100], the scale every
	// search.Searcher reports.
	Similarity float64
}

// Scored is a ranked row.
type Scored struct {
	Memory     *storage.Memory `json:"memory"`
	Similarity float64         `json:"similarity"`

	Composite    float64 `json:"composite_score"`
	Authority    float64 `json:"authority,omitempty"`
	CoActivation float64 `json:"co_activation,omitempty"`

	// Score is the final ranking key.
	Score float64 `json:"score"`
}

// Breakdown lists each weighted factor of a composite score.
type Breakdown struct {
	Similarity float64 `json:"similarity"`
	Importance float64 `json:"importance"`
	Recency    float64 `json:"recency"`
	Popularity float64 `json:"popularity"`
	TierBoost  float64 `json:"tier_boost"`
	Total      float64 `json:"total"`
}

// NormalizeSimilarity maps a 0-100 similarity onto [0,1], clamping
// out-of-range input.
func NormalizeSimilarity(sim float64) float64 {
	if math.IsNaN(sim) || sim <= 0 {
		return 0
	}
	return math.Min(sim/100, 1)
}

// RecencyScore is exp(-age/30) with age measured from the last update (or
// creation). Constitutional memories are exempt and score 1.
func RecencyScore(m *storage.Memory, now time.Time) float64 {
	if m.ImportanceTier == storage.TierConstitutional {
		return 1
	}
	ref := m.UpdatedAt
	if ref.IsZero() {
		ref = m.CreatedAt
	}
	if ref.IsZero() {
		return 0.5
	}
	age := now.Sub(ref).Hours() / 24
	if age <= 0 {
		return 1
	}
	return math.Exp(-age / RecencyScaleDays)
}

// PopularityScore is min(1, log10(accessCount+1)/3): a thousand accesses
// saturate it.
func PopularityScore(accessCount int) float64 {
	if accessCount <= 0 {
		return 0
	}
	return math.Min(1, math.Log10(float64(accessCount)+1)/3)
}

func importance(m *storage.Memory) float64 {
	if m.ImportanceWeight <= 0 {
		return 0.5
	}
	return math.Min(m.ImportanceWeight, 1)
}

// GetScoreBreakdown returns each weighted contribution of row's composite
// score. Total is their sum clamped to [0,1].
func GetScoreBreakdown(row Row, weights Weights, now time.Time) Breakdown {
	w := weights.orDefault()
	m := row.Memory
	if m == nil {
		m = &storage.Memory{}
	}
	b := Breakdown{
		Similarity: w.Similarity * NormalizeSimilarity(row.Similarity),
		Importance: w.Importance * importance(m),
		Recency:    w.Recency * RecencyScore(m, now),
		Popularity: w.Popularity * PopularityScore(m.AccessCount),
		TierBoost:  w.TierBoost * TierBoost(m.ImportanceTier),
	}
	total := b.Similarity + b.Importance + b.Recency + b.Popularity + b.TierBoost
	b.Total = math.Max(0, math.Min(1, total))
	return b
}

// CompositeScore returns the weighted relevance of row in [0,1].
func CompositeScore(row Row, weights Weights, now time.Time) float64 {
	return GetScoreBreakdown(row, weights, now).Total
}

// ApplyCompositeScoring scores rows and sorts them best first. Equal scores
// keep ascending memory id order.
func ApplyCompositeScoring(rows []Row, weights Weights, now time.Time) []Scored {
	out := make([]Scored, 0, len(rows))
	for _, r := range rows {
		if r.Memory == nil {
			continue
		}
		score := CompositeScore(r, weights, now)
		out = append(out, Scored{
			Memory:     r.Memory,
			Similarity: r.Similarity,
			Composite:  score,
			Score:      score,
		})
	}
	sortScored(out)
	return out
}

func sortScored(s []Scored) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		return s[i].Memory.ID < s[j].Memory.ID
	})
}
