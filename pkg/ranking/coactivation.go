package ranking

import (
	"math"
	"sort"
)

// Co-activation constants.
const (
	CoActivationStrength = 0.25
	MaxRelated           = 5
	DecayPerHop          = 0.5
	DefaultMaxHops       = 2
	DefaultSpreadLimit   = 20
)

// Activation is a memory reached by spreading activation.
type Activation struct {
	ID         int64   `json:"id"`
	Activation float64 `json:"activation"`
	Hop        int     `json:"hop"`

	// Path runs from the seed to ID.
	Path []int64 `json:"path"`
}

// SpreadActivation walks outbound edges breadth-first from seeds, halving
// activation on every hop, up to maxHops. Each reached node keeps its
// highest activation (its shortest path). Seeds are never returned. Results
// are sorted by activation, then id, and cut to limit.
func SpreadActivation(nodes []Node, seeds []int64, maxHops, limit int) []Activation {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	if limit <= 0 {
		limit = DefaultSpreadLimit
	}
	g := buildGraph(nodes)

	type item struct {
		id    int64
		score float64
		hop   int
		path  []int64
	}

	visited := make(map[int64]bool)
	var queue []item
	for _, s := range seeds {
		if _, ok := g.out[s]; !ok || visited[s] {
			continue
		}
		visited[s] = true
		queue = append(queue, item{id: s, score: 1, path: []int64{s}})
	}

	var out []Activation
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.hop > 0 {
			out = append(out, Activation{ID: cur.id, Activation: cur.score, Hop: cur.hop, Path: cur.path})
		}
		if cur.hop >= maxHops {
			continue
		}
		for _, next := range g.out[cur.id] {
			if visited[next] {
				continue
			}
			visited[next] = true
			path := make([]int64, len(cur.path), len(cur.path)+1)
			copy(path, cur.path)
			queue = append(queue, item{
				id:    next,
				score: cur.score * DecayPerHop,
				hop:   cur.hop + 1,
				path:  append(path, next),
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Activation != out[j].Activation {
			return out[i].Activation > out[j].Activation
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []Activation{}
	}
	return out
}

// BoostScore adds the co-activation boost for a memory with relatedCount
// related memories of mean similarity avgSimilarity (0-100):
//
//	raw   = 0.25 * (relatedCount/5) * (avgSimilarity/100)
//	boost = raw / sqrt(max(1, relatedCount))
//
// The square-root fan divisor makes the boost grow sub-linearly with the
// number of relations. The result is never below base.
func BoostScore(base float64, relatedCount int, avgSimilarity float64) float64 {
	if relatedCount <= 0 {
		return base
	}
	raw := CoActivationStrength * (float64(relatedCount) / MaxRelated) * (avgSimilarity / 100)
	boost := raw / math.Sqrt(math.Max(1, float64(relatedCount)))
	return base + math.Max(0, boost)
}
