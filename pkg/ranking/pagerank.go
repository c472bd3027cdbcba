package ranking

import (
	"math"
	"sort"

	"github.com/oceanbase/memrank-go/pkg/metrics"
	"github.com/oceanbase/memrank-go/pkg/storage"
)

// PageRank defaults.
const (
	DefaultMaxIterations = 10
	DefaultDamping       = 0.85
	DefaultTolerance     = 1e-6
)

// Node is a memory in the relation graph with its outbound edges.
type Node struct {
	ID    int64
	Edges []int64
}

// NodesFromMemories builds graph nodes from the memories' related ids.
func NodesFromMemories(memories []*storage.Memory) []Node {
	nodes := make([]Node, 0, len(memories))
	for _, m := range memories {
		if m == nil {
			continue
		}
		nodes = append(nodes, Node{ID: m.ID, Edges: m.RelatedMemories})
	}
	return nodes
}

// PageRankOptions tunes ComputePageRank. Zero fields take the defaults.
type PageRankOptions struct {
	MaxIterations int     `json:"max_iterations" koanf:"max_iterations"`
	Damping       float64 `json:"damping" koanf:"damping"`
	Tolerance     float64 `json:"tolerance" koanf:"tolerance"`
}

func (o PageRankOptions) withDefaults() PageRankOptions {
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.Damping <= 0 || o.Damping >= 1 {
		o.Damping = DefaultDamping
	}
	if o.Tolerance <= 0 {
		o.Tolerance = DefaultTolerance
	}
	return o
}

// PageRankResult is the outcome of ComputePageRank.
type PageRankResult struct {
	Scores     map[int64]float64 `json:"scores"`
	Iterations int               `json:"iterations"`
	Converged  bool              `json:"converged"`
}

// graph is the cleaned adjacency of a node list: ids sorted, edges limited to
// in-graph targets, deduplicated and without self loops.
type graph struct {
	ids []int64
	out map[int64][]int64
}

func buildGraph(nodes []Node) graph {
	g := graph{out: make(map[int64][]int64, len(nodes))}
	for _, n := range nodes {
		if _, seen := g.out[n.ID]; !seen {
			g.ids = append(g.ids, n.ID)
			g.out[n.ID] = nil
		}
	}
	sort.Slice(g.ids, func(i, j int) bool { return g.ids[i] < g.ids[j] })

	for _, n := range nodes {
		seen := make(map[int64]bool, len(g.out[n.ID])+len(n.Edges))
		for _, e := range g.out[n.ID] {
			seen[e] = true
		}
		for _, e := range n.Edges {
			if e == n.ID || seen[e] {
				continue
			}
			if _, ok := g.out[e]; !ok {
				continue
			}
			seen[e] = true
			g.out[n.ID] = append(g.out[n.ID], e)
		}
	}
	for _, id := range g.ids {
		edges := g.out[id]
		sort.Slice(edges, func(i, j int) bool { return edges[i] < edges[j] })
	}
	return g
}

// ComputePageRank runs damped power iteration over nodes:
//
//	PR(u) = (1-d)/n + d * sum over v->u of PR(v)/outdeg(v)
//
// seeded uniformly at 1/n. It stops once the largest per-node change falls
// below the tolerance or after MaxIterations. Nodes without outbound edges
// do not redistribute their rank, so scores need not sum to one; a node with
// no inbound edges scores exactly (1-d)/n.
func ComputePageRank(nodes []Node, opts PageRankOptions) PageRankResult {
	opts = opts.withDefaults()
	g := buildGraph(nodes)
	n := len(g.ids)
	if n == 0 {
		return PageRankResult{Scores: map[int64]float64{}, Iterations: 0, Converged: true}
	}

	inbound := make(map[int64][]int64, n)
	for _, v := range g.ids {
		for _, u := range g.out[v] {
			inbound[u] = append(inbound[u], v)
		}
	}

	floor := (1 - opts.Damping) / float64(n)
	rank := make(map[int64]float64, n)
	for _, id := range g.ids {
		rank[id] = 1 / float64(n)
	}

	result := PageRankResult{}
	for iter := 1; iter <= opts.MaxIterations; iter++ {
		next := make(map[int64]float64, n)
		maxDelta := 0.0
		for _, u := range g.ids {
			sum := 0.0
			for _, v := range inbound[u] {
				sum += rank[v] / float64(len(g.out[v]))
			}
			next[u] = floor + opts.Damping*sum
			maxDelta = math.Max(maxDelta, math.Abs(next[u]-rank[u]))
		}
		rank = next
		result.Iterations = iter
		if maxDelta < opts.Tolerance {
			result.Converged = true
			break
		}
	}

	result.Scores = rank
	metrics.PageRankIterations.Observe(float64(result.Iterations))
	return result
}

// NormalizeScores divides every score by the maximum, mapping onto [0,1].
func NormalizeScores(scores map[int64]float64) map[int64]float64 {
	out := make(map[int64]float64, len(scores))
	maxScore := 0.0
	for _, s := range scores {
		maxScore = math.Max(maxScore, s)
	}
	for id, s := range scores {
		if maxScore > 0 {
			out[id] = s / maxScore
		}
	}
	return out
}
