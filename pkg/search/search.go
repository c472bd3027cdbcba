// Package search finds existing memories similar to a piece of text.
//
// Similarities are reported on a 0-100 scale, the scale the write gate and
// the ranker consume.
package search

import (
	"context"
	"math"
)

// Candidate is one similar memory.
type Candidate struct {
	ID int64 `json:"id"`

	// Similarity is in [0, 100].
	Similarity float64 `json:"similarity"`

	Content    string `json:"content"`
	Title      string `json:"title,omitempty"`
	FilePath   string `json:"file_path,omitempty"`
	SpecFolder string `json:"spec_folder,omitempty"`
}

// Options narrows a search.
type Options struct {
	// SpecFolder limits results to one folder when non-empty.
	SpecFolder string

	// Limit caps the number of candidates. Zero means DefaultLimit.
	Limit int

	// MinSimilarity drops candidates below this 0-100 score.
	MinSimilarity float64
}

// DefaultLimit is used when Options.Limit is zero.
const DefaultLimit = 10

func (o Options) limit() int {
	if o.Limit <= 0 {
		return DefaultLimit
	}
	return o.Limit
}

// Searcher returns the candidates most similar to query, best first.
type Searcher interface {
	Search(ctx context.Context, query string, opts Options) ([]Candidate, error)
}

// CosineSimilarity calculates the cosine similarity between two vectors.
//
// Returns a value between -1 and 1, where 1 means identical direction.
// Vectors of different length or with zero magnitude yield 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// toPercent maps a [-1, 1] similarity onto [0, 100].
func toPercent(sim float64) float64 {
	if math.IsNaN(sim) || sim <= 0 {
		return 0
	}
	if sim >= 1 {
		return 100
	}
	return sim * 100
}
