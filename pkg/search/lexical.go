package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/oceanbase/memrank-go/pkg/storage"
)

// LexicalSearcher scores memories by character-bigram overlap with the
// query. It needs no embedder and scans every non-archived row, so it only
// suits small stores and tests.
type LexicalSearcher struct {
	rows storage.Rows
}

// NewLexicalSearcher returns a searcher over rows.
func NewLexicalSearcher(rows storage.Rows) *LexicalSearcher {
	return &LexicalSearcher{rows: rows}
}

// Search implements Searcher.
func (l *LexicalSearcher) Search(ctx context.Context, query string, opts Options) ([]Candidate, error) {
	q := bigrams(query)
	if len(q) == 0 {
		return []Candidate{}, nil
	}

	memories, err := l.rows.ListMemories(ctx, storage.ListOptions{SpecFolder: opts.SpecFolder})
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	out := make([]Candidate, 0, len(memories))
	for _, m := range memories {
		sim := bigramSimilarity(q, bigrams(m.Content)) * 100
		if sim <= 0 || sim < opts.MinSimilarity {
			continue
		}
		out = append(out, Candidate{
			ID:         m.ID,
			Similarity: sim,
			Content:    m.Content,
			Title:      m.Title,
			FilePath:   m.FilePath,
			SpecFolder: m.SpecFolder,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].ID < out[j].ID
	})
	if limit := opts.limit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TextSimilarity scores doc against query in [0, 1]. Case and runs of
// whitespace are ignored; identical texts score 1.
func TextSimilarity(query, doc string) float64 {
	return bigramSimilarity(bigrams(query), bigrams(doc))
}

// bigramSimilarity blends the Jaccard index of two bigram sets with the share
// of the query's bigrams that doc contains.
func bigramSimilarity(query, doc map[string]bool) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	shared := 0
	for bg := range query {
		if doc[bg] {
			shared++
		}
	}
	union := len(query) + len(doc) - shared
	jaccard := float64(shared) / float64(union)
	containment := float64(shared) / float64(len(query))
	return 0.5*jaccard + 0.5*containment
}

func bigrams(s string) map[string]bool {
	r := []rune(strings.Join(strings.Fields(strings.ToLower(s)), " "))
	if len(r) < 2 {
		return nil
	}
	out := make(map[string]bool, len(r)-1)
	for i := 0; i < len(r)-1; i++ {
		out[string(r[i:i+2])] = true
	}
	return out
}
