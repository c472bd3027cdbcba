package core

import (
	"github.com/oceanbase/memrank-go/pkg/intelligence"
	"github.com/oceanbase/memrank-go/pkg/ranking"
	"github.com/oceanbase/memrank-go/pkg/storage"
)

// SaveResult describes what Save did with new content.
type SaveResult struct {
	// Action is the write-gate decision that was applied.
	Action intelligence.Action `json:"action"`

	// Memory is the row that now holds the content: the new memory, or the
	// existing one for REINFORCE and UPDATE.
	Memory *storage.Memory `json:"memory"`

	// ExistingMemoryID is the most similar prior memory, nil when none was
	// relevant.
	ExistingMemoryID *int64 `json:"existing_memory_id,omitempty"`

	// Similarity of the existing memory on the 0-100 scale.
	Similarity float64 `json:"similarity"`

	Reason        string                      `json:"reason"`
	Contradiction *intelligence.Contradiction `json:"contradiction,omitempty"`
}

// SearchResult contains the ranked results of a search.
type SearchResult struct {
	// Results are sorted by final score, best first.
	Results []ranking.Scored `json:"results"`

	// Related are memories reachable from the results through relation
	// edges that were not returned themselves.
	Related []ranking.Activation `json:"related"`

	// TotalCandidates is how many candidates the searcher returned before
	// ranking and truncation.
	TotalCandidates int `json:"total_candidates"`
}

// Memories returns the ranked memories without scores.
func (r *SearchResult) Memories() []*storage.Memory {
	out := make([]*storage.Memory, 0, len(r.Results))
	for _, s := range r.Results {
		out = append(out, s.Memory)
	}
	return out
}

// ReviewOutcome is the result of reviewing a memory.
type ReviewOutcome struct {
	MemoryID int64 `json:"memory_id"`
	intelligence.ReviewResult
}
