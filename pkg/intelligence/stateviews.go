package intelligence

import (
	"math"
	"time"

	"github.com/oceanbase/memrank-go/pkg/storage"
)

// DefaultStateLimit bounds state views when the caller passes no limit.
const DefaultStateLimit = 20

// StateStats tallies memories per state.
type StateStats struct {
	Hot      int `json:"HOT"`
	Warm     int `json:"WARM"`
	Cold     int `json:"COLD"`
	Dormant  int `json:"DORMANT"`
	Archived int `json:"ARCHIVED"`
	Total    int `json:"total"`
}

// Count returns the tally for s.
func (s StateStats) Count(state State) int {
	switch state {
	case StateHot:
		return s.Hot
	case StateWarm:
		return s.Warm
	case StateCold:
		return s.Cold
	case StateDormant:
		return s.Dormant
	case StateArchived:
		return s.Archived
	}
	return 0
}

func (s *StateStats) add(state State) {
	switch state {
	case StateHot:
		s.Hot++
	case StateWarm:
		s.Warm++
	case StateCold:
		s.Cold++
	case StateDormant:
		s.Dormant++
	case StateArchived:
		s.Archived++
	}
}

// ClassifiedMemory pairs a memory with its classification.
type ClassifiedMemory struct {
	Memory         *storage.Memory `json:"memory"`
	Classification Classification  `json:"classification"`
}

// StateContent is the set of memories currently in one state.
type StateContent struct {
	State    State              `json:"state"`
	Memories []ClassifiedMemory `json:"memories"`
	Count    int                `json:"count"`
}

// StateSummary is the compact per-memory view returned to callers.
type StateSummary struct {
	ID             int64   `json:"id"`
	Title          string  `json:"title"`
	State          State   `json:"state"`
	Retrievability float64 `json:"retrievability"`
	SpecFolder     string  `json:"spec_folder"`
	FilePath       string  `json:"file_path"`
}

// GetStateStats classifies every memory and counts the states.
func (c *Classifier) GetStateStats(memories []*storage.Memory, now time.Time) StateStats {
	stats := StateStats{Total: len(memories)}
	for _, m := range memories {
		stats.add(c.ClassifyTier(m, now).State)
	}
	return stats
}

// GetStateContent returns up to limit memories in state, in input order.
func (c *Classifier) GetStateContent(memories []*storage.Memory, state State, limit int, now time.Time) StateContent {
	if limit <= 0 {
		limit = DefaultStateLimit
	}
	out := StateContent{State: state, Memories: []ClassifiedMemory{}}
	for _, m := range memories {
		if len(out.Memories) >= limit {
			break
		}
		cls := c.ClassifyTier(m, now)
		if cls.State == state {
			out.Memories = append(out.Memories, ClassifiedMemory{Memory: m, Classification: cls})
		}
	}
	out.Count = len(out.Memories)
	return out
}

// FilterAndLimitByState selects memories for a retrieval surface.
//
// With a target state it returns the first limit memories in that state.
// With an empty target each state is capped (HOT 5, WARM 10, COLD 3,
// DORMANT 2, ARCHIVED 1 by default); slots left unused by under-filled
// states are handed to over-filled ones in priority order, then the whole
// result is cut to limit.
func (c *Classifier) FilterAndLimitByState(memories []*storage.Memory, target State, limit int, now time.Time) []ClassifiedMemory {
	if limit <= 0 {
		limit = DefaultStateLimit
	}

	byState := make(map[State][]ClassifiedMemory, len(States))
	for _, m := range memories {
		cls := c.ClassifyTier(m, now)
		if target != "" && cls.State != target {
			continue
		}
		byState[cls.State] = append(byState[cls.State], ClassifiedMemory{Memory: m, Classification: cls})
	}

	if target != "" {
		return truncateClassified(byState[target], limit)
	}

	surplus := 0
	for _, st := range States {
		if quota := c.stateCap(st); len(byState[st]) < quota {
			surplus += quota - len(byState[st])
		}
	}

	result := make([]ClassifiedMemory, 0, limit)
	for _, st := range States {
		group := byState[st]
		allowed := c.stateCap(st)
		if overflow := len(group) - allowed; overflow > 0 && surplus > 0 {
			extra := min(overflow, surplus)
			surplus -= extra
			allowed += extra
		}
		result = append(result, truncateClassified(group, allowed)...)
	}
	return truncateClassified(result, limit)
}

func (c *Classifier) stateCap(s State) int {
	switch s {
	case StateHot:
		return c.cfg.MaxHotMemories
	case StateWarm:
		return c.cfg.MaxWarmMemories
	case StateCold:
		return c.cfg.MaxColdMemories
	case StateDormant:
		return c.cfg.MaxDormantMemories
	default:
		return c.cfg.MaxArchivedMemories
	}
}

func truncateClassified(in []ClassifiedMemory, n int) []ClassifiedMemory {
	if len(in) > n {
		return in[:n]
	}
	return in
}

// FormatStateResponse renders compact summaries with retrievability rounded
// to two decimals.
func (c *Classifier) FormatStateResponse(memories []*storage.Memory, now time.Time) []StateSummary {
	out := make([]StateSummary, 0, len(memories))
	for _, m := range memories {
		cls := c.ClassifyTier(m, now)
		title := m.Title
		if title == "" {
			title = "Untitled"
		}
		out = append(out, StateSummary{
			ID:             m.ID,
			Title:          title,
			State:          cls.State,
			Retrievability: math.Round(cls.Retrievability*100) / 100,
			SpecFolder:     m.SpecFolder,
			FilePath:       m.FilePath,
		})
	}
	return out
}
