package intelligence

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/oceanbase/memrank-go/pkg/logging"
	"github.com/oceanbase/memrank-go/pkg/metrics"
	"github.com/oceanbase/memrank-go/pkg/search"
	"github.com/oceanbase/memrank-go/pkg/storage"
)

// Similarity thresholds on the [0,1] scale.
const (
	DuplicateThreshold   = 0.95
	HighMatchThreshold   = 0.85
	MediumMatchThreshold = 0.70
	LowMatchThreshold    = 0.50

	// PreviewLength caps content previews in conflict records, in runes.
	PreviewLength = 200
)

// GateInput is new content offered to the write gate.
type GateInput struct {
	Content     string
	ContentHash string
	SpecFolder  string

	// Candidates are similar existing memories, similarity 0-100.
	Candidates []search.Candidate
}

// GateDecision is the gate's verdict.
type GateDecision struct {
	Action Action `json:"action"`

	// Similarity of the top candidate on the 0-100 scale.
	Similarity float64 `json:"similarity"`

	// ExistingMemoryID is the top relevant candidate, nil when none
	// reached LowMatchThreshold.
	ExistingMemoryID *int64 `json:"existing_memory_id"`

	Contradiction *Contradiction `json:"contradiction,omitempty"`
	Reason        string         `json:"reason"`

	// Conflict is the audit row for evaluations at or above
	// LowMatchThreshold. The caller persists it alongside the write.
	Conflict *storage.ConflictRecord `json:"-"`
}

// Gate is the prediction-error write gate.
type Gate struct {
	detector ContradictionDetector
	logger   *zap.Logger
}

// NewGate creates a gate. A nil detector uses the pattern catalogue.
func NewGate(detector ContradictionDetector, logger *zap.Logger) *Gate {
	if detector == nil {
		detector = NewPatternDetector()
	}
	return &Gate{detector: detector, logger: logging.OrNop(logger).Named("gate")}
}

// Evaluate decides what to do with new content.
//
// Candidates are clamped to [0,100], filtered to LowMatchThreshold and the
// most similar one is compared:
//
//	>= 0.95  REINFORCE
//	>= 0.85  SUPERSEDE when a contradiction is detected, else UPDATE
//	>= 0.70  CREATE_LINKED
//	else     CREATE
//
// The only error returned is ctx's.
func (g *Gate) Evaluate(ctx context.Context, in GateInput) (*GateDecision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	decision := g.evaluate(ctx, in)
	metrics.GateDecisions.WithLabelValues(string(decision.Action)).Inc()
	if decision.Contradiction != nil && decision.Contradiction.Detected {
		metrics.ContradictionsDetected.WithLabelValues(decision.Contradiction.Type).Inc()
	}
	g.logger.Debug("write gate decision",
		zap.String("action", string(decision.Action)),
		zap.Float64("similarity", decision.Similarity),
		zap.String("reason", decision.Reason),
	)
	return decision, nil
}

func (g *Gate) evaluate(ctx context.Context, in GateInput) *GateDecision {
	if len(in.Candidates) == 0 {
		return &GateDecision{Action: ActionCreate, Reason: "No existing candidates found"}
	}

	relevant := FilterRelevantCandidates(in.Candidates)
	if len(relevant) == 0 {
		return &GateDecision{Action: ActionCreate, Reason: "No relevant candidates after filtering"}
	}

	top := relevant[0]
	similarity := top.Similarity / 100

	// Only the high-match band branches on a contradiction. Elsewhere the
	// pattern catalogue fills in the audit row without calling the detector.
	var contradiction Contradiction
	if similarity >= HighMatchThreshold && similarity < DuplicateThreshold {
		contradiction = g.detect(ctx, in.Content, top.Content)
	} else {
		contradiction = DetectContradiction(in.Content, top.Content)
	}

	var action Action
	var reason string
	switch {
	case similarity >= DuplicateThreshold:
		action = ActionReinforce
		reason = fmt.Sprintf("Duplicate detected (similarity: %.1f%%)", top.Similarity)
	case similarity >= HighMatchThreshold:
		if contradiction.Detected {
			action = ActionSupersede
			reason = "High match with contradiction: " + contradiction.Description
		} else {
			action = ActionUpdate
			reason = fmt.Sprintf("High match, updating existing (similarity: %.1f%%)", top.Similarity)
		}
	case similarity >= MediumMatchThreshold:
		action = ActionCreateLinked
		reason = fmt.Sprintf("Medium match, creating linked memory (similarity: %.1f%%)", top.Similarity)
	default:
		action = ActionCreate
		reason = fmt.Sprintf("Low/no match (similarity: %.1f%%)", top.Similarity)
	}

	existingID := top.ID
	decision := &GateDecision{
		Action:           action,
		Similarity:       top.Similarity,
		ExistingMemoryID: &existingID,
		Contradiction:    &contradiction,
		Reason:           reason,
	}
	// relevant candidates are all >= LowMatchThreshold.
	decision.Conflict = &storage.ConflictRecord{
		Action:                string(action),
		NewContentHash:        in.ContentHash,
		ExistingMemoryID:      &existingID,
		Similarity:            top.Similarity,
		Reason:                reason,
		ContradictionDetected: contradiction.Detected,
		ContradictionType:     contradiction.Type,
		NewContentPreview:     TruncatePreview(in.Content),
		ExistingPreview:       TruncatePreview(top.Content),
		SpecFolder:            in.SpecFolder,
	}
	return decision
}

func (g *Gate) detect(ctx context.Context, newContent, existingContent string) Contradiction {
	c, err := g.detector.Detect(ctx, newContent, existingContent)
	if err != nil {
		g.logger.Warn("contradiction detector failed, using pattern catalogue", zap.Error(err))
		return DetectContradiction(newContent, existingContent)
	}
	return c
}

// FilterRelevantCandidates clamps similarities to [0,100], keeps those at or
// above LowMatchThreshold and sorts them most similar first (ties by id).
// The input slice is not modified.
func FilterRelevantCandidates(candidates []search.Candidate) []search.Candidate {
	out := make([]search.Candidate, 0, len(candidates))
	for _, c := range candidates {
		c.Similarity = clamp(c.Similarity, 0, 100)
		if c.Similarity >= LowMatchThreshold*100 {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// TruncatePreview cuts s to PreviewLength runes, marking the cut with "...".
func TruncatePreview(s string) string {
	runes := []rune(s)
	if len(runes) <= PreviewLength {
		return s
	}
	return string(runes[:PreviewLength]) + "..."
}

// BatchStats summarises EvaluateBatch.
type BatchStats struct {
	Total          int `json:"total"`
	Creates        int `json:"creates"`
	Updates        int `json:"updates"`
	Supersedes     int `json:"supersedes"`
	Reinforces     int `json:"reinforces"`
	Contradictions int `json:"contradictions"`
}

// EvaluateBatch evaluates several inputs independently.
func (g *Gate) EvaluateBatch(ctx context.Context, inputs []GateInput) ([]*GateDecision, BatchStats, error) {
	var stats BatchStats
	decisions := make([]*GateDecision, 0, len(inputs))
	for _, in := range inputs {
		d, err := g.Evaluate(ctx, in)
		if err != nil {
			return decisions, stats, err
		}
		decisions = append(decisions, d)
		stats.Total++
		switch d.Action {
		case ActionCreate, ActionCreateLinked:
			stats.Creates++
		case ActionUpdate:
			stats.Updates++
		case ActionSupersede:
			stats.Supersedes++
		case ActionReinforce:
			stats.Reinforces++
		}
		if d.Contradiction != nil && d.Contradiction.Detected {
			stats.Contradictions++
		}
	}
	return decisions, stats, nil
}

// SimilarityStats describes a candidate list.
type SimilarityStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Count int     `json:"count"`
}

// CalculateSimilarityStats returns min, max and mean (two decimals) of the
// candidate similarities.
func CalculateSimilarityStats(candidates []search.Candidate) SimilarityStats {
	if len(candidates) == 0 {
		return SimilarityStats{}
	}
	stats := SimilarityStats{Min: candidates[0].Similarity, Max: candidates[0].Similarity, Count: len(candidates)}
	sum := 0.0
	for _, c := range candidates {
		sum += c.Similarity
		stats.Min = min(stats.Min, c.Similarity)
		stats.Max = max(stats.Max, c.Similarity)
	}
	stats.Avg = roundTo(sum/float64(len(candidates)), 2)
	return stats
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
