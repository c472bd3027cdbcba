package intelligence

import (
	"math"
	"time"

	"github.com/oceanbase/memrank-go/pkg/storage"
)

// Review scheduling bounds.
const (
	DefaultStability  = 1.0
	DefaultDifficulty = 5.0
	MinDifficulty     = 1.0
	MaxDifficulty     = 10.0
	MinStability      = 0.1
	MaxStability      = 365.0

	// DesiredRetention is the retrievability at which the next review is due.
	DesiredRetention = 0.9
)

// ReviewParams is the scheduling state carried by a memory.
type ReviewParams struct {
	Stability   float64    `json:"stability"`
	Difficulty  float64    `json:"difficulty"`
	LastReview  *time.Time `json:"last_review,omitempty"`
	ReviewCount int        `json:"review_count"`
}

// ReviewResult is the outcome of ProcessReview.
type ReviewResult struct {
	ReviewParams
	NextReview time.Time `json:"next_review"`

	// Retrievability is the value at review time, before the update.
	Retrievability float64 `json:"retrievability"`
}

// ParamsFromMemory extracts the scheduling state of m.
func ParamsFromMemory(m *storage.Memory) ReviewParams {
	return ReviewParams{
		Stability:   m.Stability,
		Difficulty:  m.Difficulty,
		LastReview:  m.LastReview,
		ReviewCount: m.ReviewCount,
	}
}

// Apply writes the reviewed scheduling state back onto m.
func (r ReviewResult) Apply(m *storage.Memory) {
	m.Stability = r.Stability
	m.Difficulty = r.Difficulty
	m.LastReview = r.LastReview
	m.ReviewCount = r.ReviewCount
}

// DifficultyBonus rewards recall under higher forgetting: max(0, (0.9-R)·0.5).
func DifficultyBonus(retrievability float64) float64 {
	return math.Max(0, (DesiredRetention-retrievability)*0.5)
}

// ProcessReview updates scheduling state for a review graded at now.
//
// A lapse (GradeAgain) shrinks stability. Successful grades grow it by a
// grade factor, scaled by (1 + DifficultyBonus) so that recalling a
// half-forgotten memory strengthens it more. Stability is clamped to
// [MinStability, MaxStability] days and an out-of-range grade is clamped.
func ProcessReview(p ReviewParams, grade Grade, now time.Time) ReviewResult {
	grade = grade.Clamp()

	stability := p.Stability
	if stability <= 0 || math.IsInf(stability, 0) || math.IsNaN(stability) {
		stability = DefaultStability
	}
	difficulty := p.Difficulty
	if difficulty <= 0 {
		difficulty = DefaultDifficulty
	}

	elapsed := ElapsedDays(p.LastReview, time.Time{}, now)
	r := Retrievability(stability, elapsed)

	newStability := UpdateStability(stability, difficulty, grade, r)
	if grade != GradeAgain {
		newStability *= 1 + DifficultyBonus(r)
	}
	newStability = clamp(newStability, MinStability, MaxStability)

	reviewed := now
	return ReviewResult{
		ReviewParams: ReviewParams{
			Stability:   newStability,
			Difficulty:  UpdateDifficulty(difficulty, grade),
			LastReview:  &reviewed,
			ReviewCount: p.ReviewCount + 1,
		},
		NextReview:     now.Add(daysToDuration(OptimalInterval(newStability, DesiredRetention))),
		Retrievability: r,
	}
}

// UpdateStability computes the post-review stability before the difficulty
// bonus and bounds are applied.
func UpdateStability(stability, difficulty float64, grade Grade, retrievability float64) float64 {
	if grade.Clamp() == GradeAgain {
		return math.Max(MinStability, stability*0.2)
	}

	difficultyFactor := 1 + (11-difficulty)*0.1
	var gradeFactor float64
	switch grade.Clamp() {
	case GradeEasy:
		gradeFactor = 1.3
	case GradeGood:
		gradeFactor = 1.0
	default:
		gradeFactor = 0.8
	}
	retrievabilityBonus := 1 + (1-retrievability)*0.5

	return math.Max(MinStability, stability*difficultyFactor*gradeFactor*retrievabilityBonus)
}

// UpdateDifficulty moves difficulty by grade: again +1, hard +0.5, good 0,
// easy -0.5, within [MinDifficulty, MaxDifficulty].
func UpdateDifficulty(difficulty float64, grade Grade) float64 {
	switch grade.Clamp() {
	case GradeAgain:
		difficulty += 1.0
	case GradeHard:
		difficulty += 0.5
	case GradeEasy:
		difficulty -= 0.5
	}
	return clamp(difficulty, MinDifficulty, MaxDifficulty)
}

// OptimalInterval returns whole days until retrievability falls to
// desiredRetention, never less than one.
func OptimalInterval(stability, desiredRetention float64) float64 {
	if stability <= 0 || desiredRetention <= 0 || desiredRetention >= 1 {
		return 1
	}
	interval := (stability / FSRSFactor) * (math.Pow(desiredRetention, 1/FSRSDecay) - 1)
	return math.Max(1, math.Round(interval))
}

func daysToDuration(days float64) time.Duration {
	return time.Duration(days * float64(24*time.Hour))
}
