package intelligence

import (
	"math"
	"time"

	"github.com/oceanbase/memrank-go/pkg/storage"
)

// FSRS v4 power-law forgetting curve: R(t) = (1 + Factor·t/S)^Decay.
const (
	FSRSFactor = 19.0 / 81.0
	FSRSDecay  = -0.5

	// HalfLifeFactor converts a half-life to stability: solving R(h) = 0.5
	// gives S = (Factor/3)·h = (19/243)·h.
	HalfLifeFactor = FSRSFactor / 3

	// DefaultHalfLifeDays applies when a memory carries no explicit half-life.
	DefaultHalfLifeDays = 60.0
)

// Retrievability returns the probability-like freshness of a memory with the
// given stability after elapsedDays without review.
//
// Stability <= 0 yields 0. Infinite stability yields 1. The result is always
// within [0,1].
func Retrievability(stability, elapsedDays float64) float64 {
	if stability <= 0 || math.IsNaN(stability) {
		return 0
	}
	if math.IsInf(stability, 1) {
		return 1
	}
	t := clampElapsed(elapsedDays)
	r := math.Pow(1+FSRSFactor*t/stability, FSRSDecay)
	return clamp01(r)
}

// ElapsedDays returns the days between since (or fallback when since is nil)
// and now. Timestamps in the future count as zero elapsed time, so such a
// memory is treated as fully fresh.
func ElapsedDays(since *time.Time, fallback, now time.Time) float64 {
	ref := fallback
	if since != nil && !since.IsZero() {
		ref = *since
	}
	if ref.IsZero() {
		return 0
	}
	return clampElapsed(now.Sub(ref).Hours() / 24)
}

// clampElapsed is the single place negative elapsed time is normalised.
func clampElapsed(days float64) float64 {
	if days < 0 || math.IsNaN(days) {
		return 0
	}
	return days
}

// HalfLifeToStability converts a half-life in days into FSRS stability.
// A nil or non-positive half-life means the memory never decays.
func HalfLifeToStability(halfLifeDays *float64) float64 {
	if halfLifeDays == nil || *halfLifeDays <= 0 {
		return math.Inf(1)
	}
	return HalfLifeFactor * *halfLifeDays
}

var contextTypeStabilityMultiplier = map[string]float64{
	"decision":       math.Inf(1),
	"research":       2.0,
	"implementation": 1.0,
	"discovery":      1.0,
	"general":        1.0,
}

var tierStabilityMultiplier = map[storage.ImportanceTier]float64{
	storage.TierConstitutional: math.Inf(1),
	storage.TierCritical:       math.Inf(1),
	storage.TierImportant:      1.5,
	storage.TierNormal:         1.0,
	storage.TierTemporary:      0.5,
	storage.TierDeprecated:     0.25,
}

// ClassificationMultiplier returns the stability multiplier for a memory's
// context type and importance tier. Unknown keys count as 1.0; if either
// factor is infinite the product is infinite.
func ClassificationMultiplier(contextType string, tier storage.ImportanceTier) float64 {
	ctxMult, ok := contextTypeStabilityMultiplier[contextType]
	if !ok {
		ctxMult = 1.0
	}
	tierMult, ok := tierStabilityMultiplier[tier]
	if !ok {
		tierMult = 1.0
	}
	if math.IsInf(ctxMult, 1) || math.IsInf(tierMult, 1) {
		return math.Inf(1)
	}
	return ctxMult * tierMult
}

// EffectiveStability applies ClassificationMultiplier when enabled and
// returns stability unchanged otherwise.
func EffectiveStability(stability float64, contextType string, tier storage.ImportanceTier, enabled bool) float64 {
	if !enabled || stability <= 0 {
		return stability
	}
	mult := ClassificationMultiplier(contextType, tier)
	if math.IsInf(mult, 1) {
		return math.Inf(1)
	}
	return stability * mult
}

func clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
