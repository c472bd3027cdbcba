package intelligence

import (
	"time"

	"github.com/oceanbase/memrank-go/pkg/storage"
)

// Default state thresholds on retrievability.
const (
	DefaultHotThreshold  = 0.80
	DefaultWarmThreshold = 0.25
	DefaultColdThreshold = 0.05

	// A memory that would be DORMANT is ARCHIVED once it is older than
	// ArchiveAfterDays and its retrievability is below ArchiveRetrievability.
	ArchiveRetrievability = 0.02
	ArchiveAfterDays      = 90.0
)

// ClassifierConfig tunes the tier classifier.
type ClassifierConfig struct {
	HotThreshold     float64 `json:"hot_threshold" koanf:"hot_threshold"`
	WarmThreshold    float64 `json:"warm_threshold" koanf:"warm_threshold"`
	ColdThreshold    float64 `json:"cold_threshold" koanf:"cold_threshold"`
	ArchiveAfterDays float64 `json:"archive_after_days" koanf:"archive_after_days"`

	DefaultHalfLifeDays float64 `json:"default_half_life_days" koanf:"default_half_life_days"`

	// DecayMultiplierEnabled applies ClassificationMultiplier to stability.
	DecayMultiplierEnabled bool `json:"decay_multiplier_enabled" koanf:"decay_multiplier_enabled"`

	// Per-state caps used by FilterAndLimitByState.
	MaxHotMemories      int `json:"max_hot_memories" koanf:"max_hot_memories"`
	MaxWarmMemories     int `json:"max_warm_memories" koanf:"max_warm_memories"`
	MaxColdMemories     int `json:"max_cold_memories" koanf:"max_cold_memories"`
	MaxDormantMemories  int `json:"max_dormant_memories" koanf:"max_dormant_memories"`
	MaxArchivedMemories int `json:"max_archived_memories" koanf:"max_archived_memories"`
}

// DefaultClassifierConfig returns the standard thresholds and caps.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		HotThreshold:           DefaultHotThreshold,
		WarmThreshold:          DefaultWarmThreshold,
		ColdThreshold:          DefaultColdThreshold,
		ArchiveAfterDays:       ArchiveAfterDays,
		DefaultHalfLifeDays:    DefaultHalfLifeDays,
		DecayMultiplierEnabled: true,
		MaxHotMemories:         5,
		MaxWarmMemories:        10,
		MaxColdMemories:        3,
		MaxDormantMemories:     2,
		MaxArchivedMemories:    1,
	}
}

// normalize repairs an inconsistent configuration. Thresholds must be
// strictly ordered HOT > WARM > COLD; an invalid pair falls back to defaults.
func (c ClassifierConfig) normalize() ClassifierConfig {
	def := DefaultClassifierConfig()
	valid := func(v float64) bool { return v >= 0 && v <= 1 }
	if !valid(c.HotThreshold) || c.HotThreshold == 0 {
		c.HotThreshold = def.HotThreshold
	}
	if !valid(c.WarmThreshold) || c.WarmThreshold == 0 {
		c.WarmThreshold = def.WarmThreshold
	}
	if !valid(c.ColdThreshold) || c.ColdThreshold == 0 {
		c.ColdThreshold = def.ColdThreshold
	}
	if c.HotThreshold <= c.WarmThreshold {
		c.HotThreshold, c.WarmThreshold = def.HotThreshold, def.WarmThreshold
	}
	if c.WarmThreshold <= c.ColdThreshold {
		c.WarmThreshold, c.ColdThreshold = def.WarmThreshold, def.ColdThreshold
	}
	if c.ArchiveAfterDays <= 0 {
		c.ArchiveAfterDays = def.ArchiveAfterDays
	}
	if c.DefaultHalfLifeDays <= 0 {
		c.DefaultHalfLifeDays = def.DefaultHalfLifeDays
	}
	for _, p := range []struct{ v, d *int }{
		{&c.MaxHotMemories, &def.MaxHotMemories},
		{&c.MaxWarmMemories, &def.MaxWarmMemories},
		{&c.MaxColdMemories, &def.MaxColdMemories},
		{&c.MaxDormantMemories, &def.MaxDormantMemories},
		{&c.MaxArchivedMemories, &def.MaxArchivedMemories},
	} {
		if *p.v <= 0 {
			*p.v = *p.d
		}
	}
	return c
}

// Classification is the result of classifying one memory.
type Classification struct {
	State          State   `json:"state"`
	Retrievability float64 `json:"retrievability"`

	// EffectiveHalfLife is nil for memories that never decay.
	EffectiveHalfLife *float64 `json:"effective_half_life,omitempty"`
	ElapsedDays       float64  `json:"elapsed_days"`
}

// Classifier maps memories onto the five freshness states.
// It is stateless apart from its configuration and safe for concurrent use.
type Classifier struct {
	cfg ClassifierConfig
}

// NewClassifier creates a classifier. Zero-valued numeric fields take
// defaults; DecayMultiplierEnabled is used as given.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	return &Classifier{cfg: cfg.normalize()}
}

// Config returns the effective configuration.
func (c *Classifier) Config() ClassifierConfig {
	return c.cfg
}

// ClassifyState classifies with the default thresholds.
func ClassifyState(retrievability, elapsedDays float64) State {
	return defaultClassifier.ClassifyState(retrievability, elapsedDays)
}

var defaultClassifier = NewClassifier(DefaultClassifierConfig())

// ClassifyState maps a retrievability and age onto a state.
//
// ARCHIVED only refines what would otherwise be DORMANT: age never
// overrides a retrievability that qualifies as HOT, WARM or COLD.
func (c *Classifier) ClassifyState(retrievability, elapsedDays float64) State {
	var state State
	switch {
	case retrievability >= c.cfg.HotThreshold:
		state = StateHot
	case retrievability >= c.cfg.WarmThreshold:
		state = StateWarm
	case retrievability >= c.cfg.ColdThreshold:
		state = StateCold
	default:
		state = StateDormant
	}

	if state == StateDormant &&
		clampElapsed(elapsedDays) > c.cfg.ArchiveAfterDays &&
		retrievability < ArchiveRetrievability {
		return StateArchived
	}
	return state
}

// EffectiveHalfLife returns the half-life used for m, or nil when m never
// decays.
func (c *Classifier) EffectiveHalfLife(m *storage.Memory) *float64 {
	if m.IsProtected() {
		return nil
	}
	if m.HalfLifeDays != nil && *m.HalfLifeDays > 0 {
		h := *m.HalfLifeDays
		return &h
	}
	h := c.cfg.DefaultHalfLifeDays
	return &h
}

// ClassifyTier classifies a memory at now.
//
// Protected memories (constitutional, critical or pinned) are always HOT with
// retrievability 1. Otherwise the stability derived from the effective
// half-life is raised to the memory's earned FSRS stability when that is
// larger, then scaled by the classification multiplier when enabled.
// Elapsed time runs from the last review, or creation when never reviewed.
func (c *Classifier) ClassifyTier(m *storage.Memory, now time.Time) Classification {
	if m == nil {
		return Classification{State: StateDormant}
	}
	if m.IsProtected() {
		return Classification{State: StateHot, Retrievability: 1}
	}

	halfLife := c.EffectiveHalfLife(m)
	stability := HalfLifeToStability(halfLife)
	if m.Stability > stability {
		stability = m.Stability
	}
	stability = EffectiveStability(stability, m.ContextType, m.ImportanceTier, c.cfg.DecayMultiplierEnabled)

	elapsed := ElapsedDays(m.LastReview, m.CreatedAt, now)
	r := Retrievability(stability, elapsed)

	return Classification{
		State:             c.ClassifyState(r, elapsed),
		Retrievability:    r,
		EffectiveHalfLife: halfLife,
		ElapsedDays:       elapsed,
	}
}

// ShouldArchive reports whether m is due for archival at now. Protected
// memories are never archived.
func (c *Classifier) ShouldArchive(m *storage.Memory, now time.Time) bool {
	if m == nil || m.IsProtected() {
		return false
	}
	return c.ClassifyTier(m, now).State == StateArchived
}
