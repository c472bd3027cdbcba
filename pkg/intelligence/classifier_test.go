package intelligence_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memrank-go/pkg/intelligence"
	"github.com/oceanbase/memrank-go/pkg/storage"
)

func memoryAged(ageDays float64) *storage.Memory {
	return &storage.Memory{
		Title:          "note",
		ImportanceTier: storage.TierNormal,
		ContextType:    "general",
		CreatedAt:      baseTime.Add(-days(ageDays)),
	}
}

func TestClassifyState(t *testing.T) {
	cases := []struct {
		r, elapsed float64
		want       intelligence.State
	}{
		{1.0, 0, intelligence.StateHot},
		{0.80, 0, intelligence.StateHot},
		{0.79, 0, intelligence.StateWarm},
		{0.25, 0, intelligence.StateWarm},
		{0.24, 0, intelligence.StateCold},
		{0.05, 0, intelligence.StateCold},
		{0.04, 0, intelligence.StateDormant},
		{0.01, 90, intelligence.StateDormant},
		{0.01, 91, intelligence.StateArchived},
		{0.03, 500, intelligence.StateDormant},
		{0.9, 5000, intelligence.StateHot},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, intelligence.ClassifyState(tc.r, tc.elapsed), "r=%v elapsed=%v", tc.r, tc.elapsed)
	}
}

func TestClassifyTier_DefaultHalfLife(t *testing.T) {
	c := intelligence.NewClassifier(intelligence.DefaultClassifierConfig())

	fresh := c.ClassifyTier(memoryAged(0), baseTime)
	assert.Equal(t, intelligence.StateHot, fresh.State)
	assert.Equal(t, 1.0, fresh.Retrievability)
	require.NotNil(t, fresh.EffectiveHalfLife)
	assert.Equal(t, 60.0, *fresh.EffectiveHalfLife)

	half := c.ClassifyTier(memoryAged(60), baseTime)
	assert.Equal(t, intelligence.StateWarm, half.State)
	assert.InDelta(t, 0.5, half.Retrievability, 1e-9)
	assert.InDelta(t, 60, half.ElapsedDays, 1e-9)

	// (1 + 3*400/60)^-0.5 = 21^-0.5
	cold := c.ClassifyTier(memoryAged(400), baseTime)
	assert.Equal(t, intelligence.StateCold, cold.State)
}

func TestClassifyTier_ExplicitHalfLife(t *testing.T) {
	c := intelligence.NewClassifier(intelligence.DefaultClassifierConfig())

	dormant := memoryAged(200)
	dormant.HalfLifeDays = ptr(1.0)
	cls := c.ClassifyTier(dormant, baseTime)
	assert.Equal(t, intelligence.StateDormant, cls.State, "old but retrievability above 0.02")
	assert.False(t, c.ShouldArchive(dormant, baseTime))

	archived := memoryAged(1000)
	archived.HalfLifeDays = ptr(1.0)
	cls = c.ClassifyTier(archived, baseTime)
	assert.Equal(t, intelligence.StateArchived, cls.State)
	assert.Less(t, cls.Retrievability, intelligence.ArchiveRetrievability)
	assert.True(t, c.ShouldArchive(archived, baseTime))
}

func TestClassifyTier_Protected(t *testing.T) {
	c := intelligence.NewClassifier(intelligence.DefaultClassifierConfig())

	for _, mutate := range []func(*storage.Memory){
		func(m *storage.Memory) { m.ImportanceTier = storage.TierConstitutional },
		func(m *storage.Memory) { m.ImportanceTier = storage.TierCritical },
		func(m *storage.Memory) { m.IsPinned = true },
	} {
		m := memoryAged(5000)
		m.HalfLifeDays = ptr(1.0)
		mutate(m)

		cls := c.ClassifyTier(m, baseTime)
		assert.Equal(t, intelligence.StateHot, cls.State)
		assert.Equal(t, 1.0, cls.Retrievability)
		assert.Nil(t, cls.EffectiveHalfLife)
		assert.False(t, c.ShouldArchive(m, baseTime))
	}
}

func TestClassifyTier_EarnedStability(t *testing.T) {
	c := intelligence.NewClassifier(intelligence.DefaultClassifierConfig())

	m := memoryAged(60)
	m.Stability = 100
	cls := c.ClassifyTier(m, baseTime)
	assert.Equal(t, intelligence.StateHot, cls.State)
	assert.InDelta(t, intelligence.Retrievability(100, 60), cls.Retrievability, 1e-12)
}

func TestClassifyTier_LastReviewResetsClock(t *testing.T) {
	c := intelligence.NewClassifier(intelligence.DefaultClassifierConfig())

	m := memoryAged(1000)
	review := baseTime.Add(-days(1))
	m.LastReview = &review

	cls := c.ClassifyTier(m, baseTime)
	assert.InDelta(t, 1, cls.ElapsedDays, 1e-9)
	assert.Equal(t, intelligence.StateHot, cls.State)
}

func TestClassifyTier_DecayMultiplierFlag(t *testing.T) {
	on := intelligence.NewClassifier(intelligence.DefaultClassifierConfig())
	offCfg := intelligence.DefaultClassifierConfig()
	offCfg.DecayMultiplierEnabled = false
	off := intelligence.NewClassifier(offCfg)

	m := memoryAged(60)
	m.ContextType = "research"
	assert.Greater(t, on.ClassifyTier(m, baseTime).Retrievability, off.ClassifyTier(m, baseTime).Retrievability)
	assert.InDelta(t, 0.5, off.ClassifyTier(m, baseTime).Retrievability, 1e-9)

	m.ContextType = "decision"
	assert.Equal(t, 1.0, on.ClassifyTier(m, baseTime).Retrievability)
	assert.Equal(t, intelligence.StateHot, on.ClassifyTier(m, baseTime).State)

	m.ContextType = "general"
	m.ImportanceTier = storage.TierDeprecated
	assert.Less(t, on.ClassifyTier(m, baseTime).Retrievability, 0.5)
}

func TestNewClassifier_RepairsConfig(t *testing.T) {
	c := intelligence.NewClassifier(intelligence.ClassifierConfig{
		HotThreshold:  0.2,
		WarmThreshold: 0.6,
		ColdThreshold: 1.5,
	})
	cfg := c.Config()
	assert.Equal(t, intelligence.DefaultHotThreshold, cfg.HotThreshold)
	assert.Equal(t, intelligence.DefaultWarmThreshold, cfg.WarmThreshold)
	assert.Equal(t, intelligence.DefaultColdThreshold, cfg.ColdThreshold)
	assert.Equal(t, 60.0, cfg.DefaultHalfLifeDays)
	assert.Equal(t, 5, cfg.MaxHotMemories)
	assert.False(t, cfg.DecayMultiplierEnabled, "flag is taken as given")
}

func TestParseState(t *testing.T) {
	st, ok := intelligence.ParseState("warm")
	assert.True(t, ok)
	assert.Equal(t, intelligence.StateWarm, st)

	_, ok = intelligence.ParseState("lukewarm")
	assert.False(t, ok)
}
