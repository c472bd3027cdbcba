package workingmemory

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memrank-go/pkg/metrics"
	"github.com/oceanbase/memrank-go/pkg/storage/sqlite"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(t *testing.T, cfg Config) (*Manager, *clock) {
	t.Helper()
	store, err := sqlite.NewClient(&sqlite.Config{DBPath: sqlite.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	m, err := NewManager(store, cfg, nil)
	require.NoError(t, err)
	c := &clock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	m.now = c.now
	return m, c
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.DecayFloor = cfg.DeleteThreshold
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Capacity = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.DecayRate = 1.5
	_, err := NewManager(nil, cfg, nil)
	assert.Error(t, err)
}

func TestCalculateTier(t *testing.T) {
	assert.Equal(t, TierFocused, CalculateTier(0.8))
	assert.Equal(t, TierActive, CalculateTier(0.5))
	assert.Equal(t, TierPeripheral, CalculateTier(0.2))
	assert.Equal(t, TierFading, CalculateTier(0.19))
}

func TestGetOrCreateSession(t *testing.T) {
	assert.Equal(t, "abc", GetOrCreateSession("abc"))
	a, b := GetOrCreateSession(""), GetOrCreateSession("")
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "wm-")
}

func TestSetAttentionScore_UpsertAndClamp(t *testing.T) {
	m, c := newTestManager(t, DefaultConfig())
	ctx := context.Background()

	ok, err := m.SetAttentionScore(ctx, "s1", 10, 1.7)
	require.NoError(t, err)
	require.True(t, ok)

	e := m.GetEntry(ctx, "s1", 10)
	require.NotNil(t, e)
	assert.Equal(t, 1.0, e.AttentionScore)
	assert.Equal(t, 1, e.FocusCount)

	c.advance(time.Minute)
	_, err = m.SetAttentionScore(ctx, "s1", 10, -3)
	require.NoError(t, err)

	e = m.GetEntry(ctx, "s1", 10)
	require.NotNil(t, e)
	assert.Equal(t, 0.0, e.AttentionScore)
	assert.Equal(t, 2, e.FocusCount)
	assert.True(t, e.LastFocused.After(e.AddedAt))

	ok, err = m.SetAttentionScore(ctx, "", 10, 0.5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetAttentionScore_EvictsLowestWithinSession(t *testing.T) {
	m, c := newTestManager(t, DefaultConfig())
	ctx := context.Background()
	before := testutil.ToFloat64(metrics.WorkingMemoryRemovals.WithLabelValues("evicted"))

	for i := int64(1); i <= 7; i++ {
		_, err := m.SetAttentionScore(ctx, "s1", i, 0.1*float64(i))
		require.NoError(t, err)
		c.advance(time.Second)
	}
	_, err := m.SetAttentionScore(ctx, "other", 99, 0.01)
	require.NoError(t, err)

	// Updating an existing entry never evicts.
	_, err = m.SetAttentionScore(ctx, "s1", 3, 0.9)
	require.NoError(t, err)
	assert.Len(t, m.GetSession(ctx, "s1"), 7)

	_, err = m.SetAttentionScore(ctx, "s1", 8, 0.5)
	require.NoError(t, err)

	entries := m.GetSession(ctx, "s1")
	require.Len(t, entries, 7)
	assert.Nil(t, m.GetEntry(ctx, "s1", 1), "lowest score is evicted")
	assert.NotNil(t, m.GetEntry(ctx, "s1", 8))
	assert.NotNil(t, m.GetEntry(ctx, "other", 99), "other sessions are untouched")
	assert.Equal(t, 3, int(entries[0].MemoryID))

	after := testutil.ToFloat64(metrics.WorkingMemoryRemovals.WithLabelValues("evicted"))
	assert.Equal(t, 1.0, after-before)
}

func TestSetAttentionScore_EvictionTieBreak(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 2
	m, c := newTestManager(t, cfg)
	ctx := context.Background()

	_, _ = m.SetAttentionScore(ctx, "s", 5, 0.4)
	c.advance(time.Second)
	_, _ = m.SetAttentionScore(ctx, "s", 4, 0.4)
	c.advance(time.Second)
	_, err := m.SetAttentionScore(ctx, "s", 6, 0.4)
	require.NoError(t, err)

	assert.Nil(t, m.GetEntry(ctx, "s", 5), "least recently focused goes first")
	assert.NotNil(t, m.GetEntry(ctx, "s", 4))
}

func TestBatchUpdateScores_FloorAndThreshold(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())
	ctx := context.Background()

	_, _ = m.SetAttentionScore(ctx, "s", 1, 1.0)
	_, _ = m.SetAttentionScore(ctx, "s", 2, 0.03)
	_, _ = m.SetAttentionScore(ctx, "s", 3, 0.005)

	n, err := m.BatchUpdateScores(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.InDelta(t, 0.95, m.GetEntry(ctx, "s", 1).AttentionScore, 1e-9)
	assert.Equal(t, 0.03, m.GetEntry(ctx, "s", 2).AttentionScore, "below the floor is left alone")
	assert.Nil(t, m.GetEntry(ctx, "s", 3))

	for i := 0; i < 200; i++ {
		_, err := m.BatchUpdateScores(ctx, "s")
		require.NoError(t, err)
	}
	e := m.GetEntry(ctx, "s", 1)
	require.NotNil(t, e, "decay alone never deletes")
	assert.Equal(t, DefaultDecayFloor, e.AttentionScore)

	n, err = m.BatchUpdateScores(ctx, "s")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBatchUpdateAll(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())
	ctx := context.Background()

	_, _ = m.SetAttentionScore(ctx, "a", 1, 0.5)
	_, _ = m.SetAttentionScore(ctx, "b", 1, 0.5)
	assert.Equal(t, 2, m.BatchUpdateAll(ctx))
	assert.InDelta(t, 0.475, m.GetEntry(ctx, "b", 1).AttentionScore, 1e-9)
}

func TestCleanupOldSessions(t *testing.T) {
	m, c := newTestManager(t, DefaultConfig())
	ctx := context.Background()

	_, _ = m.SetAttentionScore(ctx, "a", 1, 0.9)
	_, _ = m.SetAttentionScore(ctx, "b", 1, 0.9)
	c.advance(20 * time.Minute)
	_, _ = m.SetAttentionScore(ctx, "a", 2, 0.9)
	_, _ = m.SetAttentionScore(ctx, "b", 1, 0.9)
	c.advance(15 * time.Minute)

	assert.Equal(t, 1, m.CleanupOldSessions(ctx))
	assert.Nil(t, m.GetEntry(ctx, "a", 1))
	assert.NotNil(t, m.GetEntry(ctx, "a", 2))
	assert.NotNil(t, m.GetEntry(ctx, "b", 1))
	assert.ElementsMatch(t, []string{"a", "b"}, m.Sessions(ctx))
}

func TestRemoveClearAndStats(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())
	ctx := context.Background()

	assert.Nil(t, m.GetSessionStats(ctx, "s"))

	_, _ = m.SetAttentionScore(ctx, "s", 1, 0.9)
	_, _ = m.SetAttentionScore(ctx, "s", 2, 0.3)
	_, _ = m.SetAttentionScore(ctx, "s", 2, 0.4)

	st := m.GetSessionStats(ctx, "s")
	require.NotNil(t, st)
	assert.Equal(t, 2, st.TotalEntries)
	assert.Equal(t, 0.65, st.AvgAttention)
	assert.Equal(t, 0.9, st.MaxAttention)
	assert.Equal(t, 0.4, st.MinAttention)
	assert.Equal(t, 3, st.TotalFocusEvents)

	ok, err := m.RemoveEntry(ctx, "s", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = m.RemoveEntry(ctx, "s", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := m.ClearSession(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, m.GetSession(ctx, "s"))
}

func TestWithoutStore(t *testing.T) {
	m, err := NewManager(nil, DefaultConfig(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := m.SetAttentionScore(ctx, "s", 1, 1)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, m.GetSession(ctx, "s"))
	assert.Nil(t, m.GetEntry(ctx, "s", 1))
	assert.Zero(t, m.BatchUpdateAll(ctx))
	assert.Zero(t, m.CleanupOldSessions(ctx))
	assert.Nil(t, m.GetSessionStats(ctx, "s"))
}

func TestDecayLoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DecayInterval = 5 * time.Millisecond
	m, _ := newTestManager(t, cfg)
	ctx := context.Background()

	_, err := m.SetAttentionScore(ctx, "s", 1, 1)
	require.NoError(t, err)

	require.NoError(t, m.StartDecayLoop(ctx))
	assert.ErrorIs(t, m.StartDecayLoop(ctx), ErrAlreadyRunning)
	assert.True(t, m.IsRunning())

	assert.Eventually(t, func() bool {
		e := m.GetEntry(ctx, "s", 1)
		return e != nil && e.AttentionScore < 1
	}, time.Second, 5*time.Millisecond)

	m.Stop()
	assert.False(t, m.IsRunning())
	m.Stop()
}
