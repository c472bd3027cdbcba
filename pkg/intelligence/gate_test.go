package intelligence_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/oceanbase/memrank-go/pkg/intelligence"
	"github.com/oceanbase/memrank-go/pkg/logging"
	"github.com/oceanbase/memrank-go/pkg/metrics"
	"github.com/oceanbase/memrank-go/pkg/search"
)

func candidate(id int64, sim float64, content string) search.Candidate {
	return search.Candidate{ID: id, Similarity: sim, Content: content}
}

func TestGate_NoCandidates(t *testing.T) {
	gate := intelligence.NewGate(nil, nil)

	d, err := gate.Evaluate(context.Background(), intelligence.GateInput{Content: "new fact"})
	require.NoError(t, err)
	assert.Equal(t, intelligence.ActionCreate, d.Action)
	assert.Nil(t, d.ExistingMemoryID)
	assert.Nil(t, d.Conflict)
	assert.Equal(t, "No existing candidates found", d.Reason)
}

func TestGate_NoRelevantCandidates(t *testing.T) {
	gate := intelligence.NewGate(nil, nil)

	d, err := gate.Evaluate(context.Background(), intelligence.GateInput{
		Content:    "new fact",
		Candidates: []search.Candidate{candidate(1, 49.9, "x"), candidate(2, -5, "y")},
	})
	require.NoError(t, err)
	assert.Equal(t, intelligence.ActionCreate, d.Action)
	assert.Nil(t, d.ExistingMemoryID)
	assert.Nil(t, d.Conflict)
	assert.Equal(t, "No relevant candidates after filtering", d.Reason)
}

func TestGate_Actions(t *testing.T) {
	cases := []struct {
		name     string
		sim      float64
		newText  string
		existing string
		want     intelligence.Action
	}{
		{"duplicate", 100, "Use bcrypt", "Use bcrypt", intelligence.ActionReinforce},
		{"duplicate clamped", 140, "Use bcrypt", "Use bcrypt", intelligence.ActionReinforce},
		{"duplicate boundary", 95, "a", "b", intelligence.ActionReinforce},
		{"update", 90, "Use bcrypt with cost 12", "Use bcrypt", intelligence.ActionUpdate},
		{"supersede", 90, "We no longer use bcrypt", "Use bcrypt", intelligence.ActionSupersede},
		{"linked", 75, "bcrypt cost factor", "Use bcrypt", intelligence.ActionCreateLinked},
		{"low", 50, "passwords", "Use bcrypt", intelligence.ActionCreate},
	}

	gate := intelligence.NewGate(nil, nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := gate.Evaluate(context.Background(), intelligence.GateInput{
				Content:     tc.newText,
				ContentHash: "hash",
				SpecFolder:  "specs/auth",
				Candidates:  []search.Candidate{candidate(7, tc.sim, tc.existing)},
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, d.Action)
			require.NotNil(t, d.ExistingMemoryID, "a qualifying candidate is always referenced")
			assert.Equal(t, int64(7), *d.ExistingMemoryID)

			require.NotNil(t, d.Conflict)
			assert.Equal(t, string(tc.want), d.Conflict.Action)
			assert.Equal(t, "hash", d.Conflict.NewContentHash)
			assert.Equal(t, "specs/auth", d.Conflict.SpecFolder)
			assert.Equal(t, d.Similarity, d.Conflict.Similarity)
			assert.LessOrEqual(t, d.Similarity, 100.0)
		})
	}
}

func TestGate_SupersedeRecordsContradiction(t *testing.T) {
	gate := intelligence.NewGate(nil, nil)
	before := testutil.ToFloat64(metrics.ContradictionsDetected.WithLabelValues("deprecation"))

	d, err := gate.Evaluate(context.Background(), intelligence.GateInput{
		Content:    "Session tokens are no longer stored in cookies",
		Candidates: []search.Candidate{candidate(3, 90, "Session tokens are stored in cookies")},
	})
	require.NoError(t, err)
	assert.Equal(t, intelligence.ActionSupersede, d.Action)
	require.NotNil(t, d.Contradiction)
	assert.Equal(t, "deprecation", d.Contradiction.Type)
	assert.True(t, d.Conflict.ContradictionDetected)
	assert.Equal(t, "deprecation", d.Conflict.ContradictionType)
	assert.Equal(t, "High match with contradiction: Previous approach deprecated", d.Reason)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ContradictionsDetected.WithLabelValues("deprecation")))
}

func TestGate_PicksMostSimilar(t *testing.T) {
	gate := intelligence.NewGate(nil, nil)

	d, err := gate.Evaluate(context.Background(), intelligence.GateInput{
		Content: "x",
		Candidates: []search.Candidate{
			candidate(5, 72, "a"),
			candidate(9, 88, "b"),
			candidate(2, 88, "c"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), *d.ExistingMemoryID, "ties break by lower id")
	assert.Equal(t, intelligence.ActionUpdate, d.Action)
	assert.Equal(t, "High match, updating existing (similarity: 88.0%)", d.Reason)
}

func TestGate_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := intelligence.NewGate(nil, nil).Evaluate(ctx, intelligence.GateInput{Content: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

type failingDetector struct{}

func (failingDetector) Detect(context.Context, string, string) (intelligence.Contradiction, error) {
	return intelligence.Contradiction{}, errors.New("boom")
}

func TestGate_DetectorFailureFallsBack(t *testing.T) {
	logger, logs := logging.NewObserved(zapcore.WarnLevel)
	gate := intelligence.NewGate(failingDetector{}, logger)

	d, err := gate.Evaluate(context.Background(), intelligence.GateInput{
		Content:    "This is wrong: use argon2",
		Candidates: []search.Candidate{candidate(1, 86, "Use bcrypt")},
	})
	require.NoError(t, err)
	assert.Equal(t, intelligence.ActionSupersede, d.Action)
	assert.Equal(t, "correction", d.Contradiction.Type)
	assert.Equal(t, 1, logs.Len())
}

type countingDetector struct{ calls int }

func (d *countingDetector) Detect(_ context.Context, newContent, existingContent string) (intelligence.Contradiction, error) {
	d.calls++
	return intelligence.DetectContradiction(newContent, existingContent), nil
}

func TestGate_DetectorOnlyInHighMatchBand(t *testing.T) {
	cases := []struct {
		similarity float64
		calls      int
		action     intelligence.Action
	}{
		{98, 0, intelligence.ActionReinforce},
		{90, 1, intelligence.ActionSupersede},
		{75, 0, intelligence.ActionCreateLinked},
		{55, 0, intelligence.ActionCreate},
	}
	for _, tc := range cases {
		detector := &countingDetector{}
		d, err := intelligence.NewGate(detector, nil).Evaluate(context.Background(), intelligence.GateInput{
			Content:    "We no longer use bcrypt",
			Candidates: []search.Candidate{candidate(1, tc.similarity, "Use bcrypt")},
		})
		require.NoError(t, err)
		assert.Equal(t, tc.calls, detector.calls, "similarity %v", tc.similarity)
		assert.Equal(t, tc.action, d.Action, "similarity %v", tc.similarity)

		// The audit row still carries the catalogue's verdict.
		require.NotNil(t, d.Conflict)
		assert.True(t, d.Conflict.ContradictionDetected, "similarity %v", tc.similarity)
		assert.Equal(t, "deprecation", d.Conflict.ContradictionType)
	}
}

func TestGate_PreviewsTruncated(t *testing.T) {
	long := strings.Repeat("é", 250)
	d, err := intelligence.NewGate(nil, nil).Evaluate(context.Background(), intelligence.GateInput{
		Content:    long,
		Candidates: []search.Candidate{candidate(1, 60, long)},
	})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 200)+"...", d.Conflict.NewContentPreview)
	assert.Equal(t, d.Conflict.NewContentPreview, d.Conflict.ExistingPreview)

	assert.Equal(t, "short", intelligence.TruncatePreview("short"))
}

func TestFilterRelevantCandidates(t *testing.T) {
	in := []search.Candidate{candidate(1, 30, ""), candidate(2, 150, ""), candidate(3, 50, ""), candidate(4, 70, "")}
	out := intelligence.FilterRelevantCandidates(in)

	require.Len(t, out, 3)
	assert.Equal(t, []int64{2, 4, 3}, []int64{out[0].ID, out[1].ID, out[2].ID})
	assert.Equal(t, 100.0, out[0].Similarity)
	assert.Equal(t, 150.0, in[1].Similarity, "input untouched")
}

func TestEvaluateBatch(t *testing.T) {
	gate := intelligence.NewGate(nil, nil)
	decisions, stats, err := gate.EvaluateBatch(context.Background(), []intelligence.GateInput{
		{Content: "a"},
		{Content: "b", Candidates: []search.Candidate{candidate(1, 99, "b")}},
		{Content: "c is no longer true", Candidates: []search.Candidate{candidate(2, 90, "c is true")}},
		{Content: "d", Candidates: []search.Candidate{candidate(3, 90, "d")}},
		{Content: "e", Candidates: []search.Candidate{candidate(4, 80, "e")}},
	})
	require.NoError(t, err)
	assert.Len(t, decisions, 5)
	assert.Equal(t, intelligence.BatchStats{
		Total: 5, Creates: 2, Updates: 1, Supersedes: 1, Reinforces: 1, Contradictions: 1,
	}, stats)
}

func TestCalculateSimilarityStats(t *testing.T) {
	assert.Equal(t, intelligence.SimilarityStats{}, intelligence.CalculateSimilarityStats(nil))

	stats := intelligence.CalculateSimilarityStats([]search.Candidate{
		candidate(1, 60, ""), candidate(2, 90, ""), candidate(3, 71, ""),
	})
	assert.Equal(t, 60.0, stats.Min)
	assert.Equal(t, 90.0, stats.Max)
	assert.Equal(t, 73.67, stats.Avg)
	assert.Equal(t, 3, stats.Count)
}

func TestActionPriority(t *testing.T) {
	assert.Less(t, intelligence.ActionPriority(intelligence.ActionSupersede), intelligence.ActionPriority(intelligence.ActionUpdate))
	assert.Less(t, intelligence.ActionPriority(intelligence.ActionCreate), intelligence.ActionPriority(intelligence.ActionReinforce))
	assert.Equal(t, 99, intelligence.ActionPriority("OTHER"))
}
