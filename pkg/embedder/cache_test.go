package embedder_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memrank-go/pkg/embedder"
	"github.com/oceanbase/memrank-go/pkg/metrics"
	"github.com/oceanbase/memrank-go/pkg/storage/sqlite"
)

type countingProvider struct {
	model   string
	single  int
	batches [][]string
	fail    bool
}

func (p *countingProvider) Embed(_ context.Context, text string) ([]float64, error) {
	if p.fail {
		return nil, errors.New("upstream down")
	}
	p.single++
	return []float64{float64(len(text)), 1}, nil
}

func (p *countingProvider) EmbedBatch(_ context.Context, texts []string) ([][]float64, error) {
	p.batches = append(p.batches, texts)
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = []float64{float64(len(t)), 2}
	}
	return out, nil
}

func (p *countingProvider) Dimensions() int { return 2 }
func (p *countingProvider) Close() error    { return nil }
func (p *countingProvider) Model() string   { return p.model }

func TestContentHash(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		embedder.ContentHash(""))
	assert.NotEqual(t, embedder.ContentHash("a"), embedder.ContentHash("b"))
}

func TestCachedProvider_Embed(t *testing.T) {
	store, err := sqlite.NewClient(&sqlite.Config{DBPath: sqlite.MemoryPath})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	inner := &countingProvider{model: "m1"}
	cached := embedder.NewCachedProvider(inner, store, nil)
	assert.Equal(t, "m1", cached.Model())
	assert.Equal(t, 2, cached.Dimensions())

	hits := testutil.ToFloat64(metrics.EmbeddingCache.WithLabelValues("hit"))
	misses := testutil.ToFloat64(metrics.EmbeddingCache.WithLabelValues("miss"))

	first, err := cached.Embed(ctx, "hello")
	require.NoError(t, err)
	second, err := cached.Embed(ctx, "hello")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.single)
	assert.Equal(t, hits+1, testutil.ToFloat64(metrics.EmbeddingCache.WithLabelValues("hit")))
	assert.Equal(t, misses+1, testutil.ToFloat64(metrics.EmbeddingCache.WithLabelValues("miss")))

	// A different model does not see the entry.
	other := embedder.NewCachedProvider(&countingProvider{model: "m2"}, store, nil)
	_, err = other.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.single)
}

func TestCachedProvider_EmbedBatch(t *testing.T) {
	store, err := sqlite.NewClient(&sqlite.Config{DBPath: sqlite.MemoryPath})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	inner := &countingProvider{model: "m"}
	cached := embedder.NewCachedProvider(inner, store, nil)

	_, err = cached.Embed(ctx, "cached")
	require.NoError(t, err)

	out, err := cached.EmbedBatch(ctx, []string{"new one", "cached", "x"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Len(t, inner.batches, 1)
	assert.Equal(t, []string{"new one", "x"}, inner.batches[0])
	assert.Equal(t, []float64{6, 1}, out[1], "served from cache")
	assert.Equal(t, []float64{7, 2}, out[0])

	out, err = cached.EmbedBatch(ctx, []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, out[0])
	assert.Len(t, inner.batches, 1)
}

func TestCachedProvider_ErrorsPropagate(t *testing.T) {
	store, err := sqlite.NewClient(&sqlite.Config{DBPath: sqlite.MemoryPath})
	require.NoError(t, err)
	defer store.Close()

	cached := embedder.NewCachedProvider(&countingProvider{fail: true}, store, nil)
	assert.Equal(t, "default", cached.Model())
	_, err = cached.Embed(context.Background(), "x")
	assert.Error(t, err)
}

func TestCachedProvider_EvictOlderThan(t *testing.T) {
	store, err := sqlite.NewClient(&sqlite.Config{DBPath: sqlite.MemoryPath})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	inner := &countingProvider{model: "m"}
	cached := embedder.NewCachedProvider(inner, store, nil)

	_, err = cached.Embed(ctx, "stale")
	require.NoError(t, err)

	n, err := cached.EvictOlderThan(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = cached.EvictOlderThan(ctx, -time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = cached.Embed(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.single, "evicted entry is re-embedded")
}
