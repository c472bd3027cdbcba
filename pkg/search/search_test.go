package search_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memrank-go/pkg/search"
	"github.com/oceanbase/memrank-go/pkg/storage"
	"github.com/oceanbase/memrank-go/pkg/storage/sqlite"
)

// letterEmbedder embeds text as a 26-dim letter histogram.
type letterEmbedder struct {
	calls int
}

func (e *letterEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	e.calls++
	vec := make([]float64, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			vec[r-'a']++
		}
	}
	return vec, nil
}

func (e *letterEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (e *letterEmbedder) Dimensions() int { return 26 }
func (e *letterEmbedder) Close() error    { return nil }

func newStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := sqlite.NewClient(&sqlite.Config{DBPath: sqlite.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func insert(t *testing.T, rows storage.Rows, folder, content string) *storage.Memory {
	t.Helper()
	m := &storage.Memory{
		SpecFolder:     folder,
		Content:        content,
		ContentHash:    "h-" + content,
		ImportanceTier: storage.TierNormal,
		ContextType:    "general",
	}
	require.NoError(t, rows.InsertMemory(context.Background(), m))
	return m
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, search.CosineSimilarity([]float64{1, 2, 3}, []float64{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, search.CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, search.CosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, search.CosineSimilarity([]float64{1}, []float64{1, 2}))
	assert.Equal(t, 0.0, search.CosineSimilarity([]float64{0, 0}, []float64{1, 2}))
	assert.Equal(t, 0.0, search.CosineSimilarity(nil, nil))
}

func TestTextSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, search.TextSimilarity("Use  bcrypt", "use bcrypt"), 1e-9)
	assert.Equal(t, 0.0, search.TextSimilarity("a", "a"))
	assert.Equal(t, 0.0, search.TextSimilarity("xy", "qz"))

	partial := search.TextSimilarity("bcrypt", "use bcrypt for passwords")
	assert.Greater(t, partial, 0.5)
	assert.Less(t, partial, 1.0)
}

func TestLexicalSearcher(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	exact := insert(t, store, "auth", "use bcrypt for password hashing")
	insert(t, store, "auth", "rotate api keys monthly")
	other := insert(t, store, "billing", "use bcrypt for password hashing")

	s := search.NewLexicalSearcher(store)

	got, err := s.Search(ctx, "use bcrypt for password hashing", search.Options{SpecFolder: "auth"})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, exact.ID, got[0].ID)
	assert.InDelta(t, 100.0, got[0].Similarity, 1e-9)
	for _, c := range got {
		assert.NotEqual(t, other.ID, c.ID, "folder filter")
	}

	got, err = s.Search(ctx, "use bcrypt for password hashing", search.Options{MinSimilarity: 99, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, exact.ID, got[0].ID, "ties break by id")

	got, err = s.Search(ctx, "", search.Options{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLexicalSearcherSkipsArchived(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	m := insert(t, store, "", "deprecated flag handling")
	_, err := store.SetArchived(ctx, m.ID, true, m.CreatedAt)
	require.NoError(t, err)

	got, err := search.NewLexicalSearcher(store).Search(ctx, "deprecated flag handling", search.Options{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestVectorIndex(t *testing.T) {
	ctx := context.Background()
	emb := &letterEmbedder{}

	idx, err := search.NewVectorIndex(emb, search.VectorConfig{}, nil)
	require.NoError(t, err)

	got, err := idx.Search(ctx, "anything", search.Options{})
	require.NoError(t, err)
	assert.Empty(t, got, "empty index")

	a := &storage.Memory{ID: 1, SpecFolder: "auth", Title: "hashing", Content: "aaaa bbbb"}
	b := &storage.Memory{ID: 2, SpecFolder: "auth", Content: "zzzz yyyy"}
	c := &storage.Memory{ID: 3, SpecFolder: "ops", Content: "aaaa bbbb", Embedding: make([]float64, 26)}
	c.Embedding[0], c.Embedding[1] = 4, 4

	for _, m := range []*storage.Memory{a, b, c} {
		require.NoError(t, idx.Index(ctx, m))
	}
	assert.Equal(t, 3, idx.Count())

	got, err = idx.Search(ctx, "abab", search.Options{SpecFolder: "auth", Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.InDelta(t, 100.0, got[0].Similarity, 1e-3)
	assert.Equal(t, "hashing", got[0].Title)
	assert.Equal(t, 0.0, got[1].Similarity)

	got, err = idx.Search(ctx, "abab", search.Options{MinSimilarity: 50, Limit: 50})
	require.NoError(t, err)
	assert.Len(t, got, 2, "limit above collection size is capped")

	require.NoError(t, idx.Remove(ctx, 1, 99))
	assert.Equal(t, 2, idx.Count())

	c.IsArchived = true
	require.NoError(t, idx.Index(ctx, c))
	assert.Equal(t, 1, idx.Count(), "archived memories leave the index")
}

func TestVectorIndexRebuild(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	keep := insert(t, store, "", "alpha beta")
	gone := insert(t, store, "", "gamma delta")
	_, err := store.SetArchived(ctx, gone.ID, true, gone.CreatedAt)
	require.NoError(t, err)

	idx, err := search.NewVectorIndex(&letterEmbedder{}, search.VectorConfig{Collection: "test"}, nil)
	require.NoError(t, err)
	require.NoError(t, idx.Index(ctx, &storage.Memory{ID: 12345, Content: "stale"}))

	n, err := idx.Rebuild(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, idx.Count())

	got, err := idx.SearchEmbedding(ctx, []float64{1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, search.Options{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, keep.ID, got[0].ID)
}

func TestNewVectorIndexRequiresEmbedder(t *testing.T) {
	_, err := search.NewVectorIndex(nil, search.VectorConfig{}, nil)
	assert.Error(t, err)
}
