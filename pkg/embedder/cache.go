package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/memrank-go/pkg/logging"
	"github.com/oceanbase/memrank-go/pkg/metrics"
	"github.com/oceanbase/memrank-go/pkg/storage"
)

// ContentHash returns the hex SHA-256 of content. Memories and cache rows
// share this key.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// CachedProvider wraps a Provider with a persistent embedding cache keyed by
// content hash and model. Cache failures are logged and never fail an
// embedding request.
type CachedProvider struct {
	inner  Provider
	rows   storage.Rows
	model  string
	now    func() time.Time
	logger *zap.Logger
}

// NewCachedProvider wraps inner. The model key comes from inner when it
// implements Named, else "default".
func NewCachedProvider(inner Provider, rows storage.Rows, logger *zap.Logger) *CachedProvider {
	model := "default"
	if n, ok := inner.(Named); ok && n.Model() != "" {
		model = n.Model()
	}
	return &CachedProvider{
		inner:  inner,
		rows:   rows,
		model:  model,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logging.OrNop(logger).Named("embedding_cache"),
	}
}

// Model implements Named.
func (c *CachedProvider) Model() string {
	return c.model
}

// Embed returns the cached vector for text or embeds and stores it.
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	hash := ContentHash(text)
	if vec, ok := c.lookup(ctx, hash); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(ctx, hash, vec)
	return vec, nil
}

// EmbedBatch serves cached texts from the cache and embeds the rest in one
// batch request.
func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	hashes := make([]string, len(texts))
	var missing []int
	for i, text := range texts {
		hashes[i] = ContentHash(text)
		if vec, ok := c.lookup(ctx, hashes[i]); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	batch := make([]string, len(missing))
	for j, i := range missing {
		batch[j] = texts[i]
	}
	vecs, err := c.inner.EmbedBatch(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(batch) {
		return nil, fmt.Errorf("embed batch: got %d vectors for %d texts", len(vecs), len(batch))
	}
	for j, i := range missing {
		out[i] = vecs[j]
		c.store(ctx, hashes[i], vecs[j])
	}
	return out, nil
}

func (c *CachedProvider) lookup(ctx context.Context, hash string) ([]float64, bool) {
	e, err := c.rows.GetCachedEmbedding(ctx, hash, c.model)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn("embedding cache read failed", zap.Error(err))
		}
		metrics.EmbeddingCache.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.EmbeddingCache.WithLabelValues("hit").Inc()
	if err := c.rows.TouchCachedEmbedding(ctx, hash, c.model, c.now()); err != nil {
		c.logger.Warn("embedding cache touch failed", zap.Error(err))
	}
	return e.Embedding, true
}

func (c *CachedProvider) store(ctx context.Context, hash string, vec []float64) {
	now := c.now()
	err := c.rows.PutCachedEmbedding(ctx, &storage.CachedEmbedding{
		ContentHash: hash,
		Model:       c.model,
		Embedding:   vec,
		CreatedAt:   now,
		LastUsedAt:  now,
	})
	if err != nil {
		c.logger.Warn("embedding cache write failed", zap.Error(err))
	}
}

// EvictOlderThan removes entries not used within maxAge.
func (c *CachedProvider) EvictOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	n, err := c.rows.EvictEmbeddingsBefore(ctx, c.now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.logger.Info("evicted stale embeddings", zap.Int("count", n))
	}
	return n, nil
}

// Dimensions implements Provider.
func (c *CachedProvider) Dimensions() int {
	return c.inner.Dimensions()
}

// Close closes the wrapped provider.
func (c *CachedProvider) Close() error {
	return c.inner.Close()
}
