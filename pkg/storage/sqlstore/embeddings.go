package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oceanbase/memrank-go/pkg/storage"
)

// GetCachedEmbedding looks up an embedding by content hash and model.
func (r *rows) GetCachedEmbedding(ctx context.Context, contentHash, model string) (*storage.CachedEmbedding, error) {
	var e storage.CachedEmbedding
	var raw sql.NullString
	var createdAt, lastUsed int64
	err := r.queryRow(ctx, `
		SELECT content_hash, model, embedding, created_at, last_used_at
		FROM embedding_cache WHERE content_hash = ? AND model = ?`,
		contentHash, model,
	).Scan(&e.ContentHash, &e.Model, &raw, &createdAt, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetCachedEmbedding: %w", err)
	}
	if e.Embedding, err = decodeJSON[float64](raw); err != nil {
		return nil, fmt.Errorf("GetCachedEmbedding: parse embedding: %w", err)
	}
	e.CreatedAt = fromMillis(createdAt)
	e.LastUsedAt = fromMillis(lastUsed)
	return &e, nil
}

// PutCachedEmbedding inserts or replaces a cached embedding.
func (r *rows) PutCachedEmbedding(ctx context.Context, e *storage.CachedEmbedding) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.LastUsedAt.IsZero() {
		e.LastUsedAt = e.CreatedAt
	}
	raw, err := encodeJSON(e.Embedding)
	if err != nil {
		return fmt.Errorf("PutCachedEmbedding: %w", err)
	}

	if _, err := r.exec(ctx, `DELETE FROM embedding_cache WHERE content_hash = ? AND model = ?`,
		e.ContentHash, e.Model); err != nil {
		return fmt.Errorf("PutCachedEmbedding: %w", err)
	}
	_, err = r.exec(ctx, `
		INSERT INTO embedding_cache (content_hash, model, embedding, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.ContentHash, e.Model, raw, millis(e.CreatedAt), millis(e.LastUsedAt),
	)
	if err != nil {
		return fmt.Errorf("PutCachedEmbedding: %w", err)
	}
	return nil
}

// TouchCachedEmbedding refreshes last_used_at.
func (r *rows) TouchCachedEmbedding(ctx context.Context, contentHash, model string, at time.Time) error {
	_, err := r.exec(ctx, `
		UPDATE embedding_cache SET last_used_at = ? WHERE content_hash = ? AND model = ?`,
		millis(at), contentHash, model,
	)
	if err != nil {
		return fmt.Errorf("TouchCachedEmbedding: %w", err)
	}
	return nil
}

// EvictEmbeddingsBefore deletes entries unused since cutoff.
func (r *rows) EvictEmbeddingsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.exec(ctx, `DELETE FROM embedding_cache WHERE last_used_at < ?`, millis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("EvictEmbeddingsBefore: %w", err)
	}
	return affected(res)
}
