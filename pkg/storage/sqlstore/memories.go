package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oceanbase/memrank-go/pkg/storage"
)

const memoryColumns = `id, spec_folder, file_path, title, content, content_hash, embedding,
	importance_tier, importance_weight, context_type, half_life_days,
	stability, difficulty, last_review, review_count, access_count, last_accessed,
	confidence, is_pinned, related_memories, created_at, updated_at,
	is_archived, archived_at`

// InsertMemory inserts a memory row. Zero ID and timestamps are filled in.
func (r *rows) InsertMemory(ctx context.Context, m *storage.Memory) error {
	if m.ID == 0 {
		m.ID = r.nextID()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}

	embedding, err := encodeJSON(m.Embedding)
	if err != nil {
		return fmt.Errorf("InsertMemory: %w", err)
	}
	related, err := encodeJSON(m.RelatedMemories)
	if err != nil {
		return fmt.Errorf("InsertMemory: %w", err)
	}

	_, err = r.exec(ctx, `
		INSERT INTO memories (`+memoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SpecFolder, m.FilePath, m.Title, m.Content, m.ContentHash, embedding,
		string(m.ImportanceTier), m.ImportanceWeight, m.ContextType, nullFloat(m.HalfLifeDays),
		m.Stability, m.Difficulty, nullMillis(m.LastReview), m.ReviewCount, m.AccessCount, nullMillis(m.LastAccessed),
		m.Confidence, boolInt(m.IsPinned), related, millis(m.CreatedAt), millis(m.UpdatedAt),
		boolInt(m.IsArchived), nullMillis(m.ArchivedAt),
	)
	if err != nil {
		return fmt.Errorf("InsertMemory: %w", err)
	}
	return nil
}

// GetMemory retrieves a memory by ID.
func (r *rows) GetMemory(ctx context.Context, id int64) (*storage.Memory, error) {
	row := r.queryRow(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetMemory: %w", err)
	}
	return m, nil
}

// UpdateMemory rewrites the mutable columns of m and bumps UpdatedAt.
func (r *rows) UpdateMemory(ctx context.Context, m *storage.Memory) error {
	m.UpdatedAt = time.Now().UTC()

	embedding, err := encodeJSON(m.Embedding)
	if err != nil {
		return fmt.Errorf("UpdateMemory: %w", err)
	}
	related, err := encodeJSON(m.RelatedMemories)
	if err != nil {
		return fmt.Errorf("UpdateMemory: %w", err)
	}

	res, err := r.exec(ctx, `
		UPDATE memories SET
			spec_folder = ?, file_path = ?, title = ?, content = ?, content_hash = ?, embedding = ?,
			importance_tier = ?, importance_weight = ?, context_type = ?, half_life_days = ?,
			stability = ?, difficulty = ?, last_review = ?, review_count = ?, access_count = ?,
			last_accessed = ?, confidence = ?, is_pinned = ?, related_memories = ?, updated_at = ?,
			is_archived = ?, archived_at = ?
		WHERE id = ?`,
		m.SpecFolder, m.FilePath, m.Title, m.Content, m.ContentHash, embedding,
		string(m.ImportanceTier), m.ImportanceWeight, m.ContextType, nullFloat(m.HalfLifeDays),
		m.Stability, m.Difficulty, nullMillis(m.LastReview), m.ReviewCount, m.AccessCount,
		nullMillis(m.LastAccessed), m.Confidence, boolInt(m.IsPinned), related, millis(m.UpdatedAt),
		boolInt(m.IsArchived), nullMillis(m.ArchivedAt),
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("UpdateMemory: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return fmt.Errorf("UpdateMemory: %w", err)
	}
	if n == 0 {
		// MySQL reports 0 affected rows when nothing changed, so confirm the
		// row is really gone before failing.
		if _, err := r.GetMemory(ctx, m.ID); err != nil {
			return fmt.Errorf("UpdateMemory: %w", err)
		}
	}
	return nil
}

// DeleteMemory removes a memory.
func (r *rows) DeleteMemory(ctx context.Context, id int64) (bool, error) {
	res, err := r.exec(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("DeleteMemory: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return false, fmt.Errorf("DeleteMemory: %w", err)
	}
	return n > 0, nil
}

// ListMemories lists memories in the order opts selects.
func (r *rows) ListMemories(ctx context.Context, opts storage.ListOptions) ([]*storage.Memory, error) {
	whereClause, args := buildWhereClause(opts)

	query := `SELECT ` + memoryColumns + ` FROM memories ` + whereClause + orderClause(opts.Order)
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}

	rs, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListMemories: %w", err)
	}
	defer func() { _ = rs.Close() }()

	var memories []*storage.Memory
	for rs.Next() {
		m, err := scanMemory(rs)
		if err != nil {
			return nil, fmt.Errorf("ListMemories: %w", err)
		}
		memories = append(memories, m)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("ListMemories: %w", err)
	}
	return memories, nil
}

// SetArchived toggles the archived flag when it differs from the target.
func (r *rows) SetArchived(ctx context.Context, id int64, archived bool, at time.Time) (bool, error) {
	var archivedAt sql.NullInt64
	if archived {
		archivedAt = sql.NullInt64{Int64: millis(at), Valid: true}
	}
	res, err := r.exec(ctx, `
		UPDATE memories SET is_archived = ?, archived_at = ?, updated_at = ?
		WHERE id = ? AND is_archived = ?`,
		boolInt(archived), archivedAt, millis(at), id, boolInt(!archived),
	)
	if err != nil {
		return false, fmt.Errorf("SetArchived: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return false, fmt.Errorf("SetArchived: %w", err)
	}
	return n > 0, nil
}

// DeleteMemoriesInFolder deletes a folder's rows, or all rows for "".
func (r *rows) DeleteMemoriesInFolder(ctx context.Context, folder string) (int, error) {
	var (
		res sql.Result
		err error
	)
	if folder == "" {
		res, err = r.exec(ctx, `DELETE FROM memories`)
	} else {
		res, err = r.exec(ctx, `DELETE FROM memories WHERE spec_folder = ?`, folder)
	}
	if err != nil {
		return 0, fmt.Errorf("DeleteMemoriesInFolder: %w", err)
	}
	return affected(res)
}

// DeprecateFolder marks every memory of folder as deprecated.
func (r *rows) DeprecateFolder(ctx context.Context, folder string) (int, error) {
	res, err := r.exec(ctx, `
		UPDATE memories SET importance_tier = ?, updated_at = ?
		WHERE spec_folder = ? AND importance_tier <> ?`,
		string(storage.TierDeprecated), millis(time.Now()), folder, string(storage.TierDeprecated),
	)
	if err != nil {
		return 0, fmt.Errorf("DeprecateFolder: %w", err)
	}
	return affected(res)
}

func orderClause(o storage.ListOrder) string {
	if o == storage.OrderLeastAccessed {
		// Portable NULLS FIRST.
		return ` ORDER BY CASE WHEN last_accessed IS NULL THEN 0 ELSE 1 END, last_accessed, access_count, id`
	}
	return ` ORDER BY created_at, id`
}

// buildWhereClause builds the WHERE clause for ListMemories.
func buildWhereClause(opts storage.ListOptions) (string, []interface{}) {
	conditions := []string{}
	args := []interface{}{}

	if opts.SpecFolder != "" {
		conditions = append(conditions, "spec_folder = ?")
		args = append(args, opts.SpecFolder)
	}

	switch {
	case opts.OnlyArchived:
		conditions = append(conditions, "is_archived = 1")
	case !opts.IncludeArchived:
		conditions = append(conditions, "is_archived = 0")
	}

	if opts.ExcludeProtected {
		conditions = append(conditions, "is_pinned = 0", "importance_tier NOT IN (?, ?)")
		args = append(args, string(storage.TierConstitutional), string(storage.TierCritical))
	}

	if len(conditions) == 0 {
		return "", args
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// scanMemory scans a memory from a database row or rows.
func scanMemory(s scanner) (*storage.Memory, error) {
	var m storage.Memory
	var filePath, title, embedding, related sql.NullString
	var tier string
	var halfLife sql.NullFloat64
	var lastReview, lastAccessed, archivedAt sql.NullInt64
	var createdAt, updatedAt int64
	var pinned, archived int

	err := s.Scan(
		&m.ID, &m.SpecFolder, &filePath, &title, &m.Content, &m.ContentHash, &embedding,
		&tier, &m.ImportanceWeight, &m.ContextType, &halfLife,
		&m.Stability, &m.Difficulty, &lastReview, &m.ReviewCount, &m.AccessCount, &lastAccessed,
		&m.Confidence, &pinned, &related, &createdAt, &updatedAt,
		&archived, &archivedAt,
	)
	if err != nil {
		return nil, err
	}

	m.FilePath = filePath.String
	m.Title = title.String
	m.ImportanceTier = storage.ImportanceTier(tier)
	if halfLife.Valid {
		h := halfLife.Float64
		m.HalfLifeDays = &h
	}
	m.LastReview = fromNullMillis(lastReview)
	m.LastAccessed = fromNullMillis(lastAccessed)
	m.ArchivedAt = fromNullMillis(archivedAt)
	m.IsPinned = pinned != 0
	m.IsArchived = archived != 0
	m.CreatedAt = fromMillis(createdAt)
	m.UpdatedAt = fromMillis(updatedAt)

	if m.Embedding, err = decodeJSON[float64](embedding); err != nil {
		return nil, fmt.Errorf("parse embedding: %w", err)
	}
	if m.RelatedMemories, err = decodeJSON[int64](related); err != nil {
		return nil, fmt.Errorf("parse related memories: %w", err)
	}

	return &m, nil
}
