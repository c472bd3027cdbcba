package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oceanbase/memrank-go/pkg/storage"
)

// InsertHistory appends a history row.
func (r *rows) InsertHistory(ctx context.Context, h *storage.HistoryRecord) error {
	if h.ID == 0 {
		h.ID = r.nextID()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	_, err := r.exec(ctx, `
		INSERT INTO memory_history (id, memory_id, event, old_content, new_content, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.MemoryID, h.Event, h.OldContent, h.NewContent, h.Reason, millis(h.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("InsertHistory: %w", err)
	}
	return nil
}

// ListHistory returns a memory's history, oldest first.
func (r *rows) ListHistory(ctx context.Context, memoryID int64) ([]*storage.HistoryRecord, error) {
	rs, err := r.query(ctx, `
		SELECT id, memory_id, event, old_content, new_content, reason, created_at
		FROM memory_history WHERE memory_id = ?
		ORDER BY created_at, id`,
		memoryID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListHistory: %w", err)
	}
	defer func() { _ = rs.Close() }()

	var records []*storage.HistoryRecord
	for rs.Next() {
		var h storage.HistoryRecord
		var oldContent, newContent, reason sql.NullString
		var createdAt int64
		if err := rs.Scan(&h.ID, &h.MemoryID, &h.Event, &oldContent, &newContent, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("ListHistory: %w", err)
		}
		h.OldContent = oldContent.String
		h.NewContent = newContent.String
		h.Reason = reason.String
		h.CreatedAt = fromMillis(createdAt)
		records = append(records, &h)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("ListHistory: %w", err)
	}
	return records, nil
}

// InsertConflict appends a conflict row.
func (r *rows) InsertConflict(ctx context.Context, c *storage.ConflictRecord) error {
	if c.ID == 0 {
		c.ID = r.nextID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	var existing sql.NullInt64
	if c.ExistingMemoryID != nil {
		existing = sql.NullInt64{Int64: *c.ExistingMemoryID, Valid: true}
	}
	_, err := r.exec(ctx, `
		INSERT INTO memory_conflicts (
			id, action, new_content_hash, existing_memory_id, similarity, reason,
			contradiction_detected, contradiction_type, new_content_preview,
			existing_content_preview, spec_folder, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Action, c.NewContentHash, existing, c.Similarity, c.Reason,
		boolInt(c.ContradictionDetected), c.ContradictionType, c.NewContentPreview,
		c.ExistingPreview, c.SpecFolder, millis(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("InsertConflict: %w", err)
	}
	return nil
}

// ListConflicts returns the most recent conflicts.
func (r *rows) ListConflicts(ctx context.Context, limit int) ([]*storage.ConflictRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rs, err := r.query(ctx, `
		SELECT id, action, new_content_hash, existing_memory_id, similarity, reason,
		       contradiction_detected, contradiction_type, new_content_preview,
		       existing_content_preview, spec_folder, created_at
		FROM memory_conflicts
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListConflicts: %w", err)
	}
	defer func() { _ = rs.Close() }()

	var records []*storage.ConflictRecord
	for rs.Next() {
		var c storage.ConflictRecord
		var existing sql.NullInt64
		var reason, ctype, newPreview, existingPreview, folder sql.NullString
		var detected int
		var createdAt int64
		if err := rs.Scan(
			&c.ID, &c.Action, &c.NewContentHash, &existing, &c.Similarity, &reason,
			&detected, &ctype, &newPreview, &existingPreview, &folder, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("ListConflicts: %w", err)
		}
		if existing.Valid {
			id := existing.Int64
			c.ExistingMemoryID = &id
		}
		c.Reason = reason.String
		c.ContradictionDetected = detected != 0
		c.ContradictionType = ctype.String
		c.NewContentPreview = newPreview.String
		c.ExistingPreview = existingPreview.String
		c.SpecFolder = folder.String
		c.CreatedAt = fromMillis(createdAt)
		records = append(records, &c)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("ListConflicts: %w", err)
	}
	return records, nil
}
