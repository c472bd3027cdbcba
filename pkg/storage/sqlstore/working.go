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

const workingColumns = `session_id, memory_id, attention_score, added_at, last_focused, focus_count`

// GetWorkingEntry returns the entry for (sessionID, memoryID) or ErrNotFound.
func (r *rows) GetWorkingEntry(ctx context.Context, sessionID string, memoryID int64) (*storage.WorkingEntry, error) {
	row := r.queryRow(ctx,
		`SELECT `+workingColumns+` FROM working_memory WHERE session_id = ? AND memory_id = ?`,
		sessionID, memoryID,
	)
	e, err := scanWorkingEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetWorkingEntry: %w", err)
	}
	return e, nil
}

// UpsertWorkingEntry inserts or replaces the entry for its key.
//
// Implemented as update-then-insert so the same SQL runs on every dialect.
func (r *rows) UpsertWorkingEntry(ctx context.Context, e *storage.WorkingEntry) error {
	res, err := r.exec(ctx, `
		UPDATE working_memory SET attention_score = ?, added_at = ?, last_focused = ?, focus_count = ?
		WHERE session_id = ? AND memory_id = ?`,
		e.AttentionScore, millis(e.AddedAt), millis(e.LastFocused), e.FocusCount,
		e.SessionID, e.MemoryID,
	)
	if err != nil {
		return fmt.Errorf("UpsertWorkingEntry: %w", err)
	}
	if n, err := affected(res); err == nil && n > 0 {
		return nil
	}
	if _, err := r.GetWorkingEntry(ctx, e.SessionID, e.MemoryID); err == nil {
		// Row exists but nothing changed (MySQL reports 0 affected rows).
		return nil
	}

	_, err = r.exec(ctx, `
		INSERT INTO working_memory (`+workingColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.MemoryID, e.AttentionScore, millis(e.AddedAt), millis(e.LastFocused), e.FocusCount,
	)
	if err != nil {
		return fmt.Errorf("UpsertWorkingEntry: %w", err)
	}
	return nil
}

// ListWorkingEntries returns a session's entries ordered by score desc.
func (r *rows) ListWorkingEntries(ctx context.Context, sessionID string) ([]*storage.WorkingEntry, error) {
	rs, err := r.query(ctx, `
		SELECT `+workingColumns+` FROM working_memory
		WHERE session_id = ?
		ORDER BY attention_score DESC, last_focused DESC, memory_id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListWorkingEntries: %w", err)
	}
	defer func() { _ = rs.Close() }()

	var entries []*storage.WorkingEntry
	for rs.Next() {
		e, err := scanWorkingEntry(rs)
		if err != nil {
			return nil, fmt.Errorf("ListWorkingEntries: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("ListWorkingEntries: %w", err)
	}
	return entries, nil
}

// ListSessions returns all sessions with at least one entry.
func (r *rows) ListSessions(ctx context.Context) ([]string, error) {
	rs, err := r.query(ctx, `SELECT DISTINCT session_id FROM working_memory ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("ListSessions: %w", err)
	}
	defer func() { _ = rs.Close() }()

	var sessions []string
	for rs.Next() {
		var s string
		if err := rs.Scan(&s); err != nil {
			return nil, fmt.Errorf("ListSessions: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("ListSessions: %w", err)
	}
	return sessions, nil
}

// DeleteWorkingEntries deletes the given entries of one session.
func (r *rows) DeleteWorkingEntries(ctx context.Context, sessionID string, memoryIDs ...int64) (int, error) {
	if len(memoryIDs) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(memoryIDs)), ", ")
	args := make([]interface{}, 0, len(memoryIDs)+1)
	args = append(args, sessionID)
	for _, id := range memoryIDs {
		args = append(args, id)
	}

	res, err := r.exec(ctx,
		`DELETE FROM working_memory WHERE session_id = ? AND memory_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("DeleteWorkingEntries: %w", err)
	}
	return affected(res)
}

// DeleteWorkingBefore deletes a session's entries last focused before cutoff.
func (r *rows) DeleteWorkingBefore(ctx context.Context, sessionID string, cutoff time.Time) (int, error) {
	res, err := r.exec(ctx,
		`DELETE FROM working_memory WHERE session_id = ? AND last_focused < ?`,
		sessionID, millis(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("DeleteWorkingBefore: %w", err)
	}
	return affected(res)
}

// ClearSession deletes every entry of a session.
func (r *rows) ClearSession(ctx context.Context, sessionID string) (int, error) {
	res, err := r.exec(ctx, `DELETE FROM working_memory WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("ClearSession: %w", err)
	}
	return affected(res)
}

func scanWorkingEntry(s scanner) (*storage.WorkingEntry, error) {
	var e storage.WorkingEntry
	var addedAt, lastFocused int64
	if err := s.Scan(&e.SessionID, &e.MemoryID, &e.AttentionScore, &addedAt, &lastFocused, &e.FocusCount); err != nil {
		return nil, err
	}
	e.AddedAt = fromMillis(addedAt)
	e.LastFocused = fromMillis(lastFocused)
	return &e, nil
}
