package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oceanbase/memrank-go/pkg/storage"
)

// InsertCheckpoint stores a checkpoint; the name must be unused.
func (r *rows) InsertCheckpoint(ctx context.Context, c *storage.Checkpoint) error {
	var count int
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM checkpoints WHERE name = ?`, c.Name).Scan(&count); err != nil {
		return fmt.Errorf("InsertCheckpoint: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("InsertCheckpoint: %q: %w", c.Name, storage.ErrDuplicate)
	}

	if c.ID == 0 {
		c.ID = r.nextID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.SizeBytes = len(c.Snapshot)

	_, err := r.exec(ctx, `
		INSERT INTO checkpoints (id, name, spec_folder, git_branch, memory_snapshot, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.SpecFolder, c.GitBranch, c.Snapshot, c.Metadata, millis(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("InsertCheckpoint: %w", err)
	}
	return nil
}

// GetCheckpoint returns a checkpoint including its snapshot.
func (r *rows) GetCheckpoint(ctx context.Context, name string) (*storage.Checkpoint, error) {
	var c storage.Checkpoint
	var folder, branch, metadata sql.NullString
	var createdAt int64
	err := r.queryRow(ctx, `
		SELECT id, name, spec_folder, git_branch, memory_snapshot, metadata, created_at
		FROM checkpoints WHERE name = ?`, name,
	).Scan(&c.ID, &c.Name, &folder, &branch, &c.Snapshot, &metadata, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetCheckpoint: %w", err)
	}
	c.SpecFolder = folder.String
	c.GitBranch = branch.String
	c.Metadata = metadata.String
	c.SizeBytes = len(c.Snapshot)
	c.CreatedAt = fromMillis(createdAt)
	return &c, nil
}

// ListCheckpoints lists checkpoints newest first, without snapshots.
func (r *rows) ListCheckpoints(ctx context.Context, folder string, limit int) ([]*storage.Checkpoint, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, name, spec_folder, git_branch, LENGTH(memory_snapshot), metadata, created_at FROM checkpoints`
	args := []interface{}{}
	if folder != "" {
		query += ` WHERE spec_folder = ?`
		args = append(args, folder)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rs, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListCheckpoints: %w", err)
	}
	defer func() { _ = rs.Close() }()

	var out []*storage.Checkpoint
	for rs.Next() {
		var c storage.Checkpoint
		var f, branch, metadata sql.NullString
		var createdAt int64
		if err := rs.Scan(&c.ID, &c.Name, &f, &branch, &c.SizeBytes, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("ListCheckpoints: %w", err)
		}
		c.SpecFolder = f.String
		c.GitBranch = branch.String
		c.Metadata = metadata.String
		c.CreatedAt = fromMillis(createdAt)
		out = append(out, &c)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("ListCheckpoints: %w", err)
	}
	return out, nil
}

// DeleteCheckpoint removes a checkpoint by name.
func (r *rows) DeleteCheckpoint(ctx context.Context, name string) (bool, error) {
	res, err := r.exec(ctx, `DELETE FROM checkpoints WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("DeleteCheckpoint: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return false, fmt.Errorf("DeleteCheckpoint: %w", err)
	}
	return n > 0, nil
}
