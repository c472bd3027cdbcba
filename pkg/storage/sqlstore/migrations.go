package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type migration struct {
	Version     int
	Description string
	Statements  []string
}

// migrations are applied in order, each inside its own transaction.
// Statements are split because the MySQL driver rejects multi-statement Exec.
var migrations = []migration{
	{
		Version:     1,
		Description: "memories: long-term memory rows",
		Statements: []string{
			`CREATE TABLE memories (
    id                BIGINT PRIMARY KEY,
    spec_folder       {{key}} NOT NULL,
    file_path         {{text}},
    title             {{text}},
    content           {{text}} NOT NULL,
    content_hash      {{key}} NOT NULL,
    embedding         {{text}},
    importance_tier   {{key}} NOT NULL,
    importance_weight {{float}} NOT NULL,
    context_type      {{key}} NOT NULL,
    half_life_days    {{float}},
    stability         {{float}} NOT NULL,
    difficulty        {{float}} NOT NULL,
    last_review       BIGINT,
    review_count      INTEGER NOT NULL,
    access_count      INTEGER NOT NULL,
    last_accessed     BIGINT,
    confidence        {{float}} NOT NULL,
    is_pinned         INTEGER NOT NULL,
    related_memories  {{text}},
    created_at        BIGINT NOT NULL,
    updated_at        BIGINT NOT NULL
)`,
			`CREATE INDEX idx_memories_folder ON memories(spec_folder)`,
			`CREATE INDEX idx_memories_hash ON memories(content_hash)`,
			`CREATE INDEX idx_memories_created ON memories(created_at, id)`,
		},
	},
	{
		Version:     2,
		Description: "memories: archival columns",
		Statements: []string{
			`ALTER TABLE memories ADD COLUMN is_archived INTEGER NOT NULL DEFAULT 0`,
			`ALTER TABLE memories ADD COLUMN archived_at BIGINT`,
			`CREATE INDEX idx_memories_archived ON memories(is_archived)`,
		},
	},
	{
		Version:     3,
		Description: "working_memory: session attention cache",
		Statements: []string{
			`CREATE TABLE working_memory (
    session_id      {{key}} NOT NULL,
    memory_id       BIGINT NOT NULL,
    attention_score {{float}} NOT NULL,
    added_at        BIGINT NOT NULL,
    last_focused    BIGINT NOT NULL,
    focus_count     INTEGER NOT NULL,
    PRIMARY KEY (session_id, memory_id)
)`,
			`CREATE INDEX idx_working_focused ON working_memory(session_id, last_focused)`,
		},
	},
	{
		Version:     4,
		Description: "audit: history and conflict rows",
		Statements: []string{
			`CREATE TABLE memory_history (
    id          BIGINT PRIMARY KEY,
    memory_id   BIGINT NOT NULL,
    event       {{key}} NOT NULL,
    old_content {{text}},
    new_content {{text}},
    reason      {{text}},
    created_at  BIGINT NOT NULL
)`,
			`CREATE INDEX idx_history_memory ON memory_history(memory_id, created_at)`,
			`CREATE TABLE memory_conflicts (
    id                       BIGINT PRIMARY KEY,
    action                   {{key}} NOT NULL,
    new_content_hash         {{key}} NOT NULL,
    existing_memory_id       BIGINT,
    similarity               {{float}} NOT NULL,
    reason                   {{text}},
    contradiction_detected   INTEGER NOT NULL,
    contradiction_type       {{key}},
    new_content_preview      {{text}},
    existing_content_preview {{text}},
    spec_folder              {{key}},
    created_at               BIGINT NOT NULL
)`,
			`CREATE INDEX idx_conflicts_created ON memory_conflicts(created_at)`,
		},
	},
	{
		Version:     5,
		Description: "checkpoints: compressed snapshots",
		Statements: []string{
			`CREATE TABLE checkpoints (
    id              BIGINT PRIMARY KEY,
    name            {{key}} NOT NULL UNIQUE,
    spec_folder     {{key}},
    git_branch      {{key}},
    memory_snapshot {{blob}} NOT NULL,
    metadata        {{text}},
    created_at      BIGINT NOT NULL
)`,
			`CREATE INDEX idx_checkpoints_created ON checkpoints(created_at)`,
		},
	},
	{
		Version:     6,
		Description: "embedding_cache: content-hash keyed embeddings",
		Statements: []string{
			`CREATE TABLE embedding_cache (
    content_hash {{key}} NOT NULL,
    model        {{key}} NOT NULL,
    embedding    {{text}} NOT NULL,
    created_at   BIGINT NOT NULL,
    last_used_at BIGINT NOT NULL,
    PRIMARY KEY (content_hash, model)
)`,
			`CREATE INDEX idx_embedding_last_used ON embedding_cache(last_used_at)`,
		},
	},
}

// Migrate applies every migration not yet recorded in schema_versions.
//
// It is safe to call on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	types := s.dialect.columnTypes()

	_, err := s.db.ExecContext(ctx, types.Replace(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description {{text}} NOT NULL,
			applied_at  BIGINT NOT NULL
		)
	`))
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRowContext(ctx,
			s.dialect.Rebind("SELECT COUNT(*) FROM schema_versions WHERE version = ?"), m.Version,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		for _, stmt := range m.Statements {
			if _, err := tx.ExecContext(ctx, types.Replace(stmt)); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			s.dialect.Rebind("INSERT INTO schema_versions (version, description, applied_at) VALUES (?, ?, ?)"),
			m.Version, m.Description, time.Now().UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_versions").Scan(&v); err != nil {
		return 0, fmt.Errorf("SchemaVersion: %w", err)
	}
	return int(v.Int64), nil
}
