package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memrank-go/pkg/storage"
	"github.com/oceanbase/memrank-go/pkg/storage/sqlite"
	"github.com/oceanbase/memrank-go/pkg/storage/sqlstore"
)

func setupSQLiteTest(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := sqlite.NewClient(&sqlite.Config{DBPath: sqlite.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newMemory(folder, content string) *storage.Memory {
	return &storage.Memory{
		SpecFolder:       folder,
		Content:          content,
		ContentHash:      "hash-" + content,
		ImportanceTier:   storage.TierNormal,
		ImportanceWeight: 0.5,
		ContextType:      "general",
		Difficulty:       5,
		Confidence:       1,
	}
}

func TestSQLiteClient_InsertAndGet(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	half := 30.0
	mem := newMemory("specs/auth", "Use bcrypt for password hashing")
	mem.Embedding = []float64{0.1, 0.2, 0.3}
	mem.RelatedMemories = []int64{42}
	mem.HalfLifeDays = &half
	mem.IsPinned = true

	require.NoError(t, store.InsertMemory(ctx, mem))
	assert.NotZero(t, mem.ID, "snowflake id should be assigned")

	got, err := store.GetMemory(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, mem.Content, got.Content)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, got.Embedding)
	assert.Equal(t, []int64{42}, got.RelatedMemories)
	require.NotNil(t, got.HalfLifeDays)
	assert.Equal(t, 30.0, *got.HalfLifeDays)
	assert.True(t, got.IsPinned)
	assert.False(t, got.IsArchived)
	assert.Nil(t, got.LastReview)
	assert.WithinDuration(t, mem.CreatedAt, got.CreatedAt, time.Millisecond)
}

func TestSQLiteClient_GetMissing(t *testing.T) {
	store := setupSQLiteTest(t)

	_, err := store.GetMemory(context.Background(), 12345)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSQLiteClient_UpdateMemory(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	mem := newMemory("specs/auth", "original")
	require.NoError(t, store.InsertMemory(ctx, mem))

	now := time.Now().UTC()
	mem.Content = "updated"
	mem.Stability = 3.2
	mem.ReviewCount = 2
	mem.LastReview = &now
	require.NoError(t, store.UpdateMemory(ctx, mem))

	got, err := store.GetMemory(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Content)
	assert.Equal(t, 3.2, got.Stability)
	assert.Equal(t, 2, got.ReviewCount)
	require.NotNil(t, got.LastReview)

	missing := newMemory("x", "y")
	missing.ID = 999
	assert.ErrorIs(t, store.UpdateMemory(ctx, missing), storage.ErrNotFound)
}

func TestSQLiteClient_SetArchived(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	mem := newMemory("specs", "to archive")
	require.NoError(t, store.InsertMemory(ctx, mem))

	changed, err := store.SetArchived(ctx, mem.ID, true, time.Now())
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.SetArchived(ctx, mem.ID, true, time.Now())
	require.NoError(t, err)
	assert.False(t, changed, "already archived")

	active, err := store.ListMemories(ctx, storage.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, active)

	archived, err := store.ListMemories(ctx, storage.ListOptions{OnlyArchived: true})
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.NotNil(t, archived[0].ArchivedAt)

	changed, err = store.SetArchived(ctx, mem.ID, false, time.Now())
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.SetArchived(ctx, 777, true, time.Now())
	require.NoError(t, err)
	assert.False(t, changed, "missing row")
}

func TestSQLiteClient_ListMemoriesFilters(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).UTC()
	for i, tier := range []storage.ImportanceTier{storage.TierNormal, storage.TierCritical, storage.TierNormal} {
		m := newMemory("a", "m"+string(rune('0'+i)))
		m.ImportanceTier = tier
		m.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.InsertMemory(ctx, m))
	}
	other := newMemory("b", "other")
	require.NoError(t, store.InsertMemory(ctx, other))

	all, err := store.ListMemories(ctx, storage.ListOptions{SpecFolder: "a"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "m0", all[0].Content, "ordered by created_at")

	unprotected, err := store.ListMemories(ctx, storage.ListOptions{SpecFolder: "a", ExcludeProtected: true})
	require.NoError(t, err)
	assert.Len(t, unprotected, 2)

	limited, err := store.ListMemories(ctx, storage.ListOptions{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSQLiteClient_FolderOperations(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	require.NoError(t, store.InsertMemory(ctx, newMemory("a", "one")))
	require.NoError(t, store.InsertMemory(ctx, newMemory("a", "two")))
	require.NoError(t, store.InsertMemory(ctx, newMemory("b", "three")))

	n, err := store.DeprecateFolder(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.DeleteMemoriesInFolder(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.DeleteMemoriesInFolder(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteClient_WorkingMemory(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entry := &storage.WorkingEntry{SessionID: "s1", MemoryID: 1, AttentionScore: 0.9, AddedAt: now, LastFocused: now, FocusCount: 1}
	require.NoError(t, store.UpsertWorkingEntry(ctx, entry))

	entry.AttentionScore = 0.4
	entry.FocusCount = 2
	require.NoError(t, store.UpsertWorkingEntry(ctx, entry))

	got, err := store.GetWorkingEntry(ctx, "s1", 1)
	require.NoError(t, err)
	assert.Equal(t, 0.4, got.AttentionScore)
	assert.Equal(t, 2, got.FocusCount)

	old := now.Add(-time.Hour)
	require.NoError(t, store.UpsertWorkingEntry(ctx, &storage.WorkingEntry{SessionID: "s1", MemoryID: 2, AttentionScore: 0.7, AddedAt: old, LastFocused: old}))
	require.NoError(t, store.UpsertWorkingEntry(ctx, &storage.WorkingEntry{SessionID: "s2", MemoryID: 1, AttentionScore: 0.2, AddedAt: old, LastFocused: old}))

	entries, err := store.ListWorkingEntries(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[0].MemoryID, "highest score first")

	sessions, err := store.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, sessions)

	n, err := store.DeleteWorkingBefore(ctx, "s1", now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.GetWorkingEntry(ctx, "s2", 1)
	assert.NoError(t, err, "other session untouched")

	n, err = store.DeleteWorkingEntries(ctx, "s1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.ClearSession(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteClient_HistoryAndConflicts(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	require.NoError(t, store.InsertHistory(ctx, &storage.HistoryRecord{MemoryID: 7, Event: "UPDATE", OldContent: "a", NewContent: "b"}))
	history, err := store.ListHistory(ctx, 7)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "b", history[0].NewContent)

	existing := int64(7)
	require.NoError(t, store.InsertConflict(ctx, &storage.ConflictRecord{
		Action: "SUPERSEDE", NewContentHash: "h", ExistingMemoryID: &existing, Similarity: 90,
		ContradictionDetected: true, ContradictionType: "deprecation",
	}))
	require.NoError(t, store.InsertConflict(ctx, &storage.ConflictRecord{Action: "CREATE", NewContentHash: "h2", Similarity: 55}))

	conflicts, err := store.ListConflicts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, conflicts, 2)

	var supersede *storage.ConflictRecord
	for _, c := range conflicts {
		if c.Action == "SUPERSEDE" {
			supersede = c
		}
	}
	require.NotNil(t, supersede)
	assert.True(t, supersede.ContradictionDetected)
	require.NotNil(t, supersede.ExistingMemoryID)
	assert.Equal(t, int64(7), *supersede.ExistingMemoryID)
}

func TestSQLiteClient_Checkpoints(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	cp := &storage.Checkpoint{Name: "before-refactor", SpecFolder: "a", Snapshot: []byte{1, 2, 3}}
	require.NoError(t, store.InsertCheckpoint(ctx, cp))
	assert.ErrorIs(t, store.InsertCheckpoint(ctx, &storage.Checkpoint{Name: "before-refactor", Snapshot: []byte{1}}), storage.ErrDuplicate)

	got, err := store.GetCheckpoint(ctx, "before-refactor")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got.Snapshot)

	list, err := store.ListCheckpoints(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].SizeBytes)

	deleted, err := store.DeleteCheckpoint(ctx, "before-refactor")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = store.GetCheckpoint(ctx, "before-refactor")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSQLiteClient_EmbeddingCache(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.PutCachedEmbedding(ctx, &storage.CachedEmbedding{
		ContentHash: "h", Model: "m", Embedding: []float64{1, 0}, CreatedAt: old, LastUsedAt: old,
	}))

	got, err := store.GetCachedEmbedding(ctx, "h", "m")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, got.Embedding)

	_, err = store.GetCachedEmbedding(ctx, "h", "other-model")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	n, err := store.EvictEmbeddingsBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteClient_WithTxRollback(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	mem := newMemory("a", "rolled back")
	err := store.WithTx(ctx, func(rows storage.Rows) error {
		require.NoError(t, rows.InsertMemory(ctx, mem))
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	_, err = store.GetMemory(ctx, mem.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSQLiteClient_MigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memrank.db")

	store, err := sqlite.NewClient(&sqlite.Config{DBPath: path})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))

	version, err := store.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, version)
	require.NoError(t, store.Close())

	reopened, err := sqlite.NewClient(&sqlite.Config{DBPath: path})
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
}
