package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memrank-go/pkg/storage"
	"github.com/oceanbase/memrank-go/pkg/storage/sqlite"
)

func newTestService(t *testing.T) (*Service, storage.Store) {
	t.Helper()
	store, err := sqlite.NewClient(&sqlite.Config{DBPath: sqlite.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := DefaultConfig()
	cfg.RepoPath = t.TempDir()
	return NewService(store, cfg, nil), store
}

func addMemory(t *testing.T, store storage.Store, folder, content string) *storage.Memory {
	t.Helper()
	m := &storage.Memory{
		SpecFolder:     folder,
		Content:        content,
		ContentHash:    content,
		ImportanceTier: storage.TierNormal,
		ContextType:    "general",
		Confidence:     1,
	}
	require.NoError(t, store.InsertMemory(context.Background(), m))
	return m
}

func TestCreateAndGet(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	a := addMemory(t, store, "specs/a", "alpha")
	addMemory(t, store, "specs/b", "beta")
	require.NoError(t, store.UpsertWorkingEntry(ctx, &storage.WorkingEntry{
		SessionID: "s1", MemoryID: a.ID, AttentionScore: 0.9,
		AddedAt: time.Now(), LastFocused: time.Now(), FocusCount: 1,
	}))

	info, err := svc.Create(ctx, "", CreateOptions{SpecFolder: "specs/a", Metadata: map[string]any{"note": "before refactor"}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(info.Name, "checkpoint-"))
	assert.Equal(t, "specs/a", info.SpecFolder)
	assert.Positive(t, info.SnapshotSize)
	assert.EqualValues(t, 1, info.Metadata["memoryCount"])
	assert.Equal(t, "before refactor", info.Metadata["note"])

	cp, err := svc.Get(ctx, info.Name)
	require.NoError(t, err)
	require.Len(t, cp.Snapshot.Memories, 1)
	assert.Equal(t, a.ID, cp.Snapshot.Memories[0].ID)
	require.Len(t, cp.Snapshot.WorkingMemory, 1)
	assert.Equal(t, "s1", cp.Snapshot.WorkingMemory[0].SessionID)

	_, err = svc.Create(ctx, info.Name, CreateOptions{})
	assert.ErrorIs(t, err, ErrExists)

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetCorrupted(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	require.NoError(t, store.InsertCheckpoint(ctx, &storage.Checkpoint{Name: "broken", Snapshot: []byte("not gzip")}))
	_, err := svc.Get(ctx, "broken")
	assert.ErrorIs(t, err, ErrCorrupted)

	payload, err := encode(&Snapshot{Memories: []*storage.Memory{{SpecFolder: "specs/a"}}})
	require.NoError(t, err)
	require.NoError(t, store.InsertCheckpoint(ctx, &storage.Checkpoint{Name: "no-id", Snapshot: payload}))
	_, err = svc.Get(ctx, "no-id")
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestRoundTripWithoutFolder(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	m := addMemory(t, store, "", "unfiled note")
	_, err := svc.Create(ctx, "cp1", CreateOptions{})
	require.NoError(t, err)

	cp, err := svc.Get(ctx, "cp1")
	require.NoError(t, err)
	require.Len(t, cp.Snapshot.Memories, 1)
	assert.Equal(t, m.ID, cp.Snapshot.Memories[0].ID)
	assert.Empty(t, cp.Snapshot.Memories[0].SpecFolder)

	res, err := svc.Restore(ctx, "cp1", RestoreOptions{ClearExisting: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Restored)

	got, err := store.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "unfiled note", got.Content)
}

func TestCreatePrunesBeyondMax(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < DefaultMaxCheckpoints+3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		svc.now = func() time.Time { return at }
		_, err := svc.Create(ctx, fmt.Sprintf("cp-%02d", i), CreateOptions{})
		require.NoError(t, err)
	}

	list := svc.List(ctx, ListOptions{})
	require.Len(t, list, DefaultMaxCheckpoints)
	assert.Equal(t, "cp-12", list[0].Name)
	assert.Equal(t, "cp-03", list[len(list)-1].Name)
}

func TestCreatePrunesExpired(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	old := time.Now().Add(-DefaultTTL - time.Hour)
	svc.now = func() time.Time { return old }
	_, err := svc.Create(ctx, "old", CreateOptions{})
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.Create(ctx, "new", CreateOptions{})
	require.NoError(t, err)

	list := svc.List(ctx, ListOptions{})
	require.Len(t, list, 1)
	assert.Equal(t, "new", list[0].Name)
}

func TestRestoreClearExisting(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	a := addMemory(t, store, "specs/a", "alpha")
	_, err := svc.Create(ctx, "snap", CreateOptions{SpecFolder: "specs/a"})
	require.NoError(t, err)

	addMemory(t, store, "specs/a", "alpha two")
	_, err = store.DeleteMemory(ctx, a.ID)
	require.NoError(t, err)

	res, err := svc.Restore(ctx, "snap", RestoreOptions{ClearExisting: true})
	require.NoError(t, err)
	assert.Equal(t, RestoreResult{Restored: 1, Cleared: 1, TotalInSnapshot: 1}, res)

	mems, err := store.ListMemories(ctx, storage.ListOptions{SpecFolder: "specs/a"})
	require.NoError(t, err)
	require.Len(t, mems, 1)
	assert.Equal(t, a.ID, mems[0].ID)
	assert.Equal(t, "alpha", mems[0].Content)
}

func TestRestoreScopedDeprecates(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	a := addMemory(t, store, "specs/a", "alpha")
	_, err := svc.Create(ctx, "snap", CreateOptions{SpecFolder: "specs/a"})
	require.NoError(t, err)
	later := addMemory(t, store, "specs/a", "later")

	res, err := svc.Restore(ctx, "snap", RestoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deprecated)
	assert.Equal(t, 1, res.Skipped, "existing id is not reinserted")
	assert.Zero(t, res.Restored)

	got, err := store.GetMemory(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.TierDeprecated, got.ImportanceTier)
	got, err = store.GetMemory(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.TierDeprecated, got.ImportanceTier)
}

func TestRestoreWorkingMemory(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	a := addMemory(t, store, "specs/a", "alpha")
	now := time.Now()
	require.NoError(t, store.UpsertWorkingEntry(ctx, &storage.WorkingEntry{
		SessionID: "s1", MemoryID: a.ID, AttentionScore: 0.8, AddedAt: now, LastFocused: now, FocusCount: 2,
	}))
	_, err := svc.Create(ctx, "snap", CreateOptions{})
	require.NoError(t, err)

	_, err = store.ClearSession(ctx, "s1")
	require.NoError(t, err)

	res, err := svc.Restore(ctx, "snap", RestoreOptions{ClearExisting: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.WorkingMemoryRestored)

	e, err := store.GetWorkingEntry(ctx, "s1", a.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, e.AttentionScore, 1e-9)
}

func TestRestoreSkipReinsert(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	addMemory(t, store, "specs/a", "alpha")
	_, err := svc.Create(ctx, "snap", CreateOptions{SpecFolder: "specs/a"})
	require.NoError(t, err)

	res, err := svc.Restore(ctx, "snap", RestoreOptions{ClearExisting: true, SkipReinsert: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cleared)
	assert.Zero(t, res.Restored)

	mems, err := store.ListMemories(ctx, storage.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, mems)
}

func TestRestoreMissingRollsBack(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	addMemory(t, store, "specs/a", "alpha")

	_, err := svc.Restore(ctx, "missing", RestoreOptions{ClearExisting: true})
	assert.ErrorIs(t, err, ErrNotFound)

	mems, err := store.ListMemories(ctx, storage.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, mems, 1)
}

func TestDelete(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "gone", CreateOptions{})
	require.NoError(t, err)

	ok, err := svc.Delete(ctx, "gone")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.Delete(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWithoutStore(t *testing.T) {
	svc := NewService(nil, DefaultConfig(), nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, "x", CreateOptions{})
	assert.ErrorIs(t, err, ErrNoStore)
	assert.Empty(t, svc.List(ctx, ListOptions{}))
	ok, err := svc.Delete(ctx, "x")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestDetectGitBranch(t *testing.T) {
	dir := t.TempDir()
	assert.Empty(t, detectGitBranch(dir))

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("hello"), 0o644))
	_, err = wt.Add("notes.md")
	require.NoError(t, err)
	_, err = wt.Commit("init", &git.CommitOptions{
		Author: &object.Signature{Name: "dev", Email: "dev@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	require.NoError(t, wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName("feature/decay"),
		Create: true,
	}))

	sub := filepath.Join(dir, "specs")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	assert.Equal(t, "feature/decay", detectGitBranch(sub))
}
