// Package checkpoint snapshots memory and working-memory rows into
// compressed, named checkpoints that can later be restored.
package checkpoint

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/oceanbase/memrank-go/pkg/logging"
	"github.com/oceanbase/memrank-go/pkg/metrics"
	"github.com/oceanbase/memrank-go/pkg/storage"
)

// Retention defaults.
const (
	DefaultMaxCheckpoints = 10
	DefaultTTL            = 30 * 24 * time.Hour
	DefaultListLimit      = 50

	// MaxSnapshotBytes caps a compressed snapshot.
	MaxSnapshotBytes = 100 << 20

	// maxInflatedBytes caps a decompressed snapshot.
	maxInflatedBytes = 1 << 30
)

var (
	ErrExists    = errors.New("checkpoint: already exists")
	ErrNotFound  = errors.New("checkpoint: not found")
	ErrCorrupted = errors.New("checkpoint: corrupted snapshot")
	ErrTooLarge  = errors.New("checkpoint: snapshot too large")
	ErrNoStore   = errors.New("checkpoint: no store attached")
)

// Config tunes retention.
type Config struct {
	MaxCheckpoints int           `json:"max_checkpoints" koanf:"max_checkpoints"`
	TTL            time.Duration `json:"ttl" koanf:"ttl"`

	// RepoPath is where the git branch is detected from.
	RepoPath string `json:"repo_path" koanf:"repo_path"`
}

// DefaultConfig keeps ten checkpoints for thirty days.
func DefaultConfig() Config {
	return Config{MaxCheckpoints: DefaultMaxCheckpoints, TTL: DefaultTTL, RepoPath: "."}
}

// Snapshot is the decoded payload of a checkpoint.
type Snapshot struct {
	Memories      []*storage.Memory       `json:"memories"`
	WorkingMemory []*storage.WorkingEntry `json:"working_memory"`
	Timestamp     time.Time               `json:"timestamp"`
}

// Info describes a stored checkpoint.
type Info struct {
	ID           int64          `json:"id"`
	Name         string         `json:"name"`
	SpecFolder   string         `json:"spec_folder,omitempty"`
	GitBranch    string         `json:"git_branch,omitempty"`
	SnapshotSize int            `json:"snapshot_size"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Checkpoint is a stored checkpoint with its decoded snapshot.
type Checkpoint struct {
	Info
	Snapshot *Snapshot `json:"snapshot"`
}

// CreateOptions scope a new checkpoint.
type CreateOptions struct {
	// SpecFolder limits the memory snapshot to one folder.
	SpecFolder string
	Metadata   map[string]any
}

// ListOptions filter List.
type ListOptions struct {
	SpecFolder string
	Limit      int
}

// RestoreOptions control Restore.
type RestoreOptions struct {
	// ClearExisting deletes the checkpoint's scope (its folder, or every
	// memory for an unscoped checkpoint) before reinserting.
	ClearExisting bool

	// SkipReinsert only clears or deprecates, leaving the snapshot unused.
	SkipReinsert bool
}

// RestoreResult reports what Restore changed.
type RestoreResult struct {
	Restored              int `json:"restored"`
	Skipped               int `json:"skipped"`
	Cleared               int `json:"cleared"`
	Deprecated            int `json:"deprecated"`
	TotalInSnapshot       int `json:"total_in_snapshot"`
	WorkingMemoryRestored int `json:"working_memory_restored"`
}

// Service creates, lists and restores checkpoints.
type Service struct {
	store  storage.Store
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	entropyMu sync.Mutex
	entropy   io.Reader
}

// NewService creates a checkpoint service.
func NewService(store storage.Store, cfg Config, logger *zap.Logger) *Service {
	if cfg.MaxCheckpoints <= 0 {
		cfg.MaxCheckpoints = DefaultMaxCheckpoints
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Service{
		store:   store,
		cfg:     cfg,
		logger:  logging.OrNop(logger).With(zap.String("component", "checkpoint")),
		now:     time.Now,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Service) newName() string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return "checkpoint-" + ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

// Create snapshots the memories of opts.SpecFolder (or all) together with
// all working-memory entries. An empty name gets a generated one. After the
// insert the oldest checkpoints beyond MaxCheckpoints, and any older than the
// TTL, are pruned in the same transaction.
func (s *Service) Create(ctx context.Context, name string, opts CreateOptions) (info *Info, err error) {
	defer func() { metrics.CheckpointOps.WithLabelValues("create", metrics.Result(err)).Inc() }()
	if s.store == nil {
		return nil, ErrNoStore
	}
	if name == "" {
		name = s.newName()
	}
	now := s.now().UTC()
	branch := detectGitBranch(s.cfg.RepoPath)

	var pruned int
	err = s.store.WithTx(ctx, func(rows storage.Rows) error {
		snap, err := snapshot(ctx, rows, opts.SpecFolder, now)
		if err != nil {
			return err
		}
		payload, err := encode(snap)
		if err != nil {
			return err
		}

		meta := map[string]any{}
		for k, v := range opts.Metadata {
			meta[k] = v
		}
		meta["memoryCount"] = len(snap.Memories)
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}

		cp := &storage.Checkpoint{
			Name:       name,
			SpecFolder: opts.SpecFolder,
			GitBranch:  branch,
			Snapshot:   payload,
			Metadata:   string(metaJSON),
			CreatedAt:  now,
		}
		if err := rows.InsertCheckpoint(ctx, cp); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return fmt.Errorf("%q: %w", name, ErrExists)
			}
			return err
		}

		pruned, err = s.prune(ctx, rows, name, now)
		if err != nil {
			return err
		}
		info = toInfo(cp)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create checkpoint: %w", err)
	}

	if pruned > 0 {
		metrics.CheckpointOps.WithLabelValues("prune", "success").Add(float64(pruned))
	}
	s.logger.Info("checkpoint created",
		zap.String("name", name),
		zap.String("git_branch", branch),
		zap.Int("snapshot_bytes", info.SnapshotSize),
		zap.Int("pruned", pruned))
	return info, nil
}

func snapshot(ctx context.Context, rows storage.Rows, folder string, now time.Time) (*Snapshot, error) {
	mems, err := rows.ListMemories(ctx, storage.ListOptions{SpecFolder: folder, IncludeArchived: true})
	if err != nil {
		return nil, err
	}
	sessions, err := rows.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Memories: mems, WorkingMemory: []*storage.WorkingEntry{}, Timestamp: now}
	if snap.Memories == nil {
		snap.Memories = []*storage.Memory{}
	}
	for _, sid := range sessions {
		entries, err := rows.ListWorkingEntries(ctx, sid)
		if err != nil {
			return nil, err
		}
		snap.WorkingMemory = append(snap.WorkingMemory, entries...)
	}
	return snap, nil
}

func encode(snap *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(snap); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	if buf.Len() > MaxSnapshotBytes {
		return nil, fmt.Errorf("%d bytes: %w", buf.Len(), ErrTooLarge)
	}
	return buf.Bytes(), nil
}

func decode(payload []byte) (*Snapshot, error) {
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	defer func() { _ = zr.Close() }()

	raw, err := io.ReadAll(io.LimitReader(zr, maxInflatedBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if len(raw) > maxInflatedBytes {
		return nil, ErrTooLarge
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if snap.Memories == nil {
		return nil, fmt.Errorf("%w: missing memories", ErrCorrupted)
	}
	for i, m := range snap.Memories {
		if m == nil || m.ID == 0 {
			return nil, fmt.Errorf("%w: memory row %d lacks id", ErrCorrupted, i)
		}
	}
	return &snap, nil
}

// prune deletes checkpoints beyond MaxCheckpoints (oldest first) and those
// older than the TTL. keep is never deleted.
func (s *Service) prune(ctx context.Context, rows storage.Rows, keep string, now time.Time) (int, error) {
	all, err := rows.ListCheckpoints(ctx, "", 1<<20)
	if err != nil {
		return 0, err
	}
	// Newest first.
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	cutoff := now.Add(-s.cfg.TTL)
	deleted := 0
	for i, cp := range all {
		if cp.Name == keep {
			continue
		}
		if i < s.cfg.MaxCheckpoints && !cp.CreatedAt.Before(cutoff) {
			continue
		}
		ok, err := rows.DeleteCheckpoint(ctx, cp.Name)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

func toInfo(cp *storage.Checkpoint) *Info {
	info := &Info{
		ID:           cp.ID,
		Name:         cp.Name,
		SpecFolder:   cp.SpecFolder,
		GitBranch:    cp.GitBranch,
		SnapshotSize: cp.SizeBytes,
		CreatedAt:    cp.CreatedAt,
	}
	if cp.Metadata != "" {
		var meta map[string]any
		if err := json.Unmarshal([]byte(cp.Metadata), &meta); err == nil {
			info.Metadata = meta
		}
	}
	return info
}

// List returns checkpoints newest first, 50 by default.
func (s *Service) List(ctx context.Context, opts ListOptions) []*Info {
	if s.store == nil {
		return []*Info{}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	cps, err := s.store.ListCheckpoints(ctx, opts.SpecFolder, limit)
	if err != nil {
		s.logger.Warn("list checkpoints failed", zap.Error(err))
		return []*Info{}
	}
	out := make([]*Info, 0, len(cps))
	for _, cp := range cps {
		out = append(out, toInfo(cp))
	}
	return out
}

// Get loads and decodes a checkpoint. A missing checkpoint is ErrNotFound;
// one whose payload cannot be decoded is ErrCorrupted.
func (s *Service) Get(ctx context.Context, name string) (*Checkpoint, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.get(ctx, s.store, name)
}

func (s *Service) get(ctx context.Context, rows storage.Rows, name string) (*Checkpoint, error) {
	cp, err := rows.GetCheckpoint(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	snap, err := decode(cp.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", name, err)
	}
	return &Checkpoint{Info: *toInfo(cp), Snapshot: snap}, nil
}

// Restore applies a checkpoint in one transaction.
//
// With ClearExisting the checkpoint's scope is deleted first, together with
// all working memory. Without it, a folder-scoped restore deprecates the
// folder's current memories. Snapshot memories are then reinserted unless
// SkipReinsert is set; ids that already exist are skipped. Working-memory
// entries from the snapshot are upserted.
func (s *Service) Restore(ctx context.Context, name string, opts RestoreOptions) (res RestoreResult, err error) {
	defer func() { metrics.CheckpointOps.WithLabelValues("restore", metrics.Result(err)).Inc() }()
	if s.store == nil {
		return res, ErrNoStore
	}

	err = s.store.WithTx(ctx, func(rows storage.Rows) error {
		cp, err := s.get(ctx, rows, name)
		if err != nil {
			return err
		}
		res = RestoreResult{TotalInSnapshot: len(cp.Snapshot.Memories)}

		switch {
		case opts.ClearExisting:
			n, err := rows.DeleteMemoriesInFolder(ctx, cp.SpecFolder)
			if err != nil {
				return err
			}
			res.Cleared = n
			sessions, err := rows.ListSessions(ctx)
			if err != nil {
				return err
			}
			for _, sid := range sessions {
				if _, err := rows.ClearSession(ctx, sid); err != nil {
					return err
				}
			}
		case cp.SpecFolder != "":
			n, err := rows.DeprecateFolder(ctx, cp.SpecFolder)
			if err != nil {
				return err
			}
			res.Deprecated = n
		}

		if opts.SkipReinsert {
			return nil
		}

		for _, m := range cp.Snapshot.Memories {
			_, err := rows.GetMemory(ctx, m.ID)
			switch {
			case err == nil:
				res.Skipped++
				continue
			case !errors.Is(err, storage.ErrNotFound):
				return err
			}
			if err := rows.InsertMemory(ctx, m); err != nil {
				return fmt.Errorf("restore memory %d: %w", m.ID, err)
			}
			res.Restored++
		}

		for _, e := range cp.Snapshot.WorkingMemory {
			if e == nil || e.SessionID == "" {
				continue
			}
			if err := rows.UpsertWorkingEntry(ctx, e); err != nil {
				return fmt.Errorf("restore working memory: %w", err)
			}
			res.WorkingMemoryRestored++
		}
		return nil
	})
	if err != nil {
		return RestoreResult{}, fmt.Errorf("restore checkpoint: %w", err)
	}

	s.logger.Info("checkpoint restored",
		zap.String("name", name),
		zap.Int("restored", res.Restored),
		zap.Int("skipped", res.Skipped),
		zap.Int("cleared", res.Cleared),
		zap.Int("deprecated", res.Deprecated),
		zap.Int("working_memory", res.WorkingMemoryRestored))
	return res, nil
}

// Delete removes a checkpoint and reports whether it existed.
func (s *Service) Delete(ctx context.Context, name string) (ok bool, err error) {
	defer func() { metrics.CheckpointOps.WithLabelValues("delete", metrics.Result(err)).Inc() }()
	if s.store == nil {
		return false, nil
	}
	err = s.store.WithTx(ctx, func(rows storage.Rows) error {
		var err error
		ok, err = rows.DeleteCheckpoint(ctx, name)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("delete checkpoint: %w", err)
	}
	return ok, nil
}
