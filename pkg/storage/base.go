// Package storage provides interfaces and types for the relational memory store.
//
// It defines the Store interface that all storage implementations must satisfy,
// along with the persisted row shapes (memories, working-memory entries,
// history, conflicts, checkpoints and cached embeddings).
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("duplicate key")
)

// ImportanceTier is the editorial importance class of a memory.
type ImportanceTier string

const (
	TierConstitutional ImportanceTier = "constitutional"
	TierCritical       ImportanceTier = "critical"
	TierImportant      ImportanceTier = "important"
	TierNormal         ImportanceTier = "normal"
	TierTemporary      ImportanceTier = "temporary"
	TierDeprecated     ImportanceTier = "deprecated"
)

// Valid reports whether t is one of the known tiers.
func (t ImportanceTier) Valid() bool {
	switch t {
	case TierConstitutional, TierCritical, TierImportant, TierNormal, TierTemporary, TierDeprecated:
		return true
	}
	return false
}

// Memory represents a long-term memory row.
//
// Memory is the single source of truth; classification results, graph nodes
// and working-memory entries are derived from or reference it by ID.
type Memory struct {
	// ID is the unique identifier of the memory (snowflake).
	ID int64 `json:"id"`

	// SpecFolder scopes the memory to a project or feature folder.
	SpecFolder string `json:"spec_folder"`

	// FilePath is the source document the memory was captured from.
	FilePath string `json:"file_path,omitempty"`

	Title   string `json:"title,omitempty"`
	Content string `json:"content"`

	// ContentHash is the SHA-256 of Content.
	ContentHash string `json:"content_hash"`

	// Embedding is the vector embedding for similarity search (optional).
	Embedding []float64 `json:"embedding,omitempty"`

	ImportanceTier   ImportanceTier `json:"importance_tier"`
	ImportanceWeight float64        `json:"importance_weight"`

	// ContextType is a free-form tag such as decision, research or implementation.
	ContextType string `json:"context_type"`

	// HalfLifeDays overrides the default decay half-life when set.
	HalfLifeDays *float64 `json:"half_life_days,omitempty"`

	// Stability is the FSRS stability in days. Zero means never reviewed.
	Stability  float64    `json:"stability"`
	Difficulty float64    `json:"difficulty"`
	LastReview *time.Time `json:"last_review,omitempty"`

	ReviewCount  int        `json:"review_count"`
	AccessCount  int        `json:"access_count"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`

	Confidence float64 `json:"confidence"`

	IsArchived bool       `json:"is_archived"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	IsPinned   bool       `json:"is_pinned"`

	// RelatedMemories is the adjacency list used as graph edges.
	RelatedMemories []int64 `json:"related_memories,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsProtected reports whether the memory never decays and must never be
// auto-archived.
func (m *Memory) IsProtected() bool {
	return m.IsPinned || m.ImportanceTier == TierConstitutional || m.ImportanceTier == TierCritical
}

// AddRelated appends id to RelatedMemories unless it is already present or
// refers to the memory itself. It reports whether the list changed.
func (m *Memory) AddRelated(id int64) bool {
	if id == m.ID {
		return false
	}
	for _, existing := range m.RelatedMemories {
		if existing == id {
			return false
		}
	}
	m.RelatedMemories = append(m.RelatedMemories, id)
	return true
}

// WorkingEntry is an ephemeral attention record keyed by (SessionID, MemoryID).
type WorkingEntry struct {
	SessionID      string    `json:"session_id"`
	MemoryID       int64     `json:"memory_id"`
	AttentionScore float64   `json:"attention_score"`
	AddedAt        time.Time `json:"added_at"`
	LastFocused    time.Time `json:"last_focused"`
	FocusCount     int       `json:"focus_count"`
}

// HistoryRecord is an append-only audit row describing a content change.
type HistoryRecord struct {
	ID         int64     `json:"id"`
	MemoryID   int64     `json:"memory_id"`
	Event      string    `json:"event"`
	OldContent string    `json:"old_content,omitempty"`
	NewContent string    `json:"new_content,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ConflictRecord is an append-only audit row written by the write gate.
type ConflictRecord struct {
	ID                    int64     `json:"id"`
	Action                string    `json:"action"`
	NewContentHash        string    `json:"new_content_hash"`
	ExistingMemoryID      *int64    `json:"existing_memory_id,omitempty"`
	Similarity            float64   `json:"similarity"`
	Reason                string    `json:"reason"`
	ContradictionDetected bool      `json:"contradiction_detected"`
	ContradictionType     string    `json:"contradiction_type,omitempty"`
	NewContentPreview     string    `json:"new_content_preview"`
	ExistingPreview       string    `json:"existing_content_preview,omitempty"`
	SpecFolder            string    `json:"spec_folder,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

// Checkpoint is a compressed snapshot of memory rows.
type Checkpoint struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	SpecFolder string    `json:"spec_folder,omitempty"`
	GitBranch  string    `json:"git_branch,omitempty"`
	Snapshot   []byte    `json:"-"`
	SizeBytes  int       `json:"snapshot_size"`
	Metadata   string    `json:"metadata,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CachedEmbedding is a content-hash keyed, model-scoped embedding.
type CachedEmbedding struct {
	ContentHash string
	Model       string
	Embedding   []float64
	CreatedAt   time.Time
	LastUsedAt  time.Time
}

// ListOptions filters ListMemories.
type ListOptions struct {
	// SpecFolder limits results to one folder when non-empty.
	SpecFolder string

	// IncludeArchived also returns archived rows.
	IncludeArchived bool

	// OnlyArchived returns archived rows only.
	OnlyArchived bool

	// ExcludeProtected drops constitutional, critical and pinned rows.
	ExcludeProtected bool

	// Order selects the sort order. The zero value is OrderCreated.
	Order ListOrder

	// Limit caps the number of rows (0 = unlimited).
	Limit int

	Offset int
}

// ListOrder is a sort order for ListMemories.
type ListOrder int

const (
	// OrderCreated sorts by creation time, then id.
	OrderCreated ListOrder = iota

	// OrderLeastAccessed puts never-accessed rows first, then the least
	// recently accessed, then the lowest access count.
	OrderLeastAccessed
)

// Rows defines the row operations shared by a store and its transactions.
//
// All storage implementations (SQLite, PostgreSQL, OceanBase) provide it.
type Rows interface {
	// InsertMemory inserts a memory. A zero ID is replaced by a generated one.
	InsertMemory(ctx context.Context, m *Memory) error

	// GetMemory returns the memory or ErrNotFound.
	GetMemory(ctx context.Context, id int64) (*Memory, error)

	// UpdateMemory writes every mutable column of m.
	UpdateMemory(ctx context.Context, m *Memory) error

	// DeleteMemory removes a memory and reports whether it existed.
	DeleteMemory(ctx context.Context, id int64) (bool, error)

	// ListMemories returns memories ordered by created_at, id.
	ListMemories(ctx context.Context, opts ListOptions) ([]*Memory, error)

	// SetArchived flips the archived flag only when it differs from archived
	// and reports whether a row changed.
	SetArchived(ctx context.Context, id int64, archived bool, at time.Time) (bool, error)

	// DeleteMemoriesInFolder deletes all rows of folder, or every row when
	// folder is empty.
	DeleteMemoriesInFolder(ctx context.Context, folder string) (int, error)

	// DeprecateFolder sets importance_tier=deprecated for every row of folder.
	DeprecateFolder(ctx context.Context, folder string) (int, error)

	GetWorkingEntry(ctx context.Context, sessionID string, memoryID int64) (*WorkingEntry, error)
	UpsertWorkingEntry(ctx context.Context, e *WorkingEntry) error

	// ListWorkingEntries returns a session's entries, highest score first.
	ListWorkingEntries(ctx context.Context, sessionID string) ([]*WorkingEntry, error)
	ListSessions(ctx context.Context) ([]string, error)
	DeleteWorkingEntries(ctx context.Context, sessionID string, memoryIDs ...int64) (int, error)
	DeleteWorkingBefore(ctx context.Context, sessionID string, cutoff time.Time) (int, error)
	ClearSession(ctx context.Context, sessionID string) (int, error)

	InsertHistory(ctx context.Context, h *HistoryRecord) error
	ListHistory(ctx context.Context, memoryID int64) ([]*HistoryRecord, error)

	InsertConflict(ctx context.Context, c *ConflictRecord) error

	// ListConflicts returns the newest conflicts first.
	ListConflicts(ctx context.Context, limit int) ([]*ConflictRecord, error)

	// InsertCheckpoint fails with ErrDuplicate when the name exists.
	InsertCheckpoint(ctx context.Context, c *Checkpoint) error
	GetCheckpoint(ctx context.Context, name string) (*Checkpoint, error)

	// ListCheckpoints returns metadata (no snapshot) newest first.
	ListCheckpoints(ctx context.Context, folder string, limit int) ([]*Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, name string) (bool, error)

	GetCachedEmbedding(ctx context.Context, contentHash, model string) (*CachedEmbedding, error)
	PutCachedEmbedding(ctx context.Context, e *CachedEmbedding) error
	TouchCachedEmbedding(ctx context.Context, contentHash, model string, at time.Time) error
	EvictEmbeddingsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Store is a transactional memory store.
type Store interface {
	Rows

	// WithTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise. fn must only use the Rows it is
	// given.
	WithTx(ctx context.Context, fn func(Rows) error) error

	// Migrate applies pending schema migrations. It is idempotent.
	Migrate(ctx context.Context) error

	// Close closes the store and releases resources.
	Close() error
}
