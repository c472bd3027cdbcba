package search

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/oceanbase/memrank-go/pkg/embedder"
	"github.com/oceanbase/memrank-go/pkg/logging"
	"github.com/oceanbase/memrank-go/pkg/storage"
)

const (
	metaSpecFolder = "spec_folder"
	metaTitle      = "title"
	metaFilePath   = "file_path"

	// DefaultCollection names the chromem collection holding memories.
	DefaultCollection = "memories"
)

// VectorConfig configures a VectorIndex.
type VectorConfig struct {
	// PersistPath keeps the index on disk when set; empty means in-memory.
	PersistPath string `json:"persist_path" koanf:"persist_path"`
	Compress    bool   `json:"compress" koanf:"compress"`
	Collection  string `json:"collection" koanf:"collection"`
}

// VectorIndex is a chromem-go backed nearest-neighbour index over memory
// embeddings. Archived memories are not kept in the index.
type VectorIndex struct {
	db         *chromem.DB
	embedder   embedder.Provider
	name       string
	logger     *zap.Logger
	mu         sync.RWMutex
	collection *chromem.Collection
}

// NewVectorIndex opens (or creates) the index collection.
func NewVectorIndex(emb embedder.Provider, cfg VectorConfig, logger *zap.Logger) (*VectorIndex, error) {
	if emb == nil {
		return nil, errors.New("vector index requires an embedder")
	}

	var db *chromem.DB
	if cfg.PersistPath != "" {
		var err error
		db, err = chromem.NewPersistentDB(cfg.PersistPath, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("open vector index at %s: %w", cfg.PersistPath, err)
		}
	} else {
		db = chromem.NewDB()
	}

	name := cfg.Collection
	if name == "" {
		name = DefaultCollection
	}

	idx := &VectorIndex{
		db:       db,
		embedder: emb,
		name:     name,
		logger:   logging.OrNop(logger).With(zap.String("component", "vector_index")),
	}
	col, err := db.GetOrCreateCollection(name, nil, idx.embed)
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", name, err)
	}
	idx.collection = col
	return idx, nil
}

func (v *VectorIndex) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := v.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return toFloat32(vec), nil
}

// Index adds or replaces m in the index. Archived memories are removed
// instead.
func (v *VectorIndex) Index(ctx context.Context, m *storage.Memory) error {
	if m == nil {
		return nil
	}
	if m.IsArchived {
		return v.Remove(ctx, m.ID)
	}

	doc := chromem.Document{
		ID:      strconv.FormatInt(m.ID, 10),
		Content: m.Content,
		Metadata: map[string]string{
			metaSpecFolder: m.SpecFolder,
			metaTitle:      m.Title,
			metaFilePath:   m.FilePath,
		},
	}
	if len(m.Embedding) > 0 {
		doc.Embedding = toFloat32(m.Embedding)
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := v.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("index memory %d: %w", m.ID, err)
	}
	return nil
}

// Remove drops memories from the index. Unknown ids are ignored.
func (v *VectorIndex) Remove(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = strconv.FormatInt(id, 10)
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := v.collection.Delete(ctx, nil, nil, keys...); err != nil {
		return fmt.Errorf("remove from vector index: %w", err)
	}
	return nil
}

// Count returns the number of indexed memories.
func (v *VectorIndex) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.collection.Count()
}

// Search embeds query and returns the nearest memories.
func (v *VectorIndex) Search(ctx context.Context, query string, opts Options) ([]Candidate, error) {
	if query == "" || v.Count() == 0 {
		return []Candidate{}, nil
	}
	vec, err := v.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return v.query(ctx, vec, opts)
}

// SearchEmbedding returns the memories nearest to a precomputed embedding.
func (v *VectorIndex) SearchEmbedding(ctx context.Context, embedding []float64, opts Options) ([]Candidate, error) {
	if len(embedding) == 0 {
		return []Candidate{}, nil
	}
	return v.query(ctx, toFloat32(embedding), opts)
}

func (v *VectorIndex) query(ctx context.Context, vec []float32, opts Options) ([]Candidate, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	// chromem rejects nResults above the collection size.
	k := opts.limit()
	if n := v.collection.Count(); n < k {
		k = n
	}
	if k == 0 {
		return []Candidate{}, nil
	}

	var where map[string]string
	if opts.SpecFolder != "" {
		where = map[string]string{metaSpecFolder: opts.SpecFolder}
	}

	results, err := v.collection.QueryEmbedding(ctx, vec, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query vector index: %w", err)
	}

	out := make([]Candidate, 0, len(results))
	for _, r := range results {
		id, err := strconv.ParseInt(r.ID, 10, 64)
		if err != nil {
			v.logger.Warn("skipping foreign document id", zap.String("id", r.ID))
			continue
		}
		sim := toPercent(float64(r.Similarity))
		if sim < opts.MinSimilarity {
			continue
		}
		out = append(out, Candidate{
			ID:         id,
			Similarity: sim,
			Content:    r.Content,
			Title:      r.Metadata[metaTitle],
			FilePath:   r.Metadata[metaFilePath],
			SpecFolder: r.Metadata[metaSpecFolder],
		})
	}
	return out, nil
}

// Rebuild replaces the index contents with every non-archived memory in rows.
func (v *VectorIndex) Rebuild(ctx context.Context, rows storage.Rows) (int, error) {
	memories, err := rows.ListMemories(ctx, storage.ListOptions{})
	if err != nil {
		return 0, fmt.Errorf("list memories for rebuild: %w", err)
	}

	docs := make([]chromem.Document, 0, len(memories))
	for _, m := range memories {
		doc := chromem.Document{
			ID:      strconv.FormatInt(m.ID, 10),
			Content: m.Content,
			Metadata: map[string]string{
				metaSpecFolder: m.SpecFolder,
				metaTitle:      m.Title,
				metaFilePath:   m.FilePath,
			},
		}
		if len(m.Embedding) > 0 {
			doc.Embedding = toFloat32(m.Embedding)
		}
		docs = append(docs, doc)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.db.DeleteCollection(v.name); err != nil {
		return 0, fmt.Errorf("drop collection %s: %w", v.name, err)
	}
	col, err := v.db.CreateCollection(v.name, nil, v.embed)
	if err != nil {
		return 0, fmt.Errorf("recreate collection %s: %w", v.name, err)
	}
	v.collection = col

	if len(docs) == 0 {
		return 0, nil
	}
	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return 0, fmt.Errorf("rebuild vector index: %w", err)
	}

	v.logger.Info("vector index rebuilt", zap.Int("documents", len(docs)))
	return len(docs), nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
