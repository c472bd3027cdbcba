package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/memrank-go/pkg/archival"
	"github.com/oceanbase/memrank-go/pkg/checkpoint"
	"github.com/oceanbase/memrank-go/pkg/embedder"
	openaiEmbedder "github.com/oceanbase/memrank-go/pkg/embedder/openai"
	"github.com/oceanbase/memrank-go/pkg/intelligence"
	"github.com/oceanbase/memrank-go/pkg/llm"
	openaiLLM "github.com/oceanbase/memrank-go/pkg/llm/openai"
	"github.com/oceanbase/memrank-go/pkg/logging"
	"github.com/oceanbase/memrank-go/pkg/ranking"
	"github.com/oceanbase/memrank-go/pkg/search"
	"github.com/oceanbase/memrank-go/pkg/storage"
	"github.com/oceanbase/memrank-go/pkg/storage/oceanbase"
	postgresStore "github.com/oceanbase/memrank-go/pkg/storage/postgres"
	sqliteStore "github.com/oceanbase/memrank-go/pkg/storage/sqlite"
	"github.com/oceanbase/memrank-go/pkg/workingmemory"
)

// Client is the main memrank client.
//
// It provides:
//   - Save through the prediction-error write gate
//   - Search ranked by composite score, graph authority and co-activation
//   - FSRS review scheduling and freshness-state views
//   - Archival, working memory and checkpoints through accessors
//
// The client is safe for concurrent use; every mutation runs in a store
// transaction.
//
// Example usage:
//
//	cfg, _ := core.LoadConfigFromEnv()
//	client, _ := core.NewClient(cfg)
//	defer client.Close()
//
//	res, _ := client.Save(ctx, "Decision: use WAL mode for SQLite",
//	    core.WithSpecFolder("specs/042-storage"),
//	    core.WithContextType("decision"),
//	)
type Client struct {
	config *Config
	store  storage.Store

	// ownsStore is set when NewClient opened the store and Close must
	// close it.
	ownsStore bool

	llm      llm.Provider
	embedder *embedder.CachedProvider
	index    *search.VectorIndex
	searcher search.Searcher

	intelligence *intelligence.Manager
	ranker       *ranking.Ranker
	archival     *archival.Manager
	working      *workingmemory.Manager
	checkpoints  *checkpoint.Service

	logger *zap.Logger
	now    func() time.Time
}

// NewClient opens the configured store and providers and builds a client.
// Background jobs enabled in cfg.Background are started.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, NewMemoryError("NewClient", err)
	}

	store, err := initStorage(cfg.Store)
	if err != nil {
		return nil, err
	}

	opts := []ClientOption{WithLogger(logger)}
	if cfg.LLM.Provider != "" {
		provider, err := initLLM(cfg.LLM, logger)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		opts = append(opts, WithLLM(provider))
	}
	if cfg.Embedder.Provider != "" {
		provider, err := initEmbedder(cfg.Embedder, logger)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		opts = append(opts, WithEmbedder(provider))
	}

	client, err := NewClientWithStore(cfg, store, opts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	client.ownsStore = true

	ctx := context.Background()
	if client.embedder != nil && cfg.Embedder.CacheMaxAge > 0 {
		if _, err := client.embedder.EvictOlderThan(ctx, cfg.Embedder.CacheMaxAge); err != nil {
			logger.Warn("embedding cache eviction failed", zap.Error(err))
		}
	}
	if cfg.Background.ArchivalScan {
		client.archival.Start(ctx, cfg.Archival.ScanInterval)
	}
	if cfg.Background.WorkingMemoryDecay {
		if err := client.working.StartDecayLoop(ctx); err != nil {
			logger.Warn("working-memory decay loop not started", zap.Error(err))
		}
	}
	return client, nil
}

// NewClientWithStore builds a client over an existing store. The caller
// keeps ownership of store. A nil cfg uses DefaultConfig.
func NewClientWithStore(cfg *Config, store storage.Store, opts ...ClientOption) (*Client, error) {
	if store == nil {
		return nil, NewMemoryError("NewClientWithStore", ErrNoStore)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}

	o := &clientOptions{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	logger := logging.OrNop(o.logger)

	c := &Client{
		config:       cfg,
		store:        store,
		llm:          o.llm,
		intelligence: intelligence.NewManager(o.llm, cfg.intelligenceConfig(), logger),
		ranker:       ranking.NewRanker(cfg.Ranking, logger),
		logger:       logger,
		now:          o.now,
	}

	if o.embedder != nil {
		c.embedder = embedder.NewCachedProvider(o.embedder, store, logger)
		index, err := search.NewVectorIndex(c.embedder, cfg.Embedder.Index, logger)
		if err != nil {
			return nil, NewMemoryError("NewClientWithStore", err)
		}
		if _, err := index.Rebuild(context.Background(), store); err != nil {
			logger.Warn("vector index rebuild failed", zap.Error(err))
		}
		c.index = index
	}

	switch {
	case o.searcher != nil:
		c.searcher = o.searcher
	case c.index != nil:
		c.searcher = c.index
	default:
		c.searcher = search.NewLexicalSearcher(store)
	}

	archivalOpts := []archival.Option{
		archival.WithClassifier(c.intelligence.Classifier),
		archival.WithLogger(logger),
	}
	if c.index != nil {
		archivalOpts = append(archivalOpts, archival.WithIndexer(c.index))
	}
	c.archival = archival.NewManager(store, cfg.Archival, archivalOpts...)

	working, err := workingmemory.NewManager(store, cfg.WorkingMemory, logger)
	if err != nil {
		return nil, NewMemoryError("NewClientWithStore", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	c.working = working
	c.checkpoints = checkpoint.NewService(store, cfg.Checkpoint, logger)

	return c, nil
}

// Save offers content to the write gate and applies its decision in one
// transaction:
//
//	REINFORCE      the existing memory is reviewed as GOOD and its access bumped
//	UPDATE         the existing memory's content is replaced, with a history row
//	SUPERSEDE      a new memory is created, the old one deprecated and linked
//	CREATE_LINKED  a new memory is created and linked both ways
//	CREATE         a new memory is created
//
// The gate's conflict record is written in the same transaction.
func (c *Client) Save(ctx context.Context, content string, opts ...SaveOption) (*SaveResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, NewMemoryError("Save", fmt.Errorf("%w: empty content", ErrInvalidInput))
	}
	if err := ctx.Err(); err != nil {
		return nil, NewMemoryError("Save", err)
	}

	saveOpts := applySaveOptions(opts)
	now := c.now().UTC()
	mem := newMemory(content, saveOpts, now)
	c.intelligence.PrepareMemory(ctx, mem, saveOpts.ImportanceWeight != nil)

	candidates, err := c.searcher.Search(ctx, content, search.Options{
		SpecFolder:    saveOpts.SpecFolder,
		Limit:         c.config.Gate.CandidateLimit,
		MinSimilarity: intelligence.LowMatchThreshold * 100,
	})
	if err != nil {
		c.logger.Warn("candidate search failed, saving as new", zap.Error(err))
		candidates = nil
	}

	decision, err := c.intelligence.Gate.Evaluate(ctx, intelligence.GateInput{
		Content:     content,
		ContentHash: mem.ContentHash,
		SpecFolder:  saveOpts.SpecFolder,
		Candidates:  candidates,
	})
	if err != nil {
		return nil, NewMemoryError("Save", err)
	}

	result := &SaveResult{
		Action:           decision.Action,
		ExistingMemoryID: decision.ExistingMemoryID,
		Similarity:       decision.Similarity,
		Reason:           decision.Reason,
		Contradiction:    decision.Contradiction,
	}

	var reindex []*storage.Memory
	err = c.store.WithTx(ctx, func(rows storage.Rows) error {
		reindex = reindex[:0]
		var existing *storage.Memory
		if decision.ExistingMemoryID != nil {
			e, err := rows.GetMemory(ctx, *decision.ExistingMemoryID)
			switch {
			case err == nil:
				existing = e
			case errors.Is(err, storage.ErrNotFound):
				// The searcher returned a row that is gone.
				c.logger.Warn("gate candidate no longer exists",
					zap.Int64("memory_id", *decision.ExistingMemoryID))
			default:
				return err
			}
		}

		action := decision.Action
		if existing == nil && action != intelligence.ActionCreate {
			action = intelligence.ActionCreate
		}
		result.Action = action

		switch action {
		case intelligence.ActionReinforce:
			review := intelligence.ProcessReview(intelligence.ParamsFromMemory(existing), intelligence.GradeGood, now)
			review.Apply(existing)
			existing.AccessCount++
			existing.LastAccessed = &now
			if err := rows.UpdateMemory(ctx, existing); err != nil {
				return err
			}
			result.Memory = existing

		case intelligence.ActionUpdate:
			old := existing.Content
			existing.Content = content
			existing.ContentHash = mem.ContentHash
			existing.Embedding = nil
			if saveOpts.Title != "" {
				existing.Title = saveOpts.Title
			}
			if err := rows.UpdateMemory(ctx, existing); err != nil {
				return err
			}
			if err := rows.InsertHistory(ctx, &storage.HistoryRecord{
				MemoryID:   existing.ID,
				Event:      string(intelligence.ActionUpdate),
				OldContent: old,
				NewContent: content,
				Reason:     decision.Reason,
				CreatedAt:  now,
			}); err != nil {
				return err
			}
			result.Memory = existing
			reindex = append(reindex, existing)

		case intelligence.ActionSupersede:
			if err := insertLinked(ctx, rows, mem, existing); err != nil {
				return err
			}
			existing.ImportanceTier = storage.TierDeprecated
			if err := rows.UpdateMemory(ctx, existing); err != nil {
				return err
			}
			if err := rows.InsertHistory(ctx, &storage.HistoryRecord{
				MemoryID:   existing.ID,
				Event:      string(intelligence.ActionSupersede),
				OldContent: existing.Content,
				NewContent: content,
				Reason:     fmt.Sprintf("superseded by %d: %s", mem.ID, decision.Reason),
				CreatedAt:  now,
			}); err != nil {
				return err
			}
			if err := insertAddHistory(ctx, rows, mem, fmt.Sprintf("supersedes %d", existing.ID), now); err != nil {
				return err
			}
			result.Memory = mem
			reindex = append(reindex, mem, existing)

		case intelligence.ActionCreateLinked:
			if err := insertLinked(ctx, rows, mem, existing); err != nil {
				return err
			}
			if err := rows.UpdateMemory(ctx, existing); err != nil {
				return err
			}
			if err := insertAddHistory(ctx, rows, mem, fmt.Sprintf("linked to %d", existing.ID), now); err != nil {
				return err
			}
			result.Memory = mem
			reindex = append(reindex, mem)

		default:
			if err := rows.InsertMemory(ctx, mem); err != nil {
				return err
			}
			if err := insertAddHistory(ctx, rows, mem, decision.Reason, now); err != nil {
				return err
			}
			result.Memory = mem
			reindex = append(reindex, mem)
		}

		if decision.Conflict != nil {
			conflict := *decision.Conflict
			conflict.Action = string(action)
			if conflict.SpecFolder == "" {
				conflict.SpecFolder = saveOpts.SpecFolder
			}
			if conflict.CreatedAt.IsZero() {
				conflict.CreatedAt = now
			}
			if err := rows.InsertConflict(ctx, &conflict); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, NewMemoryError("Save", fmt.Errorf("%w: %w", ErrStorageOperation, err))
	}

	c.reindex(ctx, reindex...)
	c.logger.Info("memory saved",
		zap.String("action", string(result.Action)),
		zap.Int64("memory_id", result.Memory.ID),
		zap.Float64("similarity", result.Similarity))
	return result, nil
}

// insertLinked inserts mem related to existing and adds the back edge to
// existing. The caller persists existing.
func insertLinked(ctx context.Context, rows storage.Rows, mem, existing *storage.Memory) error {
	mem.AddRelated(existing.ID)
	if err := rows.InsertMemory(ctx, mem); err != nil {
		return err
	}
	existing.AddRelated(mem.ID)
	return nil
}

func insertAddHistory(ctx context.Context, rows storage.Rows, m *storage.Memory, reason string, now time.Time) error {
	return rows.InsertHistory(ctx, &storage.HistoryRecord{
		MemoryID:   m.ID,
		Event:      "ADD",
		NewContent: m.Content,
		Reason:     reason,
		CreatedAt:  now,
	})
}

// reindex refreshes the vector index; failures are logged.
func (c *Client) reindex(ctx context.Context, memories ...*storage.Memory) {
	if c.index == nil {
		return
	}
	for _, m := range memories {
		if err := c.index.Index(ctx, m); err != nil {
			c.logger.Warn("vector index update failed", zap.Int64("memory_id", m.ID), zap.Error(err))
		}
	}
}

// Search finds memories similar to query and ranks them.
//
// Candidates from the searcher are loaded, scored by the composite formula,
// lifted by graph authority and co-activation, then truncated to the limit.
// Returned memories get their access counters bumped; failures there are
// logged and never fail the search.
//
// Example:
//
//	res, err := client.Search(ctx, "sqlite locking",
//	    core.WithSearchFolder("specs/042-storage"),
//	    core.WithLimit(5),
//	)
func (c *Client) Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, NewMemoryError("Search", fmt.Errorf("%w: empty query", ErrInvalidInput))
	}
	searchOpts := applySearchOptions(opts)

	candidates, err := c.searcher.Search(ctx, query, search.Options{
		SpecFolder:    searchOpts.SpecFolder,
		Limit:         searchOpts.Limit * 3,
		MinSimilarity: searchOpts.MinSimilarity,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, NewMemoryError("Search", ctxErr)
		}
		c.logger.Warn("search failed", zap.String("query", query), zap.Error(err))
		return &SearchResult{Results: []ranking.Scored{}, Related: []ranking.Activation{}}, nil
	}

	similarity := make(map[int64]float64, len(candidates))
	memories := make([]*storage.Memory, 0, len(candidates))
	for _, cand := range candidates {
		m, err := c.store.GetMemory(ctx, cand.ID)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				c.logger.Warn("load search candidate failed", zap.Int64("memory_id", cand.ID), zap.Error(err))
			}
			continue
		}
		if m.IsArchived && !searchOpts.IncludeArchived {
			continue
		}
		similarity[m.ID] = cand.Similarity
		memories = append(memories, m)
	}

	ranked := c.ranker.Rank(toRows(memories, similarity), c.graph(ctx, searchOpts.SpecFolder))
	if len(ranked.Results) > searchOpts.Limit {
		ranked.Results = ranked.Results[:searchOpts.Limit]
	}

	c.recordAccess(ctx, ranked.Results)
	if searchOpts.SessionID != "" {
		for _, s := range ranked.Results {
			if _, err := c.working.SetAttentionScore(ctx, searchOpts.SessionID, s.Memory.ID, s.Score); err != nil {
				c.logger.Warn("focus search result failed", zap.Int64("memory_id", s.Memory.ID), zap.Error(err))
			}
		}
	}

	return &SearchResult{
		Results:         ranked.Results,
		Related:         ranked.Related,
		TotalCandidates: len(candidates),
	}, nil
}

// graph loads the relation graph of folder (or every memory). On failure the
// ranker falls back to the graph among the results.
func (c *Client) graph(ctx context.Context, folder string) []ranking.Node {
	all, err := c.store.ListMemories(ctx, storage.ListOptions{SpecFolder: folder})
	if err != nil {
		c.logger.Warn("load relation graph failed", zap.Error(err))
		return nil
	}
	return ranking.NodesFromMemories(all)
}

func (c *Client) recordAccess(ctx context.Context, results []ranking.Scored) {
	if len(results) == 0 {
		return
	}
	now := c.now().UTC()
	err := c.store.WithTx(ctx, func(rows storage.Rows) error {
		for _, s := range results {
			m, err := rows.GetMemory(ctx, s.Memory.ID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return err
			}
			m.AccessCount++
			m.LastAccessed = &now
			if err := rows.UpdateMemory(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("access bump failed", zap.Error(err))
	}
}

// Get retrieves a memory by id.
func (c *Client) Get(ctx context.Context, id int64) (*storage.Memory, error) {
	m, err := c.store.GetMemory(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, NewMemoryError("Get", ErrNotFound)
	}
	if err != nil {
		return nil, NewMemoryError("Get", err)
	}
	return m, nil
}

// Delete removes a memory, its working-memory focus and its index entry.
// It reports whether the memory existed.
func (c *Client) Delete(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	err := c.store.WithTx(ctx, func(rows storage.Rows) error {
		sessions, err := rows.ListSessions(ctx)
		if err != nil {
			return err
		}
		for _, sid := range sessions {
			if _, err := rows.DeleteWorkingEntries(ctx, sid, id); err != nil {
				return err
			}
		}
		deleted, err = rows.DeleteMemory(ctx, id)
		return err
	})
	if err != nil {
		return false, NewMemoryError("Delete", err)
	}
	if deleted && c.index != nil {
		if err := c.index.Remove(ctx, id); err != nil {
			c.logger.Warn("vector index removal failed", zap.Int64("memory_id", id), zap.Error(err))
		}
	}
	return deleted, nil
}

// Review records a review of memory id with grade and reschedules it.
// The second return value is false when the memory does not exist.
func (c *Client) Review(ctx context.Context, id int64, grade intelligence.Grade) (*ReviewOutcome, bool, error) {
	now := c.now().UTC()
	var outcome *ReviewOutcome
	err := c.store.WithTx(ctx, func(rows storage.Rows) error {
		m, err := rows.GetMemory(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		res := intelligence.ProcessReview(intelligence.ParamsFromMemory(m), grade.Clamp(), now)
		res.Apply(m)
		if err := rows.UpdateMemory(ctx, m); err != nil {
			return err
		}
		outcome = &ReviewOutcome{MemoryID: id, ReviewResult: res}
		return nil
	})
	if err != nil {
		return nil, false, NewMemoryError("Review", err)
	}
	return outcome, outcome != nil, nil
}

// Classify returns the current freshness state of memory id.
func (c *Client) Classify(ctx context.Context, id int64) (intelligence.Classification, error) {
	m, err := c.Get(ctx, id)
	if err != nil {
		return intelligence.Classification{}, err
	}
	return c.intelligence.Classifier.ClassifyTier(m, c.now()), nil
}

// StateStats counts memories per freshness state, archived rows included.
// A store failure is logged and yields empty stats.
func (c *Client) StateStats(ctx context.Context, folder string) intelligence.StateStats {
	memories, err := c.store.ListMemories(ctx, storage.ListOptions{SpecFolder: folder, IncludeArchived: true})
	if err != nil {
		c.logger.Warn("state stats failed", zap.Error(err))
		return intelligence.StateStats{}
	}
	return c.intelligence.Classifier.GetStateStats(memories, c.now())
}

// StateContent lists up to limit memories currently in state.
func (c *Client) StateContent(ctx context.Context, state intelligence.State, folder string, limit int) intelligence.StateContent {
	memories, err := c.store.ListMemories(ctx, storage.ListOptions{SpecFolder: folder, IncludeArchived: true})
	if err != nil {
		c.logger.Warn("state content failed", zap.Error(err))
		return intelligence.StateContent{State: state, Memories: []intelligence.ClassifiedMemory{}}
	}
	return c.intelligence.Classifier.GetStateContent(memories, state, limit, c.now())
}

// ListConflicts returns the newest write-gate audit rows.
func (c *Client) ListConflicts(ctx context.Context, limit int) []*storage.ConflictRecord {
	conflicts, err := c.store.ListConflicts(ctx, limit)
	if err != nil {
		c.logger.Warn("list conflicts failed", zap.Error(err))
		return []*storage.ConflictRecord{}
	}
	return conflicts
}

// History returns the content history of memory id, oldest first.
func (c *Client) History(ctx context.Context, id int64) []*storage.HistoryRecord {
	history, err := c.store.ListHistory(ctx, id)
	if err != nil {
		c.logger.Warn("list history failed", zap.Int64("memory_id", id), zap.Error(err))
		return []*storage.HistoryRecord{}
	}
	return history
}

// Archival returns the archival manager.
func (c *Client) Archival() *archival.Manager { return c.archival }

// WorkingMemory returns the working-memory manager.
func (c *Client) WorkingMemory() *workingmemory.Manager { return c.working }

// Checkpoints returns the checkpoint service.
func (c *Client) Checkpoints() *checkpoint.Service { return c.checkpoints }

// Store returns the underlying store.
func (c *Client) Store() storage.Store { return c.store }

// Close stops background jobs and releases the providers, and the store
// when NewClient opened it. The first error encountered is returned.
func (c *Client) Close() error {
	c.archival.Stop()
	c.working.Stop()

	var errs []error
	if c.ownsStore {
		if err := c.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.llm != nil {
		if err := c.llm.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.embedder != nil {
		if err := c.embedder.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// initStorage opens the configured store.
func initStorage(cfg StoreConfig) (storage.Store, error) {
	var (
		store storage.Store
		err   error
	)
	switch cfg.Provider {
	case "sqlite":
		store, err = sqliteStore.NewClient(&sqliteStore.Config{DBPath: cfg.SQLite.Path, NodeID: cfg.NodeID})
	case "postgres":
		store, err = postgresStore.NewClient(&postgresStore.Config{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			DBName:   cfg.Postgres.DBName,
			SSLMode:  cfg.Postgres.SSLMode,
			NodeID:   cfg.NodeID,
		})
	case "oceanbase":
		store, err = oceanbase.NewClient(&oceanbase.Config{
			Host:     cfg.OceanBase.Host,
			Port:     cfg.OceanBase.Port,
			User:     cfg.OceanBase.User,
			Password: cfg.OceanBase.Password,
			DBName:   cfg.OceanBase.DBName,
			NodeID:   cfg.NodeID,
		})
	default:
		return nil, NewMemoryError("initStorage", ErrInvalidConfig)
	}
	if err != nil {
		return nil, NewMemoryError("initStorage", fmt.Errorf("%w: %v", ErrStorageOperation, err))
	}
	return store, nil
}

// initLLM creates the OpenAI-compatible LLM client.
func initLLM(cfg LLMConfig, logger *zap.Logger) (llm.Provider, error) {
	client, err := openaiLLM.NewClient(&openaiLLM.Config{
		Provider:          cfg.Provider,
		APIKey:            cfg.APIKey,
		Model:             cfg.Model,
		BaseURL:           cfg.BaseURL,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}, logger)
	if err != nil {
		return nil, NewMemoryError("initLLM", fmt.Errorf("%w: %v", ErrLLMOperation, err))
	}
	return client, nil
}

// initEmbedder creates the embedding client.
func initEmbedder(cfg EmbedderConfig, logger *zap.Logger) (embedder.Provider, error) {
	switch cfg.Provider {
	case "openai":
		client, err := openaiEmbedder.NewClient(&openaiEmbedder.Config{
			APIKey:            cfg.APIKey,
			BaseURL:           cfg.BaseURL,
			Dimensions:        cfg.Dimensions,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
		}, logger)
		if err != nil {
			return nil, NewMemoryError("initEmbedder", fmt.Errorf("%w: %v", ErrEmbeddingFailed, err))
		}
		return client, nil
	default:
		return nil, NewMemoryError("initEmbedder", ErrInvalidConfig)
	}
}
