package core

import (
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/memrank-go/pkg/embedder"
	"github.com/oceanbase/memrank-go/pkg/llm"
	"github.com/oceanbase/memrank-go/pkg/search"
	"github.com/oceanbase/memrank-go/pkg/storage"
)

// ClientOption configures NewClientWithStore.
type ClientOption func(*clientOptions)

type clientOptions struct {
	logger   *zap.Logger
	embedder embedder.Provider
	llm      llm.Provider
	searcher search.Searcher
	now      func() time.Time
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *zap.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = l }
}

// WithEmbedder enables vector search through the given provider. The client
// wraps it in the persistent embedding cache.
func WithEmbedder(p embedder.Provider) ClientOption {
	return func(o *clientOptions) { o.embedder = p }
}

// WithLLM sets the provider used for contradiction checks and importance
// scoring when the gate configuration asks for them.
func WithLLM(p llm.Provider) ClientOption {
	return func(o *clientOptions) { o.llm = p }
}

// WithSearcher replaces the similarity search collaborator. By default the
// client uses a vector index when an embedder is set, else lexical search.
func WithSearcher(s search.Searcher) ClientOption {
	return func(o *clientOptions) { o.searcher = s }
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) ClientOption {
	return func(o *clientOptions) { o.now = now }
}

// SaveOption is a function type for configuring Save operations.
type SaveOption func(*SaveOptions)

// SaveOptions contains configuration options for Save operations.
type SaveOptions struct {
	SpecFolder string
	Title      string
	FilePath   string

	// Tier defaults to normal.
	Tier storage.ImportanceTier

	ContextType string

	// ImportanceWeight is evaluated from the content when nil.
	ImportanceWeight *float64

	HalfLifeDays *float64
	Pinned       bool
}

// WithSpecFolder scopes the memory to a folder.
//
// Example:
//
//	res, _ := client.Save(ctx, "Use WAL mode", core.WithSpecFolder("specs/042-storage"))
func WithSpecFolder(folder string) SaveOption {
	return func(o *SaveOptions) { o.SpecFolder = folder }
}

// WithTitle sets the memory title.
func WithTitle(title string) SaveOption {
	return func(o *SaveOptions) { o.Title = title }
}

// WithFilePath records the document the memory was captured from.
func WithFilePath(path string) SaveOption {
	return func(o *SaveOptions) { o.FilePath = path }
}

// WithTier sets the importance tier.
//
// Constitutional and critical memories never decay and are never archived.
func WithTier(tier storage.ImportanceTier) SaveOption {
	return func(o *SaveOptions) { o.Tier = tier }
}

// WithContextType tags the memory (decision, research, implementation, ...).
// The tag changes how fast the memory decays.
func WithContextType(contextType string) SaveOption {
	return func(o *SaveOptions) { o.ContextType = contextType }
}

// WithImportanceWeight sets an explicit importance in [0,1] and skips
// automatic evaluation.
func WithImportanceWeight(weight float64) SaveOption {
	return func(o *SaveOptions) { o.ImportanceWeight = &weight }
}

// WithHalfLife overrides the decay half-life in days. A non-positive value
// means the memory never decays.
func WithHalfLife(days float64) SaveOption {
	return func(o *SaveOptions) { o.HalfLifeDays = &days }
}

// WithPinned pins the memory so it is never archived.
func WithPinned(pinned bool) SaveOption {
	return func(o *SaveOptions) { o.Pinned = pinned }
}

func applySaveOptions(opts []SaveOption) *SaveOptions {
	options := &SaveOptions{Tier: storage.TierNormal}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// SearchOption is a function type for configuring Search operations.
type SearchOption func(*SearchOptions)

// SearchOptions contains configuration options for Search operations.
type SearchOptions struct {
	// SpecFolder limits results to one folder.
	SpecFolder string

	// Limit sets the maximum number of results to return.
	// Default: 10
	Limit int

	// MinSimilarity drops candidates below this 0-100 similarity.
	MinSimilarity float64

	// IncludeArchived keeps archived memories returned by the searcher.
	IncludeArchived bool

	// SessionID focuses the results into that working-memory session,
	// with the ranking score as attention.
	SessionID string
}

// WithSearchFolder limits Search to one folder.
func WithSearchFolder(folder string) SearchOption {
	return func(o *SearchOptions) { o.SpecFolder = folder }
}

// WithLimit sets the maximum number of results for Search operations.
//
// Example:
//
//	res, _ := client.Search(ctx, "query", core.WithLimit(20))
func WithLimit(limit int) SearchOption {
	return func(o *SearchOptions) { o.Limit = limit }
}

// WithMinSimilarity sets the minimum 0-100 similarity for candidates.
func WithMinSimilarity(min float64) SearchOption {
	return func(o *SearchOptions) { o.MinSimilarity = min }
}

// WithIncludeArchived sets whether archived memories may be returned.
func WithIncludeArchived(include bool) SearchOption {
	return func(o *SearchOptions) { o.IncludeArchived = include }
}

// WithSession records the results as focused in a working-memory session.
func WithSession(sessionID string) SearchOption {
	return func(o *SearchOptions) { o.SessionID = sessionID }
}

func applySearchOptions(opts []SearchOption) *SearchOptions {
	options := &SearchOptions{Limit: search.DefaultLimit}
	for _, opt := range opts {
		opt(options)
	}
	if options.Limit <= 0 {
		options.Limit = search.DefaultLimit
	}
	return options
}
