// Package embedder turns memory content into vectors for the search index.
package embedder

import "context"

// Provider defines the interface for embedding providers.
type Provider interface {
	// Embed converts a text string into a vector embedding.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch embeds several texts in one request; the result order
	// matches texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the vector size the provider produces.
	Dimensions() int

	// Close closes the provider and releases resources.
	Close() error
}

// Named is implemented by providers that know their model name. The cache
// scopes entries by it so switching models never serves stale vectors.
type Named interface {
	Model() string
}
