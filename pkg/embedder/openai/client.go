// Package openai implements embedder.Provider with the OpenAI embeddings API.
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/oceanbase/memrank-go/pkg/logging"
)

// DefaultModel is the only embedding model the client requests.
const DefaultModel = "text-embedding-ada-002"

// Config is the configuration for OpenAI Embedder.
type Config struct {
	APIKey  string `json:"api_key" koanf:"api_key"`
	BaseURL string `json:"base_url" koanf:"base_url"`

	// Dimensions defaults to 1536, the size of ada-002 vectors.
	Dimensions int `json:"dimensions" koanf:"dimensions"`

	// RequestsPerSecond throttles outgoing calls; <= 0 disables throttling.
	RequestsPerSecond float64 `json:"requests_per_second" koanf:"requests_per_second"`
	Burst             int     `json:"burst" koanf:"burst"`
}

// Client is an OpenAI Embedder client.
type Client struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates a new OpenAI Embedder client.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("embedder config is nil")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("embedder requires an api key")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 1536
	}

	c := &Client{
		client:     openai.NewClientWithConfig(config),
		model:      openai.AdaEmbeddingV2,
		dimensions: dimensions,
		logger:     logging.OrNop(logger).With(zap.String("embedder", DefaultModel)),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c, nil
}

// Model implements embedder.Named.
func (c *Client) Model() string {
	return DefaultModel
}

// Embed converts a single text to a vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in one request.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedding rate limit: %w", err)
		}
	}

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: c.model,
	})
	if err != nil {
		c.logger.Debug("embedding request failed", zap.Int("texts", len(texts)), zap.Error(err))
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("create embeddings: got %d vectors for %d texts", len(resp.Data), len(texts))
	}

	embeddings := make([][]float64, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("create embeddings: index %d out of range", data.Index)
		}
		vec := make([]float64, len(data.Embedding))
		for j, v := range data.Embedding {
			vec[j] = float64(v)
		}
		embeddings[data.Index] = vec
	}
	return embeddings, nil
}

// Dimensions returns the vector dimensions.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close implements embedder.Provider.
func (c *Client) Close() error {
	return nil
}
