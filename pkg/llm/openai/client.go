// Package openai implements llm.Provider over any OpenAI-compatible chat
// completion endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/oceanbase/memrank-go/pkg/llm"
	"github.com/oceanbase/memrank-go/pkg/logging"
)

// Presets maps provider names with an OpenAI-compatible API to their base
// URL and default model.
var Presets = map[string]struct{ BaseURL, Model string }{
	"openai":   {"", "gpt-4o-mini"},
	"deepseek": {"https://api.deepseek.com/v1", "deepseek-chat"},
	"qwen":     {"https://dashscope.aliyuncs.com/compatible-mode/v1", "qwen-plus"},
	"ollama":   {"http://localhost:11434/v1", "llama3.1"},
}

// Config is the configuration for an OpenAI-compatible LLM.
type Config struct {
	// Provider selects a preset; empty means "openai".
	Provider string `json:"provider" koanf:"provider"`
	APIKey   string `json:"api_key" koanf:"api_key"`
	Model    string `json:"model" koanf:"model"`
	BaseURL  string `json:"base_url" koanf:"base_url"`

	// RequestsPerSecond throttles outgoing calls; <= 0 disables throttling.
	RequestsPerSecond float64 `json:"requests_per_second" koanf:"requests_per_second"`
	Burst             int     `json:"burst" koanf:"burst"`
}

// Client is an OpenAI chat-completion client implementing llm.Provider.
type Client struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient creates a client. Model and BaseURL fall back to the preset.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("llm config is nil")
	}
	name := strings.ToLower(cfg.Provider)
	if name == "" {
		name = "openai"
	}
	preset, ok := Presets[name]
	if !ok {
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
	if cfg.APIKey == "" && name != "ollama" {
		return nil, fmt.Errorf("llm provider %s requires an api key", name)
	}

	config := openai.DefaultConfig(cfg.APIKey)
	switch {
	case cfg.BaseURL != "":
		config.BaseURL = cfg.BaseURL
	case preset.BaseURL != "":
		config.BaseURL = preset.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = preset.Model
	}

	c := &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
		logger: logging.OrNop(logger).With(zap.String("llm", name), zap.String("model", model)),
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

// Model returns the model name requests are sent to.
func (c *Client) Model() string {
	return c.model
}

// Generate implements llm.Provider.
func (c *Client) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	return c.GenerateWithMessages(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, opts...)
}

// GenerateWithMessages implements llm.Provider.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("llm rate limit: %w", err)
		}
	}

	options := llm.ApplyGenerateOptions(opts)

	chatMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    chatMessages,
		Temperature: float32(options.Temperature),
		MaxTokens:   options.MaxTokens,
		TopP:        float32(options.TopP),
		Stop:        options.Stop,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.Debug("chat completion failed", zap.Error(err))
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	c.logger.Debug("chat completion",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return resp.Choices[0].Message.Content, nil
}

// Close implements llm.Provider. The HTTP client needs no teardown.
func (c *Client) Close() error {
	return nil
}
