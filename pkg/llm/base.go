// Package llm provides the chat-completion interface used for contradiction
// checks and importance scoring.
package llm

import "context"

// Provider defines the interface for LLM providers.
type Provider interface {
	// Generate answers a single user prompt.
	Generate(ctx context.Context, prompt string, opts ...GenerateOption) (string, error)

	// GenerateWithMessages answers a conversation (system, user and
	// assistant turns).
	GenerateWithMessages(ctx context.Context, messages []Message, opts ...GenerateOption) (string, error)

	// Close releases resources held by the provider.
	Close() error
}

// Message represents a single message in a conversation.
type Message struct {
	// Role is "system", "user" or "assistant".
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// GenerateOptions contains options for text generation.
type GenerateOptions struct {
	// Temperature controls randomness (0.0-2.0).
	Temperature float64

	MaxTokens int

	// TopP controls nucleus sampling (0.0-1.0).
	TopP float64

	// Stop contains stop sequences that will end generation.
	Stop []string
}

// GenerateOption is a function type for configuring generation options.
type GenerateOption func(*GenerateOptions)

// WithTemperature sets the sampling temperature. Classification prompts use 0.
func WithTemperature(temp float64) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.Temperature = temp
	}
}

// WithMaxTokens caps the response length.
func WithMaxTokens(max int) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.MaxTokens = max
	}
}

// WithTopP sets the top-p (nucleus sampling) parameter.
func WithTopP(topP float64) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.TopP = topP
	}
}

// WithStop ends generation at any of the given sequences.
func WithStop(stop ...string) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.Stop = append(opts.Stop, stop...)
	}
}

// ApplyGenerateOptions resolves opts over the defaults
// (Temperature=0.7, MaxTokens=1000, TopP=1.0).
func ApplyGenerateOptions(opts []GenerateOption) *GenerateOptions {
	options := &GenerateOptions{
		Temperature: 0.7,
		MaxTokens:   1000,
		TopP:        1.0,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}
