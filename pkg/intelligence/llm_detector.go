package intelligence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/oceanbase/memrank-go/pkg/llm"
	"github.com/oceanbase/memrank-go/pkg/logging"
)

// LLMDetectorConfig bounds calls made by LLMDetector.
type LLMDetectorConfig struct {
	// RequestsPerSecond limits LLM calls; <= 0 means 1.
	RequestsPerSecond float64 `json:"requests_per_second" koanf:"requests_per_second"`
	Burst             int     `json:"burst" koanf:"burst"`
}

// LLMDetector asks an LLM whether two memories contradict each other and
// falls back to the pattern catalogue whenever the call or its answer fails.
type LLMDetector struct {
	llm      llm.Provider
	limiter  *rate.Limiter
	fallback ContradictionDetector
	logger   *zap.Logger
}

// NewLLMDetector creates a detector backed by provider.
func NewLLMDetector(provider llm.Provider, cfg LLMDetectorConfig, logger *zap.Logger) *LLMDetector {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &LLMDetector{
		llm:      provider,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		fallback: NewPatternDetector(),
		logger:   logging.OrNop(logger).Named("llm_detector"),
	}
}

const contradictionSystemPrompt = `You compare two notes from an engineering knowledge base.
Decide whether the NEW note contradicts, corrects, replaces or deprecates the EXISTING note.
Answer with JSON only:
{"contradiction": true|false, "type": "negation|replacement|deprecation|correction|clarification|prohibition|obsolescence|explicit", "confidence": 0.0-1.0, "description": "short reason"}`

type llmContradiction struct {
	Contradiction bool    `json:"contradiction"`
	Type          string  `json:"type"`
	Confidence    float64 `json:"confidence"`
	Description   string  `json:"description"`
}

// Detect implements ContradictionDetector.
func (d *LLMDetector) Detect(ctx context.Context, newContent, existingContent string) (Contradiction, error) {
	if d.llm == nil || newContent == "" || existingContent == "" {
		return d.fallback.Detect(ctx, newContent, existingContent)
	}

	result, err := d.ask(ctx, newContent, existingContent)
	if err != nil {
		if ctx.Err() != nil {
			return Contradiction{}, ctx.Err()
		}
		d.logger.Warn("llm contradiction check failed, falling back", zap.Error(err))
		return d.fallback.Detect(ctx, newContent, existingContent)
	}
	return result, nil
}

func (d *LLMDetector) ask(ctx context.Context, newContent, existingContent string) (Contradiction, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return Contradiction{}, fmt.Errorf("rate limit: %w", err)
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: contradictionSystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf("EXISTING:\n%s\n\nNEW:\n%s", existingContent, newContent)},
	}
	response, err := d.llm.GenerateWithMessages(ctx, messages, llm.WithTemperature(0), llm.WithMaxTokens(200))
	if err != nil {
		return Contradiction{}, err
	}
	return parseContradictionResponse(response)
}

func parseContradictionResponse(response string) (Contradiction, error) {
	response = removeCodeBlocks(response)
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return Contradiction{}, errors.New("no JSON object in response")
	}

	var parsed llmContradiction
	if err := json.Unmarshal([]byte(response[start:end+1]), &parsed); err != nil {
		return Contradiction{}, fmt.Errorf("invalid JSON response: %w", err)
	}
	if !parsed.Contradiction {
		return Contradiction{}, nil
	}

	kind := strings.ToLower(strings.TrimSpace(parsed.Type))
	if !knownContradictionType(kind) {
		kind = "explicit"
	}
	confidence := clamp01(parsed.Confidence)
	if confidence == 0 {
		confidence = 0.5
	}
	return Contradiction{
		Detected:    true,
		Type:        kind,
		Description: parsed.Description,
		Confidence:  confidence,
	}, nil
}

func knownContradictionType(kind string) bool {
	for _, p := range contradictionPatterns {
		if p.kind == kind {
			return true
		}
	}
	return false
}

// removeCodeBlocks strips markdown fences around a JSON answer.
func removeCodeBlocks(response string) string {
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")
	return strings.TrimSpace(response)
}
