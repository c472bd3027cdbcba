package intelligence

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/oceanbase/memrank-go/pkg/llm"
	"github.com/oceanbase/memrank-go/pkg/logging"
	"github.com/oceanbase/memrank-go/pkg/storage"
)

// ImportanceEvaluator estimates the importance weight of new memory content.
//
// It supports two evaluation modes:
//   - LLM-based: asks the model for a score (requires a provider)
//   - Rule-based: keyword and structure heuristics (always available)
//
// The LLM path falls back to rules on any failure. Scores are in [0,1].
//
// Example usage:
//
//	evaluator := NewImportanceEvaluator(provider, logger)
//	weight := evaluator.EvaluateImportance(ctx, "We must never log tokens", hints)
type ImportanceEvaluator struct {
	llm    llm.Provider
	logger *zap.Logger

	// criteriaWeights weights each heuristic in the rule-based score.
	criteriaWeights map[string]float64
}

// ImportanceHints carries memory metadata that shifts the rule-based score.
type ImportanceHints struct {
	ContextType    string
	ImportanceTier storage.ImportanceTier
	Title          string
}

// NewImportanceEvaluator creates an evaluator. provider may be nil.
//
// Default criterion weights:
//   - decisive: 0.25
//   - risk: 0.20
//   - actionable: 0.20
//   - specific: 0.15
//   - factual: 0.10
//   - novelty: 0.10
func NewImportanceEvaluator(provider llm.Provider, logger *zap.Logger) *ImportanceEvaluator {
	return &ImportanceEvaluator{
		llm:    provider,
		logger: logging.OrNop(logger).Named("importance"),
		criteriaWeights: map[string]float64{
			"decisive":   0.25,
			"risk":       0.20,
			"actionable": 0.20,
			"specific":   0.15,
			"factual":    0.10,
			"novelty":    0.10,
		},
	}
}

// EvaluateImportance returns an importance weight in [0,1] for content.
func (e *ImportanceEvaluator) EvaluateImportance(ctx context.Context, content string, hints ImportanceHints) float64 {
	if e.llm != nil {
		score, err := e.evaluateWithLLM(ctx, content)
		if err == nil {
			return score
		}
		e.logger.Debug("llm importance failed, using rules", zap.Error(err))
	}
	return e.evaluateWithRules(content, hints)
}

func (e *ImportanceEvaluator) evaluateWithLLM(ctx context.Context, content string) (float64, error) {
	systemPrompt := `You rate notes stored in a coding agent's long-term memory.
Score how important the note is to remember on a scale from 0.0 to 1.0.
Decisions, constraints, security or data-loss risks and hard-won fixes score high; chatter and transient status score low.
Return a JSON object with an "importance_score" field.`

	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf("Note: %s\n\nReturn JSON: {\"importance_score\": 0.0-1.0}", content)},
	}

	response, err := e.llm.GenerateWithMessages(ctx, messages, llm.WithTemperature(0), llm.WithMaxTokens(50))
	if err != nil {
		return 0.5, err
	}
	return parseImportanceResponse(response), nil
}

// evaluateWithRules blends the weighted criteria with a structural base and
// metadata adjustments.
func (e *ImportanceEvaluator) evaluateWithRules(content string, hints ImportanceHints) float64 {
	if hints.Title != "" {
		content = hints.Title + "\n" + content
	}
	score := 0.2
	for criterion, weight := range e.criteriaWeights {
		score += weight * scoreCriterion(criterion, content)
	}

	switch n := len([]rune(content)); {
	case n > 400:
		score += 0.1
	case n > 120:
		score += 0.05
	case n < 20:
		score -= 0.1
	}

	switch hints.ContextType {
	case "decision":
		score += 0.15
	case "research", "discovery":
		score += 0.05
	}

	switch hints.ImportanceTier {
	case storage.TierConstitutional, storage.TierCritical:
		score += 0.3
	case storage.TierImportant:
		score += 0.15
	case storage.TierTemporary:
		score -= 0.15
	case storage.TierDeprecated:
		score -= 0.3
	}

	return clamp01(score)
}

// GetImportanceBreakdown scores each criterion separately, each in [0,1].
func (e *ImportanceEvaluator) GetImportanceBreakdown(content string) map[string]float64 {
	breakdown := make(map[string]float64, len(e.criteriaWeights))
	for criterion := range e.criteriaWeights {
		breakdown[criterion] = scoreCriterion(criterion, content)
	}
	return breakdown
}

var criterionKeywords = map[string][]string{
	"decisive":   {"decided", "decision", "we will", "always", "never", "must", "chose", "agreed", "convention", "standard"},
	"risk":       {"security", "vulnerab", "secret", "token", "password", "data loss", "breaking", "outage", "incident", "race condition"},
	"actionable": {"todo", "fix", "migrate", "run ", "use ", "avoid", "replace", "upgrade", "configure", "set "},
	"factual":    {"because", "measured", "benchmark", "verified", "confirmed", "root cause", "caused by", "version"},
	"novelty":    {"new", "first", "discovered", "found that", "turns out", "learned"},
}

var (
	codeLike = regexp.MustCompile("`[^`]+`|\\b[a-zA-Z_]+\\.[a-zA-Z_]+\\(|/[a-z0-9_\\-]+/|\\b\\w+\\.(go|ts|py|yaml|json|sql)\\b")
	numeric  = regexp.MustCompile(`\b\d+(\.\d+)?\b`)
	anyScore = regexp.MustCompile(`\d+\.?\d*`)
)

func scoreCriterion(criterion, content string) float64 {
	lower := strings.ToLower(content)
	if criterion == "specific" {
		score := 0.0
		score += 0.2 * float64(min(3, len(codeLike.FindAllString(content, -1))))
		score += 0.1 * float64(min(4, len(numeric.FindAllString(content, -1))))
		return math.Min(score, 1.0)
	}

	keywords := criterionKeywords[criterion]
	if len(keywords) == 0 {
		return 0
	}
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	// Three hits saturate a criterion.
	return math.Min(float64(hits)/3, 1.0)
}

// parseImportanceResponse extracts a score from an LLM answer, defaulting to
// medium importance.
func parseImportanceResponse(response string) float64 {
	if start, end := strings.Index(response, "{"), strings.LastIndex(response, "}"); start >= 0 && end > start {
		var result map[string]interface{}
		if err := json.Unmarshal([]byte(response[start:end+1]), &result); err == nil {
			if score, ok := result["importance_score"].(float64); ok {
				return clamp01(score)
			}
		}
	}

	if match := anyScore.FindString(response); match != "" {
		var score float64
		if _, err := fmt.Sscanf(match, "%f", &score); err == nil {
			return clamp01(score)
		}
	}

	return 0.5
}
