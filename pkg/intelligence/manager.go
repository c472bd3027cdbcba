package intelligence

import (
	"context"

	"go.uber.org/zap"

	"github.com/oceanbase/memrank-go/pkg/llm"
	"github.com/oceanbase/memrank-go/pkg/logging"
	"github.com/oceanbase/memrank-go/pkg/storage"
)

// Manager bundles the decision components used on the write and read paths.
//
// It integrates:
//   - Classifier: freshness states and archival eligibility
//   - Gate: the prediction-error write gate
//   - ImportanceEvaluator: default importance weights for new memories
//
// Example usage:
//
//	manager := NewManager(provider, DefaultConfig(), logger)
//	manager.PrepareMemory(ctx, mem, false)
//	decision, err := manager.Gate.Evaluate(ctx, input)
type Manager struct {
	Classifier *Classifier
	Gate       *Gate
	Importance *ImportanceEvaluator

	config *Config
	logger *zap.Logger
}

// Config contains configuration for the decision components.
type Config struct {
	Classifier ClassifierConfig `json:"classifier" koanf:"classifier"`

	// UseLLMContradiction routes contradiction checks through the LLM
	// provider, with the pattern catalogue as fallback.
	UseLLMContradiction bool              `json:"use_llm_contradiction" koanf:"use_llm_contradiction"`
	LLMDetector         LLMDetectorConfig `json:"llm_detector" koanf:"llm_detector"`

	// UseLLMImportance lets the evaluator ask the LLM for importance.
	UseLLMImportance bool `json:"use_llm_importance" koanf:"use_llm_importance"`

	// DefaultContextType is assigned to memories saved without one.
	DefaultContextType string `json:"default_context_type" koanf:"default_context_type"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Classifier:         DefaultClassifierConfig(),
		LLMDetector:        LLMDetectorConfig{RequestsPerSecond: 2, Burst: 2},
		DefaultContextType: "general",
	}
}

// NewManager creates the decision components. provider may be nil, in which
// case every LLM-backed path uses its rule-based fallback.
func NewManager(provider llm.Provider, config *Config, logger *zap.Logger) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	logger = logging.OrNop(logger)

	var detector ContradictionDetector = NewPatternDetector()
	if config.UseLLMContradiction && provider != nil {
		detector = NewLLMDetector(provider, config.LLMDetector, logger)
	}

	var importanceLLM llm.Provider
	if config.UseLLMImportance {
		importanceLLM = provider
	}

	return &Manager{
		Classifier: NewClassifier(config.Classifier),
		Gate:       NewGate(detector, logger),
		Importance: NewImportanceEvaluator(importanceLLM, logger),
		config:     config,
		logger:     logger,
	}
}

// PrepareMemory fills defaults on a memory about to be inserted. When
// weightSet is false the importance weight is evaluated from the content.
func (m *Manager) PrepareMemory(ctx context.Context, mem *storage.Memory, weightSet bool) {
	if !mem.ImportanceTier.Valid() {
		mem.ImportanceTier = storage.TierNormal
	}
	if mem.ContextType == "" {
		mem.ContextType = m.config.DefaultContextType
	}
	if mem.Difficulty <= 0 {
		mem.Difficulty = DefaultDifficulty
	}
	if mem.Confidence <= 0 {
		mem.Confidence = 1
	}

	if weightSet {
		mem.ImportanceWeight = clamp01(mem.ImportanceWeight)
		return
	}
	mem.ImportanceWeight = m.Importance.EvaluateImportance(ctx, mem.Content, ImportanceHints{
		ContextType:    mem.ContextType,
		ImportanceTier: mem.ImportanceTier,
		Title:          mem.Title,
	})
}
