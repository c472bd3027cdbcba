package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/oceanbase/memrank-go/pkg/archival"
	"github.com/oceanbase/memrank-go/pkg/checkpoint"
	"github.com/oceanbase/memrank-go/pkg/intelligence"
	openaiLLM "github.com/oceanbase/memrank-go/pkg/llm/openai"
	"github.com/oceanbase/memrank-go/pkg/logging"
	"github.com/oceanbase/memrank-go/pkg/ranking"
	"github.com/oceanbase/memrank-go/pkg/search"
	"github.com/oceanbase/memrank-go/pkg/workingmemory"
)

// EnvPrefix prefixes environment overrides applied by LoadConfigFromYAML.
const EnvPrefix = "MEMRANK_"

const maxConfigFileSize = 1 << 20

// Config contains the complete configuration for a memrank client.
//
// Example:
//
//	cfg := core.DefaultConfig()
//	cfg.Store.Provider = "sqlite"
//	cfg.Store.SQLite.Path = "./memrank.db"
//	client, err := core.NewClient(cfg)
type Config struct {
	Store    StoreConfig    `json:"store" koanf:"store"`
	Embedder EmbedderConfig `json:"embedder" koanf:"embedder"`
	LLM      LLMConfig      `json:"llm" koanf:"llm"`

	// Retention tunes the tier classifier and decay half-lives.
	Retention intelligence.ClassifierConfig `json:"retention" koanf:"retention"`

	Ranking       ranking.Config       `json:"ranking" koanf:"ranking"`
	Archival      archival.Config      `json:"archival" koanf:"archival"`
	WorkingMemory workingmemory.Config `json:"working_memory" koanf:"workingmemory"`
	Gate          GateConfig           `json:"gate" koanf:"gate"`
	Checkpoint    checkpoint.Config    `json:"checkpoint" koanf:"checkpoint"`
	Background    BackgroundConfig     `json:"background" koanf:"background"`
	Logging       logging.Config       `json:"logging" koanf:"logging"`
}

// StoreConfig selects and configures the relational store.
//
// Supported providers: sqlite, postgres, oceanbase.
type StoreConfig struct {
	Provider string `json:"provider" koanf:"provider"`

	// NodeID is the snowflake node used for generated ids.
	NodeID int64 `json:"node_id" koanf:"node_id"`

	SQLite    SQLiteConfig   `json:"sqlite" koanf:"sqlite"`
	Postgres  DatabaseConfig `json:"postgres" koanf:"postgres"`
	OceanBase DatabaseConfig `json:"oceanbase" koanf:"oceanbase"`
}

// SQLiteConfig holds the SQLite database path.
type SQLiteConfig struct {
	Path string `json:"path" koanf:"path"`
}

// DatabaseConfig holds a network database connection.
type DatabaseConfig struct {
	Host     string `json:"host" koanf:"host"`
	Port     int    `json:"port" koanf:"port"`
	User     string `json:"user" koanf:"user"`
	Password string `json:"password" koanf:"password"`
	DBName   string `json:"db_name" koanf:"db_name"`
	SSLMode  string `json:"ssl_mode,omitempty" koanf:"ssl_mode"`
}

// EmbedderConfig configures the embedding provider. An empty provider
// disables embeddings and search falls back to lexical similarity.
type EmbedderConfig struct {
	Provider   string `json:"provider" koanf:"provider"`
	APIKey     string `json:"api_key" koanf:"api_key"`
	BaseURL    string `json:"base_url,omitempty" koanf:"base_url"`
	Dimensions int    `json:"dimensions,omitempty" koanf:"dimensions"`

	RequestsPerSecond float64 `json:"requests_per_second" koanf:"requests_per_second"`
	Burst             int     `json:"burst" koanf:"burst"`

	// CacheMaxAge evicts cached embeddings unused for longer at startup;
	// zero keeps them forever.
	CacheMaxAge time.Duration `json:"cache_max_age" koanf:"cache_max_age"`

	Index search.VectorConfig `json:"index" koanf:"index"`
}

// LLMConfig configures the OpenAI-compatible LLM used for contradiction
// checks and importance scoring. An empty provider disables it.
//
// Supported providers: openai, deepseek, qwen, ollama.
type LLMConfig struct {
	Provider string `json:"provider" koanf:"provider"`
	APIKey   string `json:"api_key" koanf:"api_key"`
	Model    string `json:"model" koanf:"model"`
	BaseURL  string `json:"base_url,omitempty" koanf:"base_url"`

	RequestsPerSecond float64 `json:"requests_per_second" koanf:"requests_per_second"`
	Burst             int     `json:"burst" koanf:"burst"`
}

// GateConfig tunes the write path.
type GateConfig struct {
	// CandidateLimit is how many similar memories the gate compares.
	CandidateLimit int `json:"candidate_limit" koanf:"candidate_limit"`

	UseLLMContradiction bool `json:"use_llm_contradiction" koanf:"use_llm_contradiction"`
	UseLLMImportance    bool `json:"use_llm_importance" koanf:"use_llm_importance"`

	DefaultContextType string `json:"default_context_type" koanf:"default_context_type"`
}

// BackgroundConfig enables the periodic jobs started by NewClient.
type BackgroundConfig struct {
	ArchivalScan       bool `json:"archival_scan" koanf:"archival_scan"`
	WorkingMemoryDecay bool `json:"working_memory_decay" koanf:"working_memory_decay"`
}

// DefaultConfig returns a local SQLite configuration with every LLM feature
// disabled.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Provider: "sqlite",
			NodeID:   1,
			SQLite:   SQLiteConfig{Path: "./memrank.db"},
			Postgres: DatabaseConfig{
				Host: "localhost", Port: 5432, User: "postgres", DBName: "memrank", SSLMode: "disable",
			},
			OceanBase: DatabaseConfig{
				Host: "127.0.0.1", Port: 2881, User: "root@sys", DBName: "memrank",
			},
		},
		Embedder: EmbedderConfig{
			RequestsPerSecond: 5,
			Burst:             5,
			CacheMaxAge:       30 * 24 * time.Hour,
			Index:             search.VectorConfig{Collection: search.DefaultCollection},
		},
		LLM:           LLMConfig{RequestsPerSecond: 2, Burst: 2},
		Retention:     intelligence.DefaultClassifierConfig(),
		Ranking:       ranking.DefaultConfig(),
		Archival:      archival.DefaultConfig(),
		WorkingMemory: workingmemory.DefaultConfig(),
		Gate: GateConfig{
			CandidateLimit:     5,
			DefaultContextType: "general",
		},
		Checkpoint: checkpoint.DefaultConfig(),
		Logging:    logging.DefaultConfig(),
	}
}

// intelligenceConfig maps the gate and retention sections onto the decision
// components.
func (c *Config) intelligenceConfig() *intelligence.Config {
	ic := intelligence.DefaultConfig()
	ic.Classifier = c.Retention
	ic.UseLLMContradiction = c.Gate.UseLLMContradiction
	ic.UseLLMImportance = c.Gate.UseLLMImportance
	ic.LLMDetector.RequestsPerSecond = c.LLM.RequestsPerSecond
	ic.LLMDetector.Burst = c.LLM.Burst
	if c.Gate.DefaultContextType != "" {
		ic.DefaultContextType = c.Gate.DefaultContextType
	}
	return ic
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// A .env or .env.example file is searched for up to 5 directory levels up
// and loaded first. Supported variables:
//   - DATABASE_PROVIDER (sqlite, postgres, oceanbase), SNOWFLAKE_NODE_ID
//   - SQLITE_PATH
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD,
//     POSTGRES_DATABASE, POSTGRES_SSLMODE
//   - OCEANBASE_HOST, OCEANBASE_PORT, OCEANBASE_USER, OCEANBASE_PASSWORD,
//     OCEANBASE_DATABASE
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_BASE_URL, EMBEDDING_DIMS
//   - LLM_PROVIDER, LLM_API_KEY, LLM_MODEL, LLM_BASE_URL
//   - LOG_LEVEL, LOG_FORMAT, MEMRANK_REPO_PATH
func LoadConfigFromEnv() (*Config, error) {
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	cfg.Store.Provider = getEnvOrDefault("DATABASE_PROVIDER", cfg.Store.Provider)
	cfg.Store.NodeID = int64(getEnvInt("SNOWFLAKE_NODE_ID", int(cfg.Store.NodeID)))
	cfg.Store.SQLite.Path = getEnvOrDefault("SQLITE_PATH", cfg.Store.SQLite.Path)

	pg := &cfg.Store.Postgres
	pg.Host = getEnvOrDefault("POSTGRES_HOST", pg.Host)
	pg.Port = getEnvInt("POSTGRES_PORT", pg.Port)
	pg.User = getEnvOrDefault("POSTGRES_USER", pg.User)
	pg.Password = os.Getenv("POSTGRES_PASSWORD")
	pg.DBName = getEnvOrDefault("POSTGRES_DATABASE", pg.DBName)
	pg.SSLMode = getEnvOrDefault("POSTGRES_SSLMODE", pg.SSLMode)

	ob := &cfg.Store.OceanBase
	ob.Host = getEnvOrDefault("OCEANBASE_HOST", ob.Host)
	ob.Port = getEnvInt("OCEANBASE_PORT", ob.Port)
	ob.User = getEnvOrDefault("OCEANBASE_USER", ob.User)
	ob.Password = os.Getenv("OCEANBASE_PASSWORD")
	ob.DBName = getEnvOrDefault("OCEANBASE_DATABASE", ob.DBName)

	cfg.Embedder.Provider = os.Getenv("EMBEDDING_PROVIDER")
	cfg.Embedder.APIKey = os.Getenv("EMBEDDING_API_KEY")
	cfg.Embedder.BaseURL = os.Getenv("EMBEDDING_BASE_URL")
	cfg.Embedder.Dimensions = getEnvInt("EMBEDDING_DIMS", 0)

	cfg.LLM.Provider = os.Getenv("LLM_PROVIDER")
	cfg.LLM.APIKey = os.Getenv("LLM_API_KEY")
	cfg.LLM.Model = os.Getenv("LLM_MODEL")
	cfg.LLM.BaseURL = os.Getenv("LLM_BASE_URL")

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnvOrDefault("LOG_FORMAT", cfg.Logging.Format)
	cfg.Checkpoint.RepoPath = getEnvOrDefault("MEMRANK_REPO_PATH", cfg.Checkpoint.RepoPath)

	return cfg, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file on top of
// DefaultConfig.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}
	return cfg, nil
}

// LoadConfigFromYAML loads a YAML file on top of DefaultConfig, then applies
// MEMRANK_ environment overrides.
//
// Precedence (highest first):
//  1. Environment variables (MEMRANK_STORE_PROVIDER, MEMRANK_ARCHIVAL_BATCH_SIZE, ...)
//  2. The YAML file, when path is non-empty and exists
//  3. DefaultConfig
//
// Environment keys split on the first underscore after the prefix into
// section and field: MEMRANK_WORKINGMEMORY_DECAY_RATE -> workingmemory.decay_rate.
func LoadConfigFromYAML(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, NewMemoryError("LoadConfigFromYAML", err)
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, NewMemoryError("LoadConfigFromYAML", fmt.Errorf("parse %s: %w", path, err))
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, NewMemoryError("LoadConfigFromYAML", fmt.Errorf("load environment: %w", err))
	}

	cfg := DefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, NewMemoryError("LoadConfigFromYAML", fmt.Errorf("unmarshal: %w", err))
	}
	return cfg, nil
}

// readConfigFile returns nil content for a missing file.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	return io.ReadAll(f)
}

// envKey maps MEMRANK_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// Validate checks provider names and the tunable sections.
func (c *Config) Validate() error {
	switch c.Store.Provider {
	case "sqlite", "postgres", "oceanbase":
	default:
		return NewMemoryError("Validate", fmt.Errorf("%w: unknown store provider %q", ErrInvalidConfig, c.Store.Provider))
	}
	switch c.Embedder.Provider {
	case "", "openai":
	default:
		return NewMemoryError("Validate", fmt.Errorf("%w: unknown embedder provider %q", ErrInvalidConfig, c.Embedder.Provider))
	}
	if c.LLM.Provider != "" {
		if _, ok := openaiLLM.Presets[c.LLM.Provider]; !ok {
			return NewMemoryError("Validate", fmt.Errorf("%w: unknown llm provider %q", ErrInvalidConfig, c.LLM.Provider))
		}
	}
	if err := c.WorkingMemory.Validate(); err != nil {
		return NewMemoryError("Validate", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	w := c.Ranking.Weights
	for _, v := range []float64{w.Similarity, w.Importance, w.Recency, w.Popularity, w.TierBoost} {
		if v < 0 {
			return NewMemoryError("Validate", fmt.Errorf("%w: negative ranking weight", ErrInvalidConfig))
		}
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return NewMemoryError("Validate", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

// FindEnvFile searches the current directory and up to 5 parent directories
// for .env, then .env.example, and returns the first match.
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
