package core_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memrank "github.com/oceanbase/memrank-go/pkg/core"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := memrank.DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Store.Provider)
	assert.Equal(t, 5, cfg.Gate.CandidateLimit)
	assert.Equal(t, "general", cfg.Gate.DefaultContextType)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*memrank.Config)
	}{
		{"store provider", func(c *memrank.Config) { c.Store.Provider = "mongo" }},
		{"embedder provider", func(c *memrank.Config) { c.Embedder.Provider = "cohere" }},
		{"llm provider", func(c *memrank.Config) { c.LLM.Provider = "nope" }},
		{"negative weight", func(c *memrank.Config) { c.Ranking.Weights.Similarity = -1 }},
		{"log level", func(c *memrank.Config) { c.Logging.Level = "loud" }},
		{"working memory capacity", func(c *memrank.Config) { c.WorkingMemory.Capacity = -3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := memrank.DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, memrank.ErrInvalidConfig)
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DATABASE_PROVIDER", "postgres")
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_PORT", "6543")
	t.Setenv("SNOWFLAKE_NODE_ID", "7")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := memrank.LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Provider)
	assert.Equal(t, "db.internal", cfg.Store.Postgres.Host)
	assert.Equal(t, 6543, cfg.Store.Postgres.Port)
	assert.Equal(t, int64(7), cfg.Store.NodeID)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memrank.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  provider: sqlite
  sqlite:
    path: /tmp/memrank-test.db
archival:
  batch_size: 10
  scan_interval: 30m
workingmemory:
  capacity: 12
gate:
  candidate_limit: 3
`), 0o600))
	t.Setenv("MEMRANK_ARCHIVAL_BATCH_SIZE", "25")

	cfg, err := memrank.LoadConfigFromYAML(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/memrank-test.db", cfg.Store.SQLite.Path)
	assert.Equal(t, 25, cfg.Archival.BatchSize)
	assert.Equal(t, 30*time.Minute, cfg.Archival.ScanInterval)
	assert.Equal(t, 12, cfg.WorkingMemory.Capacity)
	assert.Equal(t, 3, cfg.Gate.CandidateLimit)

	// Untouched sections keep their defaults.
	def := memrank.DefaultConfig()
	assert.Equal(t, def.Ranking, cfg.Ranking)
	assert.Equal(t, def.Checkpoint.MaxCheckpoints, cfg.Checkpoint.MaxCheckpoints)
}

func TestLoadConfigFromYAMLMissingFile(t *testing.T) {
	cfg, err := memrank.LoadConfigFromYAML(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, memrank.DefaultConfig().Store, cfg.Store)
}

func TestLoadConfigFromJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memrank.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"gate": {"candidate_limit": 9}}`), 0o600))

	cfg, err := memrank.LoadConfigFromJSON(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Gate.CandidateLimit)
	assert.Equal(t, "sqlite", cfg.Store.Provider)

	_, err = memrank.LoadConfigFromJSON(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
