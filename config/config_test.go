package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/webmem/types"
)

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ScopeSession, cfg.Store.Scope)
	assert.Equal(t, "hash", cfg.Embedding.Provider)
	assert.Equal(t, 384, cfg.Embedding.Dimensions)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, 250, cfg.Chunking.TargetTokens)
	assert.Equal(t, RetentionNone, cfg.Retention.Policy)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := NewLoader().WithConfigPath("does-not-exist.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "webmem.yaml")
	content := `
store:
  scope: durable
  path: /tmp/webmem-test.db
embedding:
  provider: hash
  dimensions: 128
retrieval:
  top_k: 5
retention:
  policy: max-snapshots
  max_snapshots: 100
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, ScopeDurable, cfg.Store.Scope)
	assert.Equal(t, "/tmp/webmem-test.db", cfg.Store.Path)
	assert.Equal(t, 128, cfg.Embedding.Dimensions)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, RetentionMaxSnapshots, cfg.Retention.Policy)
	assert.Equal(t, 100, cfg.Retention.MaxSnapshots)

	// Untouched sections keep their defaults.
	assert.Equal(t, 6, cfg.Retrieval.CandidateMultiplier)
	assert.Equal(t, 250, cfg.Chunking.TargetTokens)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	t.Setenv("WEBMEM_STORE_SCOPE", "session")
	t.Setenv("WEBMEM_RETRIEVAL_TOP_K", "7")
	t.Setenv("WEBMEM_EMBEDDING_TIMEOUT", "10s")
	t.Setenv("WEBMEM_EMBEDDING_REQUESTS_PER_SECOND", "2.5")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, ScopeSession, cfg.Store.Scope)
	assert.Equal(t, 7, cfg.Retrieval.TopK)
	assert.Equal(t, 10*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, 2.5, cfg.Embedding.RequestsPerSecond)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_CHUNKING_TARGET_TOKENS", "200")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Chunking.TargetTokens)
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "unknown scope", mutate: func(c *Config) { c.Store.Scope = "cluster" }},
		{name: "durable without path", mutate: func(c *Config) { c.Store.Scope = ScopeDurable; c.Store.Path = "" }},
		{name: "redis without addr", mutate: func(c *Config) { c.Store.Scope = ScopeRedis; c.Store.Redis.Addr = "" }},
		{name: "unknown provider", mutate: func(c *Config) { c.Embedding.Provider = "cohere" }},
		{name: "hash without dimensions", mutate: func(c *Config) { c.Embedding.Dimensions = 0 }},
		{name: "openai without key", mutate: func(c *Config) { c.Embedding.Provider = "openai"; c.Embedding.APIKey = "" }},
		{name: "zero top_k", mutate: func(c *Config) { c.Retrieval.TopK = 0 }},
		{name: "zero multiplier", mutate: func(c *Config) { c.Retrieval.CandidateMultiplier = 0 }},
		{name: "zero target tokens", mutate: func(c *Config) { c.Chunking.TargetTokens = 0 }},
		{name: "unknown retention policy", mutate: func(c *Config) { c.Retention.Policy = "lru" }},
		{name: "max-snapshots without limit", mutate: func(c *Config) { c.Retention.Policy = RetentionMaxSnapshots }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
		})
	}
}
