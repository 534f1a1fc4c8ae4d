package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/contextrag/internal/embedder"
	"github.com/dshills/contextrag/internal/storage"
	"github.com/dshills/contextrag/internal/vectorindex"
	"github.com/dshills/contextrag/pkg/types"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ".contextrag", cfg.CacheDir)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, storage.BackendFile, cfg.Store.Backend)
	assert.Equal(t, vectorindex.DefaultCapacity, cfg.Index.Capacity)
	assert.Equal(t, 16, cfg.Index.M)
	assert.Equal(t, 50, cfg.Indexer.WindowSize)
	assert.Equal(t, 100*1024, cfg.Indexer.MaxFileSize)
	assert.Contains(t, cfg.Indexer.SkipDirs, "node_modules")
	assert.Equal(t, 0.30, cfg.Cache.StructuralThreshold)
	assert.Equal(t, 4000, cfg.Tokens.ResponseReserve)
	assert.Equal(t, 0.4, cfg.Tokens.HistoryShare)
	assert.Equal(t, embedder.DefaultTimeout, cfg.Embedding.Timeout)
	assert.Equal(t, TokenizerChars, cfg.Tokenizer)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contextrag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cache_dir: /var/cache/contextrag
log:
  level: debug
embedding:
  provider: local
  dimension: 128
  timeout: 5s
store:
  backend: bolt
index:
  capacity: 5000
tokens:
  history_share: 0.5
  adaptive_split: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "local", cfg.Embedding.Provider)
	assert.Equal(t, 128, cfg.Embedding.Dimension)
	assert.Equal(t, 5*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, storage.BackendBolt, cfg.Store.Backend)
	assert.Equal(t, 5000, cfg.Index.Capacity)
	assert.Equal(t, 0.5, cfg.Tokens.HistoryShare)
	assert.True(t, cfg.Tokens.AdaptiveSplit)
	assert.Equal(t, "/var/cache/contextrag", cfg.IndexDir("/src/project"))
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("CONTEXTRAG_EMBEDDING_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CONTEXTRAG_INDEX_CAPACITY", "42")
	t.Setenv("CONTEXTRAG_STORE_BACKEND", "redis")
	t.Setenv("CONTEXTRAG_STORE_REDIS_ADDR", "cache:6379")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, "sk-test", cfg.Embedding.OpenAIAPIKey)
	assert.Equal(t, 42, cfg.Index.Capacity)
	assert.Equal(t, "cache:6379", cfg.StoreOptions("/tmp").RedisAddr)

	ec := cfg.EmbedderConfig()
	assert.Equal(t, embedder.ProviderOpenAI, embedder.DetectProvider(ec))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "cohere" }},
		{"negative dimension", func(c *Config) { c.Embedding.Dimension = -1 }},
		{"unknown backend", func(c *Config) { c.Store.Backend = "s3" }},
		{"redis without addr", func(c *Config) { c.Store.Backend = "redis"; c.Store.RedisAddr = "" }},
		{"zero capacity", func(c *Config) { c.Index.Capacity = 0 }},
		{"zero max file size", func(c *Config) { c.Indexer.MaxFileSize = 0 }},
		{"threshold out of range", func(c *Config) { c.Cache.StructuralThreshold = 1.5 }},
		{"unknown tokenizer", func(c *Config) { c.Tokenizer = "bpe" }},
		{"history share above one", func(c *Config) { c.Tokens.HistoryShare = 1.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), types.ErrConfiguration)
		})
	}
}

func TestDerivedConfigs(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("/src/app", ".contextrag"), cfg.IndexDir("/src/app"))

	ic := cfg.IndexerConfig()
	assert.Equal(t, ".contextrag", ic.CacheDirName)
	assert.Equal(t, cfg.Indexer.Extensions, ic.Extensions)

	vc := cfg.VectorIndexConfig("/tmp/idx", 384)
	assert.Equal(t, 384, vc.Dimension)
	assert.Equal(t, "/tmp/idx", vc.Dir)
	assert.Equal(t, 200, vc.EfConstruction)
}
