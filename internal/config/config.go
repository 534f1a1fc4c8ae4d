// Package config loads contextrag settings from defaults, an optional YAML file,
// a .env file and CONTEXTRAG_ environment variables, in increasing precedence.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/dshills/contextrag/internal/embedcache"
	"github.com/dshills/contextrag/internal/embedder"
	"github.com/dshills/contextrag/internal/indexer"
	"github.com/dshills/contextrag/internal/storage"
	"github.com/dshills/contextrag/internal/tokens"
	"github.com/dshills/contextrag/internal/vectorindex"
	"github.com/dshills/contextrag/pkg/types"
)

// EnvPrefix prefixes every environment override, e.g. CONTEXTRAG_EMBEDDING_PROVIDER
const EnvPrefix = "CONTEXTRAG"

// Config holds all configuration for the application
type Config struct {
	CacheDir  string          `mapstructure:"cache_dir"`
	Log       LogConfig       `mapstructure:"log"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Store     StoreConfig     `mapstructure:"store"`
	Index     IndexConfig     `mapstructure:"index"`
	Indexer   IndexerConfig   `mapstructure:"indexer"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Tokens    tokens.Config   `mapstructure:"tokens"`

	// Tokenizer selects the token estimator: chars or tiktoken
	Tokenizer string `mapstructure:"tokenizer"`
}

// Tokenizer names
const (
	TokenizerChars    = "chars"
	TokenizerTiktoken = "tiktoken"
)

// LogConfig holds logging configuration
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

// EmbeddingConfig holds embedding provider configuration
type EmbeddingConfig struct {
	Provider     string        `mapstructure:"provider"`
	Model        string        `mapstructure:"model"`
	BaseURL      string        `mapstructure:"base_url"`
	Dimension    int           `mapstructure:"dimension"`
	OpenAIAPIKey string        `mapstructure:"openai_api_key"`
	JinaAPIKey   string        `mapstructure:"jina_api_key"`
	CacheSize    int           `mapstructure:"cache_size"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// StoreConfig selects the embedding cache backend
type StoreConfig struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

// IndexConfig holds vector index parameters
type IndexConfig struct {
	Capacity       int `mapstructure:"capacity"`
	M              int `mapstructure:"m"`
	EfConstruction int `mapstructure:"ef_construction"`
	EfSearch       int `mapstructure:"ef_search"`
}

// IndexerConfig holds file walk settings
type IndexerConfig struct {
	WindowSize  int      `mapstructure:"window_size"`
	MaxFileSize int      `mapstructure:"max_file_size"`
	SkipDirs    []string `mapstructure:"skip_dirs"`
	Extensions  []string `mapstructure:"extensions"`
}

// CacheConfig holds incremental embedding settings
type CacheConfig struct {
	StructuralThreshold float64 `mapstructure:"structural_threshold"`
}

// Load reads configuration. An empty configPath uses defaults and the
// environment only. A .env file in the working directory is loaded first
// when present.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Provider keys are also accepted under their conventional names
	if err := v.BindEnv("embedding.openai_api_key", EnvPrefix+"_EMBEDDING_OPENAI_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}
	if err := v.BindEnv("embedding.jina_api_key", EnvPrefix+"_EMBEDDING_JINA_API_KEY", "JINA_API_KEY"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("cache_dir", ".contextrag")

	v.SetDefault("tokenizer", TokenizerChars)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", false)

	// Embedding defaults; an empty provider is detected from the API keys
	v.SetDefault("embedding.provider", "")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.dimension", 0)
	v.SetDefault("embedding.cache_size", embedder.DefaultCacheSize)
	v.SetDefault("embedding.timeout", embedder.DefaultTimeout)
	v.SetDefault("embedding.max_retries", 3)

	v.SetDefault("store.backend", storage.BackendFile)
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.redis_prefix", "")

	v.SetDefault("index.capacity", vectorindex.DefaultCapacity)
	v.SetDefault("index.m", vectorindex.DefaultM)
	v.SetDefault("index.ef_construction", vectorindex.DefaultEfConstruction)
	v.SetDefault("index.ef_search", vectorindex.DefaultEfSearch)

	ic := indexer.DefaultConfig()
	v.SetDefault("indexer.window_size", ic.WindowSize)
	v.SetDefault("indexer.max_file_size", ic.MaxFileSize)
	v.SetDefault("indexer.skip_dirs", ic.SkipDirs)
	v.SetDefault("indexer.extensions", ic.Extensions)

	v.SetDefault("cache.structural_threshold", embedcache.DefaultStructuralThreshold)

	// Model limits are left to tokens.DefaultModelLimits: viper would split
	// dotted model names such as gpt-5.2 into nested keys
	tc := tokens.DefaultConfig()
	v.SetDefault("tokens.chars_per_token", tc.CharsPerToken)
	v.SetDefault("tokens.response_reserve", tc.ResponseReserve)
	v.SetDefault("tokens.min_context_tokens", tc.MinContextTokens)
	v.SetDefault("tokens.message_overhead", tc.MessageOverhead)
	v.SetDefault("tokens.chunk_overhead", tc.ChunkOverhead)
	v.SetDefault("tokens.formatting_overhead", tc.FormattingOverhead)
	v.SetDefault("tokens.history_share", tc.HistoryShare)
	v.SetDefault("tokens.keep_min_messages", tc.KeepMinMessages)
	v.SetDefault("tokens.max_message_tokens", tc.MaxMessageTokens)
	v.SetDefault("tokens.forced_truncate_tokens", tc.ForcedTruncateTokens)
	v.SetDefault("tokens.adaptive_split", tc.AdaptiveSplit)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: invalid log level %q", types.ErrConfiguration, c.Log.Level)
	}

	switch strings.ToLower(c.Embedding.Provider) {
	case "", embedder.ProviderOpenAI, embedder.ProviderJina, embedder.ProviderLocal:
	default:
		return fmt.Errorf("%w: unknown embedding provider %q", types.ErrConfiguration, c.Embedding.Provider)
	}
	if c.Embedding.Dimension < 0 {
		return fmt.Errorf("%w: embedding dimension must not be negative", types.ErrConfiguration)
	}

	switch c.Store.Backend {
	case storage.BackendFile, storage.BackendSQLite, storage.BackendBolt:
	case storage.BackendRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("%w: redis backend requires store.redis_addr", types.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown store backend %q", types.ErrConfiguration, c.Store.Backend)
	}

	if c.Index.Capacity <= 0 {
		return fmt.Errorf("%w: index capacity must be positive", types.ErrConfiguration)
	}
	if c.Indexer.MaxFileSize <= 0 {
		return fmt.Errorf("%w: indexer max file size must be positive", types.ErrConfiguration)
	}
	if t := c.Cache.StructuralThreshold; t <= 0 || t >= 1 {
		return fmt.Errorf("%w: structural threshold must be in (0, 1)", types.ErrConfiguration)
	}
	if c.Tokenizer != TokenizerChars && c.Tokenizer != TokenizerTiktoken {
		return fmt.Errorf("%w: unknown tokenizer %q", types.ErrConfiguration, c.Tokenizer)
	}
	// 0 selects the default share and a negative share gives history no budget
	if c.Tokens.HistoryShare > 1 {
		return fmt.Errorf("%w: history share must not exceed 1", types.ErrConfiguration)
	}

	return nil
}

// IndexDir returns the directory holding index and cache state for root
func (c *Config) IndexDir(root string) string {
	if filepath.IsAbs(c.CacheDir) {
		return c.CacheDir
	}
	return filepath.Join(root, c.CacheDir)
}

// EmbedderConfig returns the provider factory settings
func (c *Config) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Provider:     c.Embedding.Provider,
		OpenAIAPIKey: c.Embedding.OpenAIAPIKey,
		JinaAPIKey:   c.Embedding.JinaAPIKey,
		Model:        c.Embedding.Model,
		BaseURL:      c.Embedding.BaseURL,
		Dimension:    c.Embedding.Dimension,
		CacheSize:    c.Embedding.CacheSize,
		Timeout:      c.Embedding.Timeout,
		MaxRetries:   c.Embedding.MaxRetries,
	}
}

// StoreOptions returns the embedding store settings rooted at dir
func (c *Config) StoreOptions(dir string) storage.Options {
	return storage.Options{
		Backend:       c.Store.Backend,
		Dir:           dir,
		RedisAddr:     c.Store.RedisAddr,
		RedisPassword: c.Store.RedisPassword,
		RedisDB:       c.Store.RedisDB,
		RedisPrefix:   c.Store.RedisPrefix,
	}
}

// VectorIndexConfig returns index settings for vectors of the given dimension
func (c *Config) VectorIndexConfig(dir string, dimension int) vectorindex.Config {
	return vectorindex.Config{
		Dimension:      dimension,
		Capacity:       c.Index.Capacity,
		M:              c.Index.M,
		EfConstruction: c.Index.EfConstruction,
		EfSearch:       c.Index.EfSearch,
		Dir:            dir,
	}
}

// IndexerConfig returns walk settings. The cache directory is always skipped.
func (c *Config) IndexerConfig() indexer.Config {
	return indexer.Config{
		WindowSize:   c.Indexer.WindowSize,
		MaxFileSize:  c.Indexer.MaxFileSize,
		SkipDirs:     c.Indexer.SkipDirs,
		Extensions:   c.Indexer.Extensions,
		CacheDirName: filepath.Base(c.CacheDir),
	}
}
