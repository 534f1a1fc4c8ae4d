package embedder

import (
	"fmt"
	"strings"
	"time"
)

// Config holds embedder configuration
type Config struct {
	Provider     string // jina, openai, local or empty for auto-detect
	OpenAIAPIKey string
	JinaAPIKey   string
	Model        string
	BaseURL      string
	Dimension    int
	CacheSize    int
	Timeout      time.Duration
	MaxRetries   int
}

// New creates an embedder with explicit configuration
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	opts := ProviderOptions{
		Model:     cfg.Model,
		BaseURL:   cfg.BaseURL,
		Dimension: cfg.Dimension,
		Timeout:   cfg.Timeout,
		Cache:     cache,
	}
	if cfg.MaxRetries > 0 {
		opts.Retry = DefaultRetryConfig()
		opts.Retry.MaxRetries = cfg.MaxRetries
	}

	switch DetectProvider(cfg) {
	case ProviderJina:
		opts.APIKey = cfg.JinaAPIKey
		return NewJinaProvider(opts)
	case ProviderOpenAI:
		opts.APIKey = cfg.OpenAIAPIKey
		return NewOpenAIProvider(opts)
	case ProviderLocal:
		return NewLocalProvider(cfg.Dimension, cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider returns the provider New would build for cfg.
// Priority: explicit provider, then OpenAI key, then Jina key, then local.
func DetectProvider(cfg Config) string {
	if cfg.Provider != "" {
		return strings.ToLower(cfg.Provider)
	}

	if cfg.OpenAIAPIKey != "" {
		return ProviderOpenAI
	}
	if cfg.JinaAPIKey != "" {
		return ProviderJina
	}

	return ProviderLocal
}
