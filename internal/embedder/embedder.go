package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/contextrag/pkg/types"
)

// Common errors
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProviderFailed    = types.ErrProvider
	ErrUnsupportedModel  = fmt.Errorf("%w: unsupported embedding provider", types.ErrConfiguration)
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
	ErrNoProviderEnabled = fmt.Errorf("%w: no embedding provider configured", types.ErrConfiguration)
)

// Embedding represents a vector embedding with metadata
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Hash      string // Content hash for caching
}

// EmbeddingRequest represents a request to generate embeddings
type EmbeddingRequest struct {
	Text  string
	Model string // Optional: override default model
}

// BatchEmbeddingRequest represents a batch request
type BatchEmbeddingRequest struct {
	Texts []string
	Model string // Optional: override default model
}

// BatchEmbeddingResponse represents a batch response
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Embedder is the boundary to an external embedding provider.
// Calls are fallible and latency-bearing; a vector from a failed call must not be cached.
type Embedder interface {
	// GenerateEmbedding generates a single embedding for the given text
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)

	// GenerateBatch generates embeddings for multiple texts, preserving order
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	// Dimension returns the embedding dimension for this provider
	Dimension() int

	// Provider returns the provider name
	Provider() string

	// Model returns the model name
	Model() string

	// Close releases any resources held by the embedder
	Close() error
}

// Embed returns the vector for a single text.
// The empty string maps to the zero vector without calling the provider.
func Embed(ctx context.Context, e Embedder, text string) ([]float32, error) {
	if text == "" {
		return make([]float32, e.Dimension()), nil
	}

	emb, err := e.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
	if err != nil {
		return nil, wrapProviderErr(err)
	}
	return emb.Vector, nil
}

// maxConcurrentBatches bounds the sub-batches EmbedMany sends at once
const maxConcurrentBatches = 4

// EmbedMany returns one vector per text in input order. Inputs larger than
// MaxBatchSize are split into sub-batches. Empty texts map to the zero vector.
func EmbedMany(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	// Positions that need the provider, in order
	pending := make([]int, 0, len(texts))
	for i, text := range texts {
		if text == "" {
			vectors[i] = make([]float32, e.Dimension())
			continue
		}
		pending = append(pending, i)
	}

	if len(pending) == 0 {
		return vectors, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentBatches)

	for start := 0; start < len(pending); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		positions := pending[start:end]

		g.Go(func() error {
			batch := make([]string, len(positions))
			for i, pos := range positions {
				batch[i] = texts[pos]
			}

			resp, err := e.GenerateBatch(gctx, BatchEmbeddingRequest{Texts: batch})
			if err != nil {
				return err
			}
			if len(resp.Embeddings) != len(batch) {
				return fmt.Errorf("%w: expected %d embeddings, got %d",
					ErrProviderFailed, len(batch), len(resp.Embeddings))
			}

			// Each goroutine writes a disjoint set of positions
			for i, pos := range positions {
				vectors[pos] = resp.Embeddings[i].Vector
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, wrapProviderErr(err)
	}

	return vectors, nil
}

// wrapProviderErr makes sure provider failures classify as types.ErrProvider
func wrapProviderErr(err error) error {
	if errors.Is(err, types.ErrProvider) || errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrProviderFailed, err)
}

// Cache provides in-memory LRU caching of embeddings by content hash
type Cache struct {
	cache *lru.Cache[string, *Embedding]
}

// NewCache creates a new embedding cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = DefaultCacheSize
	}
	cache, err := lru.New[string, *Embedding](maxLen)
	if err != nil {
		cache, _ = lru.New[string, *Embedding](DefaultCacheSize)
	}
	return &Cache{
		cache: cache,
	}
}

// Get retrieves a copy of an embedding from cache so callers cannot mutate cached vectors
func (c *Cache) Get(hash string) (*Embedding, bool) {
	emb, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}

	vectorCopy := make([]float32, len(emb.Vector))
	copy(vectorCopy, emb.Vector)

	return &Embedding{
		Vector:    vectorCopy,
		Dimension: emb.Dimension,
		Provider:  emb.Provider,
		Model:     emb.Model,
		Hash:      emb.Hash,
	}, true
}

// Set stores an embedding in cache
func (c *Cache) Set(hash string, emb *Embedding) {
	c.cache.Add(hash, emb)
}

// Size returns the current cache size
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	c.cache.Purge()
}

// ComputeHash computes SHA-256 hash of text for caching
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// ValidateRequest validates an embedding request
func ValidateRequest(req EmbeddingRequest) error {
	if req.Text == "" {
		return ErrEmptyText
	}
	return nil
}

// ValidateBatchRequest validates a batch embedding request
func ValidateBatchRequest(req BatchEmbeddingRequest) error {
	if len(req.Texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}

	if len(req.Texts) > MaxBatchSize {
		return fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	for i, text := range req.Texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}

	return nil
}

// splitCached separates texts already in the cache from those that need the provider.
// It returns the partially filled result and the positions still missing.
func splitCached(cache *Cache, texts []string) ([]*Embedding, []int) {
	result := make([]*Embedding, len(texts))
	missing := make([]int, 0, len(texts))
	for i, text := range texts {
		if cache != nil {
			if emb, ok := cache.Get(ComputeHash(text)); ok {
				result[i] = emb
				continue
			}
		}
		missing = append(missing, i)
	}
	return result, missing
}
