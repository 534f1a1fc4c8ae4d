// Package embedcache re-embeds only the chunks of a file that changed since
// the last pass.
package embedcache

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/dshills/contextrag/internal/chunker"
	"github.com/dshills/contextrag/internal/embedder"
	"github.com/dshills/contextrag/internal/storage"
)

// DefaultStructuralThreshold is the relative chunk-count change above which
// a file is treated as rewritten and embedded from scratch
const DefaultStructuralThreshold = 0.30

// Result is the embedding state of a file after a pass. Vectors and Hashes
// are positionally aligned with the input chunks.
type Result struct {
	Vectors     [][]float32
	Hashes      []string
	Reembedded  []int // positions sent to the provider
	FullRebuild bool
}

// Cache sits between the indexer and the embedding provider
type Cache struct {
	store     storage.EmbeddingStore
	embedder  embedder.Embedder
	logger    zerolog.Logger
	threshold float64
}

// Option configures a Cache
type Option func(*Cache)

// WithThreshold overrides DefaultStructuralThreshold
func WithThreshold(t float64) Option {
	return func(c *Cache) {
		if t > 0 {
			c.threshold = t
		}
	}
}

// New returns a Cache persisting through store
func New(store storage.EmbeddingStore, emb embedder.Embedder, logger zerolog.Logger, opts ...Option) *Cache {
	c := &Cache{
		store:     store,
		embedder:  emb,
		logger:    logger.With().Str("component", "embedcache").Logger(),
		threshold: DefaultStructuralThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ReEmbedChangedChunks returns a vector for every chunk of filePath, calling the
// provider only for positions whose hash differs from the cached entry.
// Unchanged positions keep their cached vectors bit for bit. On provider failure
// nothing is saved and the error is returned.
func (c *Cache) ReEmbedChangedChunks(ctx context.Context, filePath string, chunks []string) (*Result, error) {
	newHashes := chunker.HashChunks(chunks)

	cached, ok := c.load(ctx, filePath)
	if !ok || structuralChange(len(cached.Hashes), len(newHashes), c.threshold) {
		return c.embedAll(ctx, filePath, chunks, newHashes)
	}

	vectors := make([][]float32, len(chunks))
	changed := make([]int, 0)
	for i, h := range newHashes {
		if i < len(cached.Hashes) && cached.Hashes[i] == h {
			vectors[i] = cached.Vectors[i]
			continue
		}
		changed = append(changed, i)
	}

	if len(changed) > 0 {
		texts := make([]string, len(changed))
		for i, pos := range changed {
			texts[i] = chunks[pos]
		}

		fresh, err := embedder.EmbedMany(ctx, c.embedder, texts)
		if err != nil {
			return nil, fmt.Errorf("embed %d changed chunks of %s: %w", len(changed), filePath, err)
		}
		for i, pos := range changed {
			vectors[pos] = fresh[i]
		}
	}

	c.logger.Debug().
		Str("file", filePath).
		Int("chunks", len(chunks)).
		Int("reembedded", len(changed)).
		Msg("incremental re-embed")

	result := &Result{Vectors: vectors, Hashes: newHashes, Reembedded: changed}
	if len(changed) > 0 || len(cached.Hashes) != len(newHashes) {
		c.save(ctx, filePath, result)
	}
	return result, nil
}

func (c *Cache) embedAll(ctx context.Context, filePath string, chunks, hashes []string) (*Result, error) {
	vectors, err := embedder.EmbedMany(ctx, c.embedder, chunks)
	if err != nil {
		return nil, fmt.Errorf("embed %s: %w", filePath, err)
	}

	all := make([]int, len(chunks))
	for i := range all {
		all[i] = i
	}

	c.logger.Debug().Str("file", filePath).Int("chunks", len(chunks)).Msg("full re-embed")

	result := &Result{Vectors: vectors, Hashes: hashes, Reembedded: all, FullRebuild: true}
	c.save(ctx, filePath, result)
	return result, nil
}

// load returns the cached entry when it is usable with the current provider
func (c *Cache) load(ctx context.Context, filePath string) (*storage.Entry, bool) {
	entry, ok, err := c.store.Load(ctx, filePath)
	if err != nil {
		c.logger.Warn().Err(err).Str("file", filePath).Msg("embedding cache read failed, re-embedding")
		return nil, false
	}
	if !ok {
		return nil, false
	}

	dim := c.embedder.Dimension()
	for _, v := range entry.Vectors {
		if len(v) != dim {
			c.logger.Warn().
				Str("file", filePath).
				Int("cached_dim", len(v)).
				Int("dim", dim).
				Msg("cached vectors have a different dimension, re-embedding")
			return nil, false
		}
	}
	return entry, true
}

// save is best effort: the vectors are valid even if the cache write fails
func (c *Cache) save(ctx context.Context, filePath string, r *Result) {
	if err := c.store.Save(ctx, filePath, &storage.Entry{Vectors: r.Vectors, Hashes: r.Hashes}); err != nil {
		c.logger.Warn().Err(err).Str("file", filePath).Msg("embedding cache write failed")
	}
}

// Forget drops the cached entry for filePath
func (c *Cache) Forget(ctx context.Context, filePath string) error {
	return c.store.Delete(ctx, filePath)
}

// Clear drops every cached entry
func (c *Cache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// structuralChange reports whether the chunk count moved by more than threshold
// relative to the cached count
func structuralChange(oldLen, newLen int, threshold float64) bool {
	if oldLen == 0 {
		return newLen != 0
	}
	return math.Abs(float64(newLen-oldLen))/float64(oldLen) > threshold
}
