package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/dshills/contextrag/internal/embedder"
	"github.com/dshills/contextrag/internal/vectorindex"
	"github.com/dshills/contextrag/pkg/types"
)

// Request limits and cache defaults
const (
	DefaultLimit     = 10
	MaxLimit         = 100
	DefaultCacheSize = 1000
	DefaultCacheTTL  = time.Hour
)

// ErrEmptyQuery is returned for a blank query
var ErrEmptyQuery = errors.New("query cannot be empty")

// Request contains parameters for a search operation
type Request struct {
	Query          string
	Limit          int     // Default 10, capped at 100
	FilterFilePath string  // Restrict results to one file
	MinScore       float64 // Drop results scoring below this
	SkipCache      bool    // Always embed the query
}

// Response contains search results and metadata
type Response struct {
	Results      []types.SearchResult `json:"results"`
	TotalResults int                  `json:"totalResults"`
	Duration     time.Duration        `json:"duration"`
	CacheHit     bool                 `json:"cacheHit"`
}

// cacheEntry is a query vector with its expiration time
type cacheEntry struct {
	vector    []float32
	expiresAt time.Time
}

// Searcher embeds queries and runs them against the vector index
type Searcher struct {
	index    *vectorindex.Index
	embedder embedder.Embedder
	logger   zerolog.Logger
	ttl      time.Duration

	cache   *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.RWMutex
}

// New creates a Searcher with a query-vector cache of the default size
func New(index *vectorindex.Index, emb embedder.Embedder, logger zerolog.Logger) *Searcher {
	cache, err := lru.New[[32]byte, *cacheEntry](DefaultCacheSize)
	if err != nil {
		// Only fails for a non-positive size
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	return &Searcher{
		index:    index,
		embedder: emb,
		logger:   logger.With().Str("component", "searcher").Logger(),
		ttl:      DefaultCacheTTL,
		cache:    cache,
	}
}

// Search embeds the query and returns the nearest chunks in descending score order
func (s *Searcher) Search(ctx context.Context, req Request) (*Response, error) {
	startTime := time.Now()

	if s.embedder == nil {
		return nil, fmt.Errorf("embedder not initialized")
	}
	if err := validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	vector, hit, err := s.queryVector(ctx, req)
	if err != nil {
		return nil, err
	}

	results, err := s.index.Search(vector, req.Limit, req.FilterFilePath)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	if req.MinScore > 0 {
		kept := results[:0]
		for _, r := range results {
			if r.Score >= req.MinScore {
				kept = append(kept, r)
			}
		}
		results = kept
	}

	resp := &Response{
		Results:      results,
		TotalResults: len(results),
		Duration:     time.Since(startTime),
		CacheHit:     hit,
	}

	s.logger.Debug().
		Str("filter", req.FilterFilePath).
		Int("results", resp.TotalResults).
		Bool("cache_hit", hit).
		Dur("duration", resp.Duration).
		Msg("search")

	return resp, nil
}

// queryVector returns the embedding of the query, from the cache when possible
func (s *Searcher) queryVector(ctx context.Context, req Request) ([]float32, bool, error) {
	hash := sha256.Sum256([]byte(req.Query))

	if !req.SkipCache {
		if v, ok := s.checkCache(hash); ok {
			return v, true, nil
		}
	}

	vector, err := embedder.Embed(ctx, s.embedder, req.Query)
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	s.storeInCache(hash, vector)
	return vector, false, nil
}

func validateRequest(req *Request) error {
	if req.Query == "" {
		return ErrEmptyQuery
	}

	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}

	return nil
}

// checkCache looks up a live query vector
func (s *Searcher) checkCache(hash [32]byte) ([]float32, bool) {
	now := time.Now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(hash)
	if !found {
		s.cacheMu.RUnlock()
		return nil, false
	}

	if now.After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.cache.Remove(hash)
		s.cacheMu.Unlock()
		return nil, false
	}

	// Callers own the returned slice
	vector := append([]float32(nil), entry.vector...)
	s.cacheMu.RUnlock()

	return vector, true
}

func (s *Searcher) storeInCache(hash [32]byte, vector []float32) {
	entry := &cacheEntry{
		vector:    append([]float32(nil), vector...),
		expiresAt: time.Now().Add(s.ttl),
	}

	s.cacheMu.Lock()
	s.cache.Add(hash, entry)
	s.cacheMu.Unlock()
}

// InvalidateCache drops every cached query vector. Needed when the embedding
// provider or model changes.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen returns the number of cached query vectors
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}
