// Package app wires the pipeline components for one project root.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/dshills/contextrag/internal/assembler"
	"github.com/dshills/contextrag/internal/config"
	"github.com/dshills/contextrag/internal/embedcache"
	"github.com/dshills/contextrag/internal/embedder"
	"github.com/dshills/contextrag/internal/indexer"
	"github.com/dshills/contextrag/internal/searcher"
	"github.com/dshills/contextrag/internal/storage"
	"github.com/dshills/contextrag/internal/tokens"
	"github.com/dshills/contextrag/internal/vectorindex"
)

// App owns every component serving one project root
type App struct {
	Root string
	Dir  string

	Embedder  embedder.Embedder
	Store     storage.EmbeddingStore
	Index     *vectorindex.Index
	Cache     *embedcache.Cache
	Indexer   *indexer.Indexer
	Searcher  *searcher.Searcher
	Tokens    *tokens.Manager
	Assembler *assembler.Assembler

	logger zerolog.Logger
}

// Status summarizes the state of a project's index
type Status struct {
	Root       string            `json:"root"`
	Provider   string            `json:"provider"`
	Model      string            `json:"model"`
	Indexing   bool              `json:"indexing"`
	Stats      vectorindex.Stats `json:"stats"`
	LastRun    *indexer.Result   `json:"lastRun,omitempty"`
	StoreKind  string            `json:"store"`
	QueryCache int               `json:"queryCache"` // cached query vectors
}

// Open builds the components for root using cfg. The embedder is created from
// cfg unless emb is non-nil.
func Open(ctx context.Context, cfg *config.Config, root string, emb embedder.Embedder, logger zerolog.Logger) (*App, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	dir := cfg.IndexDir(abs)
	logger = logger.With().Str("root", abs).Logger()

	if emb == nil {
		emb, err = embedder.New(cfg.EmbedderConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
	}

	store, err := storage.Open(ctx, cfg.StoreOptions(dir))
	if err != nil {
		_ = emb.Close()
		return nil, fmt.Errorf("failed to open embedding store: %w", err)
	}
	if fs, ok := store.(*storage.FileStore); ok {
		if lerr := fs.LoadError(); lerr != nil {
			logger.Warn().Err(lerr).Str("dir", dir).Msg("embedding cache unreadable, starting empty")
		}
	}

	index, err := vectorindex.Open(cfg.VectorIndexConfig(dir, emb.Dimension()), logger)
	if err != nil {
		_ = store.Close()
		_ = emb.Close()
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}

	var estimator tokens.Estimator
	if cfg.Tokenizer == config.TokenizerTiktoken {
		estimator, err = tokens.NewTiktokenEstimator("")
		if err != nil {
			logger.Warn().Err(err).Msg("tiktoken unavailable, falling back to character estimate")
			estimator = nil
		}
	}

	cache := embedcache.New(store, emb, logger, embedcache.WithThreshold(cfg.Cache.StructuralThreshold))
	srch := searcher.New(index, emb, logger)
	tm := tokens.New(cfg.Tokens, tokens.WithEstimator(estimator), tokens.WithLogger(logger))

	a := &App{
		Root:      abs,
		Dir:       dir,
		Embedder:  emb,
		Store:     store,
		Index:     index,
		Cache:     cache,
		Indexer:   indexer.New(index, cache, cfg.IndexerConfig(), logger),
		Searcher:  srch,
		Tokens:    tm,
		Assembler: assembler.New(srch, tm, logger),
		logger:    logger,
	}

	logger.Info().
		Str("provider", emb.Provider()).
		Str("model", emb.Model()).
		Int("dimension", emb.Dimension()).
		Str("store", cfg.Store.Backend).
		Int("chunks", index.Stats().TotalChunks).
		Msg("workspace opened")

	return a, nil
}

// Status reports index occupancy and the last indexing run
func (a *App) Status() Status {
	return Status{
		Root:       a.Root,
		Provider:   a.Embedder.Provider(),
		Model:      a.Embedder.Model(),
		Indexing:   a.Indexer.Running(),
		Stats:      a.Index.Stats(),
		LastRun:    a.Indexer.LastResult(),
		StoreKind:  storeKind(a.Store),
		QueryCache: a.Searcher.CacheLen(),
	}
}

// Clear empties the index, the embedding cache and the query cache. It fails
// while indexing runs.
func (a *App) Clear(ctx context.Context) error {
	lock := a.Indexer.Lock()
	if !lock.TryAcquire() {
		return indexer.ErrIndexingInProgress
	}
	defer lock.Release()

	if err := a.Index.Clear(); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	if err := a.Cache.Clear(ctx); err != nil {
		return fmt.Errorf("clear embedding cache: %w", err)
	}
	a.Searcher.InvalidateCache()
	a.logger.Info().Msg("index cleared")
	return nil
}

// Close persists the index and releases the store and the embedder
func (a *App) Close() error {
	return errors.Join(a.Index.Persist(), a.Store.Close(), a.Embedder.Close())
}

func storeKind(s storage.EmbeddingStore) string {
	switch s.(type) {
	case *storage.FileStore:
		return storage.BackendFile
	case *storage.RedisStore:
		return storage.BackendRedis
	case *storage.SQLiteStore:
		return storage.BackendSQLite
	case *storage.BoltStore:
		return storage.BackendBolt
	default:
		return "custom"
	}
}
