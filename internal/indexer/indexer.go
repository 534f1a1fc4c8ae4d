package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/contextrag/internal/chunker"
	"github.com/dshills/contextrag/internal/embedcache"
	"github.com/dshills/contextrag/internal/vectorindex"
	"github.com/dshills/contextrag/pkg/types"
)

// DefaultMaxFileSize is the size ceiling above which files are skipped
const DefaultMaxFileSize = 100 * 1024

// Progress statuses
const (
	StatusIndexed   = "indexed"
	StatusUnchanged = "unchanged"
	StatusSkipped   = "skipped"
	StatusError     = "error"
	StatusIndexFull = "index_full"
)

// statusDropped marks a skipped file whose previously indexed chunks were
// removed. Progress reports it as StatusSkipped.
const statusDropped = "dropped"

// Config contains configuration for the indexer
type Config struct {
	WindowSize   int      // Lines per chunk (default: chunker.DefaultWindowSize)
	MaxFileSize  int      // Bytes; larger files are skipped (default: 100 KiB)
	SkipDirs     []string // Folder names skipped with all descendants
	Extensions   []string // Allowed file extensions including the dot; empty allows all
	CacheDirName string   // Folder holding persisted state, always skipped
}

// DefaultConfig returns the standard filters for source trees
func DefaultConfig() Config {
	return Config{
		WindowSize:  chunker.DefaultWindowSize,
		MaxFileSize: DefaultMaxFileSize,
		SkipDirs: []string{
			"node_modules", ".git", "dist", "build", "out", "target", "vendor",
			".next", "__pycache__", ".venv", ".idea", ".vscode", "coverage",
		},
		Extensions: []string{
			".go", ".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs", ".py", ".rs",
			".java", ".kt", ".c", ".h", ".cc", ".cpp", ".hpp", ".cs", ".rb",
			".php", ".swift", ".scala", ".sh", ".sql", ".md", ".txt", ".json",
			".yaml", ".yml", ".toml", ".html", ".css", ".scss", ".vue", ".svelte",
		},
		CacheDirName: ".contextrag",
	}
}

// Progress is reported after every file
type Progress struct {
	Current     int    `json:"current"`
	Total       int    `json:"total"`
	CurrentFile string `json:"currentFile"`
	Status      string `json:"status"`
}

// ProgressFunc receives progress updates; it runs on the indexing goroutine
type ProgressFunc func(Progress)

// Options alter a single run
type Options struct {
	ForceReindex bool // Clear the index and embedding cache first
	PruneMissing bool // Tombstone indexed files that are no longer in the tree
}

// Result is the tally of a run. Unchanged files count as skipped.
type Result struct {
	Indexed   int           `json:"indexed"`
	Skipped   int           `json:"skipped"`
	Removed   int           `json:"removed"`
	Errors    []string      `json:"errors"`
	IndexFull bool          `json:"indexFull"`
	Duration  time.Duration `json:"duration"`
}

// Indexer drives chunking, incremental embedding and index updates across a file tree
type Indexer struct {
	index   *vectorindex.Index
	cache   *embedcache.Cache
	chunker *chunker.Chunker
	cfg     Config
	logger  zerolog.Logger

	lock IndexLock

	mu   sync.Mutex
	last *Result
}

// New creates an Indexer
func New(index *vectorindex.Index, cache *embedcache.Cache, cfg Config, logger zerolog.Logger) *Indexer {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	return &Indexer{
		index:   index,
		cache:   cache,
		chunker: chunker.New(cfg.WindowSize),
		cfg:     cfg,
		logger:  logger.With().Str("component", "indexer").Logger(),
	}
}

// Running reports whether a run is in progress
func (ix *Indexer) Running() bool {
	return ix.lock.Held()
}

// Lock exposes the run lock so callers can reserve the indexer
func (ix *Indexer) Lock() *IndexLock {
	return &ix.lock
}

// LastResult returns the tally of the most recent completed run, or nil
func (ix *Indexer) LastResult() *Result {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.last
}

// IndexDirectory indexes the files under dir
func (ix *Indexer) IndexDirectory(ctx context.Context, dir string, onProgress ProgressFunc, opts Options) (*Result, error) {
	root, err := BuildTree(dir, ix.cfg)
	if err != nil {
		return nil, err
	}
	return ix.IndexTree(ctx, root, OSContent(dir), onProgress, opts)
}

// IndexTree indexes every eligible file under root. One file's failure is
// recorded in Result.Errors and the walk continues. A full index stops the
// walk and the remaining files are reported as skipped. The index is
// persisted once at the end.
func (ix *Indexer) IndexTree(ctx context.Context, root *Node, content ContentFunc, onProgress ProgressFunc, opts Options) (*Result, error) {
	if !ix.lock.TryAcquire() {
		return nil, ErrIndexingInProgress
	}
	defer ix.lock.Release()

	start := time.Now()
	result := &Result{Errors: make([]string, 0)}

	if opts.ForceReindex {
		if err := ix.index.Clear(); err != nil {
			return nil, fmt.Errorf("clear index: %w", err)
		}
		if err := ix.cache.Clear(ctx); err != nil {
			return nil, fmt.Errorf("clear embedding cache: %w", err)
		}
		ix.logger.Info().Msg("cleared index for forced re-index")
	}

	files := ix.cfg.collectFiles(root)
	ix.logger.Info().Int("files", len(files)).Msg("indexing started")

	var runErr error
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		status := StatusSkipped
		if result.IndexFull {
			result.Skipped++
		} else {
			var err error
			status, err = ix.indexFile(ctx, path, content)
			switch {
			case errors.Is(err, types.ErrCapacity):
				result.IndexFull = true
				result.Skipped++
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, err))
				ix.logger.Error().Err(err).Str("file", path).Msg("index is full, skipping remaining files")
			case err != nil:
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, err))
				ix.logger.Warn().Err(err).Str("file", path).Msg("failed to index file")
			case status == StatusIndexed:
				result.Indexed++
			case status == statusDropped:
				status = StatusSkipped
				result.Skipped++
				result.Removed++
			default:
				result.Skipped++
			}
		}

		if onProgress != nil {
			onProgress(Progress{Current: i + 1, Total: len(files), CurrentFile: path, Status: status})
		}
	}

	if opts.PruneMissing && runErr == nil {
		result.Removed = ix.prune(ctx, files)
	}

	if err := ix.index.Persist(); err != nil {
		return result, fmt.Errorf("persist index: %w", err)
	}

	result.Duration = time.Since(start)

	ix.mu.Lock()
	ix.last = result
	ix.mu.Unlock()

	ix.logger.Info().
		Int("indexed", result.Indexed).
		Int("skipped", result.Skipped).
		Int("errors", len(result.Errors)).
		Int("removed", result.Removed).
		Bool("index_full", result.IndexFull).
		Dur("duration", result.Duration).
		Msg("indexing finished")

	return result, runErr
}

// indexFile returns the progress status for path. The status of a failed file is StatusError.
func (ix *Indexer) indexFile(ctx context.Context, path string, content ContentFunc) (string, error) {
	text, err := content(path)
	if err != nil {
		return StatusError, fmt.Errorf("read: %w", err)
	}

	if len(text) == 0 {
		return ix.skip(ctx, path), nil
	}
	if len(text) > ix.cfg.MaxFileSize {
		ix.logger.Debug().Str("file", path).Int("bytes", len(text)).Msg("file too large, skipping")
		return ix.skip(ctx, path), nil
	}

	chunks := chunker.Texts(ix.chunker.ChunkFile(path, text))
	hashes := chunker.HashChunks(chunks)

	if !ix.index.NeedsReindex(path, hashes) {
		return StatusUnchanged, nil
	}

	ix.logger.Debug().
		Str("file", path).
		Ints("changed", ix.index.ChangedChunkIndices(path, hashes)).
		Msg("file is stale")

	embedded, err := ix.cache.ReEmbedChangedChunks(ctx, path, chunks)
	if err != nil {
		return StatusError, err
	}

	if err := ix.index.Upsert(path, chunks, embedded.Hashes, embedded.Vectors); err != nil {
		if errors.Is(err, types.ErrCapacity) {
			return StatusIndexFull, err
		}
		return StatusError, err
	}

	return StatusIndexed, nil
}

// skip drops any chunks path left in the index by an earlier run, so a file
// that became empty or oversized stops matching searches
func (ix *Indexer) skip(ctx context.Context, path string) string {
	if !ix.index.RemoveFile(path) {
		return StatusSkipped
	}
	if err := ix.cache.Forget(ctx, path); err != nil {
		ix.logger.Warn().Err(err).Str("file", path).Msg("failed to drop cached embeddings")
	}
	ix.logger.Debug().Str("file", path).Msg("removed chunks of skipped file")
	return statusDropped
}

// prune tombstones indexed files that are no longer present
func (ix *Indexer) prune(ctx context.Context, present []string) int {
	keep := make(map[string]struct{}, len(present))
	for _, p := range present {
		keep[p] = struct{}{}
	}

	removed := 0
	for _, p := range ix.index.Files() {
		if _, ok := keep[p]; ok {
			continue
		}
		if ix.index.RemoveFile(p) {
			removed++
		}
		if err := ix.cache.Forget(ctx, p); err != nil {
			ix.logger.Warn().Err(err).Str("file", p).Msg("failed to drop cached embeddings")
		}
	}
	return removed
}
