package vectorindex

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dshills/contextrag/pkg/types"
)

// Defaults for a code-search index
const (
	DefaultDimension      = 384
	DefaultCapacity       = 100000
	DefaultM              = 16
	DefaultEfConstruction = 200
	DefaultEfSearch       = 100

	IndexFileName    = "hnsw_index.bin"
	MetadataFileName = "hnsw_metadata.json"

	// filterOversample widens the candidate set when results are post-filtered by file
	filterOversample = 3
)

var (
	// ErrDimensionMismatch is returned when a vector does not match the configured dimension
	ErrDimensionMismatch = fmt.Errorf("%w: vector dimension mismatch", types.ErrConfiguration)

	// ErrInvalidUpsert is returned when chunks, hashes and vectors are not aligned
	ErrInvalidUpsert = errors.New("chunks, hashes and vectors must have equal length")
)

// Config configures an Index
type Config struct {
	Dimension      int
	Capacity       int
	M              int
	EfConstruction int
	EfSearch       int

	// Dir holds the persisted blob and metadata. Empty keeps the index in memory only.
	Dir string

	// Seed drives level assignment; fixed seeds give reproducible graphs
	Seed int64
}

// DefaultConfig returns the standard parameters persisted under dir
func DefaultConfig(dir string) Config {
	return Config{
		Dimension:      DefaultDimension,
		Capacity:       DefaultCapacity,
		M:              DefaultM,
		EfConstruction: DefaultEfConstruction,
		EfSearch:       DefaultEfSearch,
		Dir:            dir,
	}
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.M < 2 {
		c.M = DefaultM
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = DefaultEfConstruction
	}
	if c.EfSearch <= 0 {
		c.EfSearch = DefaultEfSearch
	}
	return c
}

// Stats describes index occupancy. Orphaned counts graph points whose metadata
// was replaced; they still consume capacity until the index is rebuilt.
type Stats struct {
	TotalChunks int `json:"total_chunks"`
	TotalFiles  int `json:"total_files"`
	Points      int `json:"points"`
	Orphaned    int `json:"orphaned"`
	Capacity    int `json:"capacity"`
	Dimension   int `json:"dimension"`
}

// metadata is the JSON document persisted next to the graph blob
type metadata struct {
	Chunks     []types.IndexEntry  `json:"chunks"`
	FileHashes map[string][]string `json:"fileHashes"`
	NextID     int64               `json:"nextId"`
	Dimension  int                 `json:"dimension,omitempty"`
}

// Index pairs an HNSW graph with the chunk metadata that makes its ids meaningful.
// Replacing a file tombstones its old ids: they stay in the graph for navigation
// but never resolve to a result.
type Index struct {
	cfg    Config
	logger zerolog.Logger

	mu         sync.RWMutex
	graph      *graph
	entries    map[int64]types.IndexEntry
	files      map[string][]int64
	fileHashes map[string][]string
	nextID     int64
}

// Open creates an Index and loads any persisted state from cfg.Dir
func Open(cfg Config, logger zerolog.Logger) (*Index, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", types.ErrConfiguration)
	}

	idx := &Index{
		cfg:    cfg.withDefaults(),
		logger: logger.With().Str("component", "vectorindex").Logger(),
	}
	if err := idx.Init(); err != nil {
		return nil, err
	}
	return idx, nil
}

// Init discards in-memory state and reloads from disk. Missing, partial, corrupt
// or dimension-mismatched state yields a fresh empty index with a warning.
func (idx *Index) Init() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.reset()
	if idx.cfg.Dir == "" {
		return nil
	}

	blobPath, metaPath := idx.paths()
	blobExists, err := fileExists(blobPath)
	if err != nil {
		return fmt.Errorf("stat index blob: %w", err)
	}
	metaExists, err := fileExists(metaPath)
	if err != nil {
		return fmt.Errorf("stat index metadata: %w", err)
	}

	switch {
	case !blobExists && !metaExists:
		idx.logger.Debug().Str("dir", idx.cfg.Dir).Msg("no persisted index, starting empty")
		return nil
	case blobExists != metaExists:
		idx.logger.Warn().
			Bool("blob", blobExists).
			Bool("metadata", metaExists).
			Msg("persisted index is incomplete, starting fresh")
		return nil
	}

	if err := idx.load(blobPath, metaPath); err != nil {
		idx.logger.Warn().Err(err).Msg("persisted index unusable, starting fresh")
		idx.reset()
		return nil
	}

	idx.logger.Info().
		Int("chunks", len(idx.entries)).
		Int("files", len(idx.fileHashes)).
		Int("points", idx.graph.len()).
		Msg("loaded persisted index")
	return nil
}

func (idx *Index) reset() {
	idx.graph = newGraph(idx.cfg.Dimension, idx.cfg.M, idx.cfg.EfConstruction, idx.cfg.Seed)
	idx.entries = make(map[int64]types.IndexEntry)
	idx.files = make(map[string][]int64)
	idx.fileHashes = make(map[string][]string)
	idx.nextID = 0
}

func (idx *Index) paths() (string, string) {
	return filepath.Join(idx.cfg.Dir, IndexFileName), filepath.Join(idx.cfg.Dir, MetadataFileName)
}

func (idx *Index) load(blobPath, metaPath string) error {
	metaBytes, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}

	var meta metadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return corrupt("decode metadata: %v", err)
	}
	if meta.Dimension != 0 && meta.Dimension != idx.cfg.Dimension {
		return corrupt("metadata dimension %d, want %d", meta.Dimension, idx.cfg.Dimension)
	}

	f, err := os.Open(blobPath)
	if err != nil {
		return fmt.Errorf("open blob: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	g, err := readGraph(f, idx.cfg.Dimension, idx.cfg.Seed)
	if err != nil {
		return err
	}

	entries := make(map[int64]types.IndexEntry, len(meta.Chunks))
	files := make(map[string][]int64)
	nextID := meta.NextID
	for _, e := range meta.Chunks {
		if !g.has(e.ID) {
			return corrupt("metadata id %d missing from graph", e.ID)
		}
		if _, dup := entries[e.ID]; dup {
			return corrupt("duplicate metadata id %d", e.ID)
		}
		entries[e.ID] = e
		files[e.FilePath] = append(files[e.FilePath], e.ID)
	}
	for id := range g.nodes {
		if id >= nextID {
			nextID = id + 1
		}
	}

	fileHashes := meta.FileHashes
	if fileHashes == nil {
		fileHashes = make(map[string][]string)
	}

	idx.graph = g
	idx.entries = entries
	idx.files = files
	idx.fileHashes = fileHashes
	idx.nextID = nextID
	return nil
}

// Upsert replaces every chunk of filePath with the given chunks. The call
// fails with types.ErrCapacity before mutating anything if the new points
// would not fit.
func (idx *Index) Upsert(filePath string, chunks, hashes []string, vectors [][]float32) error {
	if len(chunks) != len(hashes) || len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks, %d hashes, %d vectors",
			ErrInvalidUpsert, len(chunks), len(hashes), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != idx.cfg.Dimension {
			return fmt.Errorf("%w: vector %d has %d dimensions, want %d",
				ErrDimensionMismatch, i, len(v), idx.cfg.Dimension)
		}
		if !checkFinite(v) {
			return fmt.Errorf("%w: vector %d is not finite", ErrInvalidUpsert, i)
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.graph.len()+len(chunks) > idx.cfg.Capacity {
		return fmt.Errorf("%w: %d points + %d new exceeds %d",
			types.ErrCapacity, idx.graph.len(), len(chunks), idx.cfg.Capacity)
	}

	idx.removeFileLocked(filePath)

	ids := make([]int64, len(chunks))
	for i := range chunks {
		id := idx.nextID
		idx.nextID++

		idx.graph.insert(id, vectors[i])
		idx.entries[id] = types.IndexEntry{
			ID:         id,
			Text:       chunks[i],
			Hash:       hashes[i],
			FilePath:   filePath,
			ChunkIndex: i,
		}
		ids[i] = id
	}

	idx.files[filePath] = ids
	idx.fileHashes[filePath] = append([]string(nil), hashes...)
	return nil
}

// RemoveFile tombstones every chunk of filePath. It reports whether the file was indexed.
func (idx *Index) RemoveFile(filePath string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	_, known := idx.fileHashes[filePath]
	idx.removeFileLocked(filePath)
	delete(idx.fileHashes, filePath)
	return known
}

func (idx *Index) removeFileLocked(filePath string) {
	for _, id := range idx.files[filePath] {
		delete(idx.entries, id)
	}
	delete(idx.files, filePath)
}

// Search returns up to k chunks nearest to query in descending score order.
// With a filter the graph is asked for 3k candidates so post-filtering leaves enough.
func (idx *Index) Search(query []float32, k int, filterFilePath string) ([]types.SearchResult, error) {
	if len(query) != idx.cfg.Dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, want %d",
			ErrDimensionMismatch, len(query), idx.cfg.Dimension)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	results := []types.SearchResult{}
	if k <= 0 || len(idx.entries) == 0 {
		return results, nil
	}

	searchK := k
	if filterFilePath != "" {
		if _, ok := idx.files[filterFilePath]; !ok {
			return results, nil
		}
		searchK = min(filterOversample*k, idx.graph.len())
	}

	ef := max(idx.cfg.EfSearch, searchK)
	for _, c := range idx.graph.search(query, searchK, ef) {
		entry, ok := idx.entries[c.id]
		if !ok {
			continue
		}
		if filterFilePath != "" && entry.FilePath != filterFilePath {
			continue
		}

		results = append(results, types.SearchResult{
			Text:     entry.Text,
			FilePath: entry.FilePath,
			Score:    1 - c.dist,
		})
		if len(results) == k {
			break
		}
	}

	return results, nil
}

// NeedsReindex reports whether newHashes differ from what is stored for filePath
func (idx *Index) NeedsReindex(filePath string, newHashes []string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	old, ok := idx.fileHashes[filePath]
	if !ok || len(old) != len(newHashes) {
		return true
	}
	for i := range old {
		if old[i] != newHashes[i] {
			return true
		}
	}
	return false
}

// ChangedChunkIndices returns the positions of newHashes that differ from the
// stored hashes, or every position when filePath was never indexed.
func (idx *Index) ChangedChunkIndices(filePath string, newHashes []string) []int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	old, ok := idx.fileHashes[filePath]
	changed := make([]int, 0, len(newHashes))
	for i, h := range newHashes {
		if !ok || i >= len(old) || old[i] != h {
			changed = append(changed, i)
		}
	}
	return changed
}

// Files returns the indexed file paths in sorted order
func (idx *Index) Files() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	paths := make([]string, 0, len(idx.fileHashes))
	for p := range idx.fileHashes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Stats reports occupancy including tombstoned points
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return Stats{
		TotalChunks: len(idx.entries),
		TotalFiles:  len(idx.fileHashes),
		Points:      idx.graph.len(),
		Orphaned:    idx.graph.len() - len(idx.entries),
		Capacity:    idx.cfg.Capacity,
		Dimension:   idx.cfg.Dimension,
	}
}

// Dimension returns the configured vector dimension
func (idx *Index) Dimension() int {
	return idx.cfg.Dimension
}

// Clear drops all vectors and metadata and persists the empty index
func (idx *Index) Clear() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.reset()
	return idx.persistLocked()
}

// Persist writes the graph blob and metadata document. Each file is replaced atomically.
func (idx *Index) Persist() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	return idx.persistLocked()
}

func (idx *Index) persistLocked() error {
	if idx.cfg.Dir == "" {
		return nil
	}
	if err := os.MkdirAll(idx.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	blobPath, metaPath := idx.paths()

	if err := writeFileAtomic(blobPath, func(w io.Writer) error {
		return writeGraph(w, idx.graph)
	}); err != nil {
		return fmt.Errorf("write index blob: %w", err)
	}

	meta := metadata{
		Chunks:     make([]types.IndexEntry, 0, len(idx.entries)),
		FileHashes: idx.fileHashes,
		NextID:     idx.nextID,
		Dimension:  idx.cfg.Dimension,
	}
	for _, id := range sortedIDs(idx.entries) {
		meta.Chunks = append(meta.Chunks, idx.entries[id])
	}

	if err := writeFileAtomic(metaPath, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(meta)
	}); err != nil {
		return fmt.Errorf("write index metadata: %w", err)
	}

	idx.logger.Debug().
		Int("chunks", len(meta.Chunks)).
		Int("points", idx.graph.len()).
		Msg("persisted index")
	return nil
}

// writeFileAtomic writes through a temp file in the same directory and renames it over path
func writeFileAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func sortedIDs[V any](m map[int64]V) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
