package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Legacy cache file names
const (
	EmbeddingsFileName = "embeddings_cache.json"
	HashesFileName     = "embeddings_hashes.json"
)

// FileStore keeps the whole cache in memory and rewrites two JSON documents
// on every change: filePath -> vectors and filePath -> hashes.
type FileStore struct {
	dir string

	mu      sync.Mutex
	vectors map[string][][]float32
	hashes  map[string][]string

	loadErr error
}

// NewFileStore loads the cache files from dir. Unreadable or malformed files
// yield an empty store; LoadError reports why. An empty dir keeps the store in memory.
func NewFileStore(dir string) (*FileStore, error) {
	s := &FileStore{
		dir:     dir,
		vectors: make(map[string][][]float32),
		hashes:  make(map[string][]string),
	}
	if dir == "" {
		return s, nil
	}

	vectors := make(map[string][][]float32)
	hashes := make(map[string][]string)

	vErr := readJSON(filepath.Join(dir, EmbeddingsFileName), &vectors)
	hErr := readJSON(filepath.Join(dir, HashesFileName), &hashes)
	if err := errors.Join(vErr, hErr); err != nil {
		s.loadErr = err
		return s, nil
	}

	if vectors != nil {
		s.vectors = vectors
	}
	if hashes != nil {
		s.hashes = hashes
	}
	return s, nil
}

// LoadError returns the problem that forced an empty start, if any
func (s *FileStore) LoadError() error {
	return s.loadErr
}

func (s *FileStore) Load(_ context.Context, filePath string) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vectors, vok := s.vectors[filePath]
	hashes, hok := s.hashes[filePath]
	if !vok || !hok || len(vectors) != len(hashes) {
		return nil, false, nil
	}
	return copyEntry(&Entry{Vectors: vectors, Hashes: hashes}), true, nil
}

func (s *FileStore) Save(_ context.Context, filePath string, entry *Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := copyEntry(entry)
	s.vectors[filePath] = c.Vectors
	s.hashes[filePath] = c.Hashes
	return s.flushLocked()
}

func (s *FileStore) Delete(_ context.Context, filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.vectors, filePath)
	delete(s.hashes, filePath)
	return s.flushLocked()
}

func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.vectors = make(map[string][][]float32)
	s.hashes = make(map[string][]string)
	return s.flushLocked()
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) flushLocked() error {
	if s.dir == "" {
		return nil
	}
	if err := ensureDir(s.dir); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(s.dir, EmbeddingsFileName), s.vectors); err != nil {
		return err
	}
	return writeJSON(filepath.Join(s.dir, HashesFileName), s.hashes)
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	return nil
}

// readJSON decodes path into v; a missing file leaves v untouched
func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeJSON replaces path atomically
func writeJSON(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
