package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidEntry is returned when an entry's vectors and hashes are not aligned
var ErrInvalidEntry = errors.New("vectors and hashes must have equal length")

// Entry is the cached embedding state of one file: one vector and one chunk
// hash per chunk position.
type Entry struct {
	Vectors [][]float32 `json:"vectors"`
	Hashes  []string    `json:"hashes"`
}

// Validate checks that vectors and hashes line up
func (e *Entry) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil entry", ErrInvalidEntry)
	}
	if len(e.Vectors) != len(e.Hashes) {
		return fmt.Errorf("%w: %d vectors, %d hashes", ErrInvalidEntry, len(e.Vectors), len(e.Hashes))
	}
	return nil
}

// EmbeddingStore persists per-file embedding entries keyed by file path.
// Load reports ok=false for unknown paths rather than an error.
type EmbeddingStore interface {
	Load(ctx context.Context, filePath string) (entry *Entry, ok bool, err error)
	Save(ctx context.Context, filePath string, entry *Entry) error
	Delete(ctx context.Context, filePath string) error
	Clear(ctx context.Context) error
	Close() error
}

// Backend names accepted by Open
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Options selects and configures a backend
type Options struct {
	Backend string

	// Dir holds file, sqlite and bolt state
	Dir string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Open builds the EmbeddingStore named by opts.Backend
func Open(ctx context.Context, opts Options) (EmbeddingStore, error) {
	switch opts.Backend {
	case "", BackendFile:
		return NewFileStore(opts.Dir)
	case BackendRedis:
		return NewRedisStore(ctx, RedisOptions{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
			Prefix:   opts.RedisPrefix,
		})
	case BackendSQLite:
		return NewSQLiteStore(ctx, sqlitePath(opts.Dir))
	case BackendBolt:
		return NewBoltStore(boltPath(opts.Dir))
	default:
		return nil, fmt.Errorf("unknown embedding store backend %q", opts.Backend)
	}
}

func copyEntry(e *Entry) *Entry {
	out := &Entry{
		Vectors: make([][]float32, len(e.Vectors)),
		Hashes:  append([]string(nil), e.Hashes...),
	}
	for i, v := range e.Vectors {
		out.Vectors[i] = append([]float32(nil), v...)
	}
	return out
}
