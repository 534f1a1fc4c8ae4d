package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltFileName is the database file created under the cache directory
const BoltFileName = "embeddings.bolt"

var embeddingsBucket = []byte("embeddings")

func boltPath(dir string) string {
	return filepath.Join(dir, BoltFileName)
}

// BoltStore keeps one JSON Entry per file path in a single bucket
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) the database at path
func NewBoltStore(path string) (*BoltStore, error) {
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(embeddingsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load(_ context.Context, filePath string) (*Entry, bool, error) {
	var entry *Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(embeddingsBucket).Get([]byte(filePath))
		if data == nil {
			return nil
		}
		entry = &Entry{}
		return json.Unmarshal(data, entry)
	})
	if err != nil {
		return nil, false, fmt.Errorf("load %s: %w", filePath, err)
	}
	if entry == nil || entry.Validate() != nil {
		return nil, false, nil
	}
	return entry, true, nil
}

func (s *BoltStore) Save(_ context.Context, filePath string, entry *Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(embeddingsBucket).Put([]byte(filePath), data)
	})
}

func (s *BoltStore) Delete(_ context.Context, filePath string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(embeddingsBucket).Delete([]byte(filePath))
	})
}

func (s *BoltStore) Clear(_ context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(embeddingsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(embeddingsBucket)
		return err
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
