package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
)

// SQLiteFileName is the database file created under the cache directory
const SQLiteFileName = "embeddings.db"

func sqlitePath(dir string) string {
	return filepath.Join(dir, SQLiteFileName)
}

// SQLiteStore keeps one row per (file, chunk position)
type SQLiteStore struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and migrates it
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := ensureDir(dir); err != nil {
			return nil, err
		}
	}

	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *SQLiteStore) Load(ctx context.Context, filePath string) (*Entry, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT chunk_index, hash, vector FROM file_embeddings WHERE file_path = ? ORDER BY chunk_index",
		filePath)
	if err != nil {
		return nil, false, fmt.Errorf("query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entry := &Entry{}
	for rows.Next() {
		var (
			idx  int
			hash string
			blob []byte
		)
		if err := rows.Scan(&idx, &hash, &blob); err != nil {
			return nil, false, fmt.Errorf("scan embedding: %w", err)
		}
		if idx != len(entry.Hashes) {
			return nil, false, fmt.Errorf("chunk index gap at %d for %s", idx, filePath)
		}
		vec, err := deserializeVector(blob)
		if err != nil {
			return nil, false, err
		}
		entry.Hashes = append(entry.Hashes, hash)
		entry.Vectors = append(entry.Vectors, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	if len(entry.Hashes) == 0 {
		// A file cached with zero chunks still has a cached_files row
		var n int
		err := s.db.QueryRowContext(ctx, "SELECT chunk_count FROM cached_files WHERE file_path = ?", filePath).Scan(&n)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("query cached file: %w", err)
		}
	}

	return entry, true, nil
}

// Save replaces the file's rows in one transaction
func (s *SQLiteStore) Save(ctx context.Context, filePath string, entry *Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteFile(ctx, tx, filePath); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO file_embeddings (file_path, chunk_index, hash, vector) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range entry.Hashes {
		if _, err := stmt.ExecContext(ctx, filePath, i, entry.Hashes[i], serializeVector(entry.Vectors[i])); err != nil {
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO cached_files (file_path, chunk_count, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)",
		filePath, len(entry.Hashes)); err != nil {
		return fmt.Errorf("record cached file: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) Delete(ctx context.Context, filePath string) error {
	return deleteFile(ctx, s.db, filePath)
}

func deleteFile(ctx context.Context, q querier, filePath string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM file_embeddings WHERE file_path = ?", filePath); err != nil {
		return fmt.Errorf("delete embeddings: %w", err)
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM cached_files WHERE file_path = ?", filePath); err != nil {
		return fmt.Errorf("delete cached file: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{"DELETE FROM file_embeddings", "DELETE FROM cached_files"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear embeddings: %w", err)
		}
	}
	return tx.Commit()
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
