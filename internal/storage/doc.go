// Package storage persists per-file embedding cache entries.
//
// An Entry holds one vector and one chunk hash per chunk position of a file.
// Four EmbeddingStore backends are available:
//
//   - FileStore: the legacy pair of JSON documents embeddings_cache.json
//     (path -> vectors) and embeddings_hashes.json (path -> hashes)
//   - RedisStore: keys embeddings:<path> and hashes:<path>
//   - SQLiteStore: table file_embeddings(file_path, chunk_index, hash, vector)
//     with vectors stored as little-endian float32 blobs
//   - BoltStore: bucket "embeddings" keyed by path
//
// # SQLite drivers
//
// The default build uses the pure Go modernc.org/sqlite driver. Building with
// -tags sqlite_cgo switches to github.com/mattn/go-sqlite3. The schema is
// versioned with semantic versions and migrated on open.
package storage
