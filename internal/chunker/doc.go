// Package chunker divides file content into fixed-size line windows for embedding.
//
// Chunking is deterministic and side-effect free: the same text always yields the
// same sequence, which is what makes hash-based change detection meaningful.
//
// # Basic Usage
//
//	c := chunker.New(chunker.DefaultWindowSize)
//	chunks := c.ChunkFile("internal/app/server.go", content)
//
//	for _, chunk := range chunks {
//	    fmt.Printf("chunk %d: %s\n", chunk.ChunkIndex, chunk.Hash[:12])
//	}
//
// # Windows
//
// Text is split on "\n" only and every windowSize consecutive lines form one chunk.
// Nothing is dropped or trimmed, so
//
//	strings.Join(chunker.Chunk(text, n), "\n") == text
//
// holds for every text and every n >= 1. The empty string produces exactly one empty
// chunk.
//
// # Content Hashing
//
// Each chunk is identified by the hex SHA-256 digest of its text:
//
//	hashes := chunker.HashChunks(chunker.Chunk(text, 50))
//
// Hashes are compared position by position against the previous pass to find the
// chunks that need re-embedding.
package chunker
