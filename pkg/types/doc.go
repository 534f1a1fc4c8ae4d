// Package types provides shared record definitions for the contextrag pipeline.
//
// # Core Types
//
// Chunk is a line window of one file, identified by its path and position:
//
//	chunk := types.Chunk{
//	    Text:       "func main() {\n}",
//	    FilePath:   "cmd/app/main.go",
//	    ChunkIndex: 0,
//	    Hash:       chunker.HashChunk("func main() {\n}"),
//	}
//
// IndexEntry is the persisted metadata owned by the vector index. Its ID joins the
// entry to the graph point holding the vector.
//
// SearchResult and ContextChunk carry ranked retrieval hits into the token manager,
// and TokenBreakdown reports how a model's budget was spent on one request.
//
// # Errors
//
// Every component wraps one of the taxonomy sentinels so that callers can classify a
// failure without knowing which package produced it:
//
//	if errors.Is(err, types.ErrCapacity) {
//	    // stop indexing, the index is full
//	}
package types
