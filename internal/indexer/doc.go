// Package indexer walks a file tree and keeps the vector index in step with it.
//
// For each eligible file the indexer chunks the text, compares chunk hashes with
// the index, and when the file is stale re-embeds the changed chunks through the
// embedding cache before replacing the file's entries in the index.
//
// Folders named in Config.SkipDirs are skipped with everything below them.
// Files are filtered by extension and size. Empty, oversized and unchanged files
// count as skipped; chunks an empty or oversized file left from an earlier run
// are removed. A failing file is recorded in Result.Errors without stopping
// the run; a full index stops it.
//
// Only one run may be active per Indexer. A second concurrent call returns
// ErrIndexingInProgress.
package indexer
