// Package vectorindex is a persistent approximate nearest-neighbour index over
// code chunks.
//
// An Index couples an in-process HNSW graph (cosine distance) with a metadata
// table mapping graph ids to chunk records and a per-file list of chunk hashes.
// The graph cannot delete points, so replacing a file removes only its metadata;
// the old points become orphans that are skipped at query time and still count
// against Capacity. Stats reports how many there are. Clear followed by a full
// re-index is the only way to reclaim them.
//
// State lives in two sibling files under Config.Dir:
//
//	hnsw_index.bin      little-endian graph blob (magic, version, header, nodes)
//	hnsw_metadata.json  {"chunks": [...], "fileHashes": {...}, "nextId": n, "dimension": d}
//
// Persist must be called after mutations; it is the only durability mechanism.
// A crash before Persist loses those updates, and the next indexing pass sees
// the affected files as stale again.
package vectorindex
