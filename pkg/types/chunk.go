package types

import "errors"

// Chunk is a contiguous line-range slice of one file's text content.
// Chunks are recreated on every chunk pass and never mutated afterwards.
type Chunk struct {
	Text       string
	FilePath   string // Logical identifier, not necessarily a real path
	ChunkIndex int    // Position within the file
	Hash       string // Hex content digest
}

// Validate checks that the chunk carries the fields the index needs
func (c *Chunk) Validate() error {
	if c.FilePath == "" {
		return errors.New("chunk file path is required")
	}

	if c.ChunkIndex < 0 {
		return errors.New("chunk index must be non-negative")
	}

	if c.Hash == "" {
		return errors.New("content hash must be computed")
	}

	return nil
}

// IndexEntry is the persisted metadata record for one vector in the index.
// ID is the join key to the graph's internal point id.
type IndexEntry struct {
	ID         int64  `json:"id"`
	Text       string `json:"text"`
	Hash       string `json:"hash"`
	FilePath   string `json:"filePath"`
	ChunkIndex int    `json:"chunkIndex"`
}
