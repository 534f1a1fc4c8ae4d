package types

// SearchResult is a single ranked hit returned by the vector index
type SearchResult struct {
	Text     string  `json:"text"`
	FilePath string  `json:"filePath"`
	Score    float64 `json:"score"` // 1 - cosine distance; 1.0 means same direction
}

// ContextChunk is a retrieved chunk offered to the token manager for pruning.
// Chunks arrive ordered by relevance, highest first.
type ContextChunk struct {
	Text     string  `json:"text"`
	FilePath string  `json:"filePath"`
	Score    float64 `json:"score"`
}

// ToContextChunks converts ranked search results into pruning input, preserving order
func ToContextChunks(results []SearchResult) []ContextChunk {
	chunks := make([]ContextChunk, len(results))
	for i, r := range results {
		chunks[i] = ContextChunk{
			Text:     r.Text,
			FilePath: r.FilePath,
			Score:    r.Score,
		}
	}
	return chunks
}
