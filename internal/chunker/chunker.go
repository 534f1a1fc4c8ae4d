package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/dshills/contextrag/pkg/types"
)

// DefaultWindowSize is the number of lines grouped into one chunk
const DefaultWindowSize = 50

// Chunker splits file content into fixed-size line windows
type Chunker struct {
	WindowSize int
}

// New creates a Chunker with the given window size.
// A size below 1 selects DefaultWindowSize.
func New(windowSize int) *Chunker {
	if windowSize < 1 {
		windowSize = DefaultWindowSize
	}
	return &Chunker{WindowSize: windowSize}
}

// ChunkFile splits content into chunks attributed to filePath, with hashes computed
func (c *Chunker) ChunkFile(filePath, content string) []types.Chunk {
	texts := Chunk(content, c.WindowSize)

	chunks := make([]types.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = types.Chunk{
			Text:       text,
			FilePath:   filePath,
			ChunkIndex: i,
			Hash:       HashChunk(text),
		}
	}
	return chunks
}

// Chunk splits text on newline boundaries into groups of windowSize lines.
// The last chunk may be shorter. Joining the result with "\n" reproduces text
// exactly, and the empty string yields a single empty chunk.
func Chunk(text string, windowSize int) []string {
	if windowSize < 1 {
		windowSize = DefaultWindowSize
	}

	lines := strings.Split(text, "\n")
	chunks := make([]string, 0, (len(lines)+windowSize-1)/windowSize)

	for start := 0; start < len(lines); start += windowSize {
		end := start + windowSize
		if end > len(lines) {
			end = len(lines)
		}
		chunks = append(chunks, strings.Join(lines[start:end], "\n"))
	}

	return chunks
}

// HashChunk returns the hex SHA-256 digest of a chunk's text
func HashChunk(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// HashChunks hashes every chunk, preserving order
func HashChunks(chunks []string) []string {
	hashes := make([]string, len(chunks))
	for i, c := range chunks {
		hashes[i] = HashChunk(c)
	}
	return hashes
}

// Texts extracts chunk texts, preserving order
func Texts(chunks []types.Chunk) []string {
	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Text
	}
	return texts
}
