package tokens

import (
	"fmt"
	"strings"

	"github.com/dshills/contextrag/pkg/types"
)

// partialFillMargin is the sliver above ChunkOverhead that must remain before a
// chunk is truncated to fill the rest of the budget
const partialFillMargin = 100

// PrunedContext is the outcome of PruneContextChunks
type PrunedContext struct {
	Chunks         []types.ContextChunk `json:"chunks"`
	CombinedText   string               `json:"combinedText"`
	OriginalChunks int                  `json:"originalChunks"`
	KeptChunks     int                  `json:"keptChunks"`
	OriginalTokens int                  `json:"originalTokens"`
	PrunedTokens   int                  `json:"prunedTokens"`
}

// PruneContextChunks keeps whole chunks in the given relevance order while each
// one plus ChunkOverhead fits. When the next chunk does not fit but more than
// ChunkOverhead+100 tokens remain, that chunk is truncated into the remainder
// and pruning stops. Chunks are never reordered. The formatted text never
// exceeds maxTokens.
func (m *Manager) PruneContextChunks(chunks []types.ContextChunk, maxTokens int) PrunedContext {
	out := PrunedContext{OriginalChunks: len(chunks)}
	for _, c := range chunks {
		out.OriginalTokens += m.estimator.Count(c.Text)
	}

	kept := make([]types.ContextChunk, 0, len(chunks))
	budget := maxTokens
	for _, c := range chunks {
		cost := m.estimator.Count(c.Text) + m.cfg.ChunkOverhead
		if cost <= budget {
			kept = append(kept, c)
			budget -= cost
			continue
		}
		if budget > m.cfg.ChunkOverhead+partialFillMargin {
			c.Text = m.TruncateToLimit(c.Text, budget-m.cfg.ChunkOverhead).Text
			kept = append(kept, c)
		}
		break
	}

	// Headers of long paths can outgrow the per-chunk overhead
	text := FormatChunks(kept)
	for len(kept) > 0 && m.estimator.Count(text) > maxTokens {
		kept = kept[:len(kept)-1]
		text = FormatChunks(kept)
	}

	out.Chunks = kept
	out.CombinedText = text
	out.KeptChunks = len(kept)
	out.PrunedTokens = m.estimator.Count(text)
	return out
}

// FormatChunks renders chunks as numbered, attributed blocks separated by blank lines
func FormatChunks(chunks []types.ContextChunk) string {
	if len(chunks) == 0 {
		return ""
	}

	var b strings.Builder
	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "// [%d] From %s (relevance: %.1f%%):\n%s", i+1, c.FilePath, c.Score*100, c.Text)
	}
	return b.String()
}
