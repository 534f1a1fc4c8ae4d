package tokens

import (
	"github.com/dshills/contextrag/pkg/types"
)

// HistoryOptions tune PruneHistory
type HistoryOptions struct {
	KeepMinMessages      int
	TruncateLongMessages bool
	MaxMessageTokens     int
}

// HistoryOptions returns the options derived from the manager's configuration
func (m *Manager) HistoryOptions() HistoryOptions {
	return HistoryOptions{
		KeepMinMessages:      m.cfg.KeepMinMessages,
		TruncateLongMessages: true,
		MaxMessageTokens:     m.cfg.MaxMessageTokens,
	}
}

// PrunedHistory is the outcome of PruneHistory
type PrunedHistory struct {
	Messages       []types.Message `json:"messages"`
	OriginalCount  int             `json:"originalCount"`
	PrunedCount    int             `json:"prunedCount"`
	OriginalTokens int             `json:"originalTokens"`
	PrunedTokens   int             `json:"prunedTokens"`
}

// PruneHistory fits messages into maxTokens in two phases. First every message
// above MaxMessageTokens is truncated on its own. If the history is still over
// budget, messages are kept from newest to oldest until the next one does not
// fit. While fewer than KeepMinMessages are kept, a message that does not fit is
// hard-truncated and kept instead of dropped, so the result never holds fewer
// than min(KeepMinMessages, len(messages)) messages even when that exceeds the
// budget. The input slice is not modified.
func (m *Manager) PruneHistory(messages []types.Message, maxTokens int, opts HistoryOptions) PrunedHistory {
	original := m.EstimateMessages(messages)
	out := PrunedHistory{
		OriginalCount:  len(messages),
		OriginalTokens: original,
	}

	if original <= maxTokens && !opts.TruncateLongMessages {
		out.Messages = append([]types.Message(nil), messages...)
		out.PrunedCount = len(out.Messages)
		out.PrunedTokens = original
		return out
	}

	processed := make([]types.Message, len(messages))
	copy(processed, messages)
	if opts.TruncateLongMessages {
		maxMsg := opts.MaxMessageTokens
		if maxMsg <= 0 {
			maxMsg = m.cfg.MaxMessageTokens
		}
		for i, msg := range processed {
			if m.estimator.Count(msg.Content) > maxMsg {
				processed[i].Content = m.TruncateToLimit(msg.Content, maxMsg).Text
			}
		}
	}

	if current := m.EstimateMessages(processed); current <= maxTokens {
		out.Messages = processed
		out.PrunedCount = len(processed)
		out.PrunedTokens = current
		return out
	}

	keepMin := opts.KeepMinMessages
	if keepMin < 0 {
		keepMin = 0
	}

	// Filled from the back so the kept messages stay in chronological order
	kept := make([]types.Message, len(processed))
	n := 0
	budget := maxTokens
	for i := len(processed) - 1; i >= 0; i-- {
		msg := processed[i]
		cost := m.estimateMessage(msg)

		if cost <= budget {
			n++
			kept[len(kept)-n] = msg
			budget -= cost
			continue
		}
		if n >= keepMin {
			break
		}

		msg.Content = m.TruncateToLimit(msg.Content, m.cfg.ForcedTruncateTokens).Text
		n++
		kept[len(kept)-n] = msg
		budget -= m.estimateMessage(msg)
	}

	out.Messages = kept[len(kept)-n:]
	out.PrunedCount = n
	out.PrunedTokens = m.EstimateMessages(out.Messages)
	return out
}
