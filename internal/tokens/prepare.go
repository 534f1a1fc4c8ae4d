package tokens

import (
	"github.com/dshills/contextrag/pkg/types"
)

// ChatRequest is the unbounded input of one chat turn
type ChatRequest struct {
	Model        string
	SystemPrompt string
	Query        string
	History      []types.Message
	Chunks       []types.ContextChunk // Highest relevance first
}

// ChatContext is the bounded payload ready for the completion provider
type ChatContext struct {
	SystemPrompt string               `json:"systemPrompt,omitempty"`
	History      []types.Message      `json:"history"`
	Context      string               `json:"context"`
	Chunks       []types.ContextChunk `json:"chunks"`
	Query        string               `json:"query"`
	Breakdown    types.TokenBreakdown `json:"tokenBreakdown"`
}

// PrepareContextForChat fits a chat turn into the model's available budget.
// The fixed cost of system prompt and query is taken first. The rest is split
// between history and retrieved context by HistoryShare, and each side is pruned
// against its share. If the parts still exceed the limit, the least relevant
// chunks go first, then the oldest messages. It never fails: the returned
// Breakdown.Total is always at most Breakdown.Limit.
func (m *Manager) PrepareContextForChat(req ChatRequest) ChatContext {
	limit := m.AvailableContextTokens(req.Model, nil)

	system, query := m.fitFixed(req.SystemPrompt, req.Query, limit)
	systemTokens := m.estimator.Count(system)
	queryTokens := m.estimator.Count(query)

	remaining := limit - systemTokens - queryTokens - m.cfg.FormattingOverhead
	if remaining < 0 {
		remaining = 0
	}
	historyBudget, contextBudget := m.split(remaining, req.History, req.Chunks)

	history := m.PruneHistory(req.History, historyBudget, m.HistoryOptions())
	ctx := m.PruneContextChunks(req.Chunks, contextBudget)

	messages := history.Messages
	chunks := ctx.Chunks
	contextText := ctx.CombinedText
	historyTokens := history.PrunedTokens
	contextTokens := ctx.PrunedTokens

	// Minimum history retention may overshoot the history share
	for systemTokens+queryTokens+historyTokens+contextTokens > limit {
		switch {
		case len(chunks) > 0:
			chunks = chunks[:len(chunks)-1]
			contextText = FormatChunks(chunks)
			contextTokens = m.estimator.Count(contextText)
		case len(messages) > 0:
			messages = messages[1:]
			historyTokens = m.EstimateMessages(messages)
		default:
			// fitFixed guarantees system and query fit on their own
			historyTokens, contextTokens = 0, 0
		}
	}

	breakdown := types.TokenBreakdown{
		System:  systemTokens,
		History: historyTokens,
		Context: contextTokens,
		Query:   queryTokens,
		Total:   systemTokens + historyTokens + contextTokens + queryTokens,
		Limit:   limit,
	}

	m.logger.Debug().
		Str("model", req.Model).
		Int("history_original", len(req.History)).
		Int("history_kept", len(messages)).
		Int("context_original", len(req.Chunks)).
		Int("context_kept", len(chunks)).
		Int("total", breakdown.Total).
		Int("limit", breakdown.Limit).
		Msg("context prepared")

	if messages == nil {
		messages = []types.Message{}
	}
	if chunks == nil {
		chunks = []types.ContextChunk{}
	}
	return ChatContext{
		SystemPrompt: system,
		History:      messages,
		Context:      contextText,
		Chunks:       chunks,
		Query:        query,
		Breakdown:    breakdown,
	}
}

// fitFixed truncates the system prompt, then the query, until both fit in
// limit minus the formatting overhead. The query keeps at least half of that room
// when both are oversized.
func (m *Manager) fitFixed(system, query string, limit int) (string, string) {
	room := limit - m.cfg.FormattingOverhead
	if room < 0 {
		room = 0
	}

	queryTokens := m.estimator.Count(query)
	if m.estimator.Count(system)+queryTokens <= room {
		return system, query
	}

	systemRoom := room - queryTokens
	if systemRoom < room/2 {
		systemRoom = room / 2
	}
	system = m.fit(system, systemRoom)
	query = m.fit(query, room-m.estimator.Count(system))
	return system, query
}

// split divides remaining between history and context by HistoryShare. With
// AdaptiveSplit the share one side cannot use is offered to the other.
func (m *Manager) split(remaining int, history []types.Message, chunks []types.ContextChunk) (int, int) {
	historyBudget := int(float64(remaining) * m.cfg.HistoryShare)
	contextBudget := int(float64(remaining) * (1 - m.cfg.HistoryShare))
	if !m.cfg.AdaptiveSplit {
		return historyBudget, contextBudget
	}

	historyNeed := m.EstimateMessages(history)
	contextNeed := 0
	for _, c := range chunks {
		contextNeed += m.estimator.Count(c.Text) + m.cfg.ChunkOverhead
	}

	switch {
	case historyNeed < historyBudget:
		contextBudget += historyBudget - historyNeed
		historyBudget = historyNeed
	case contextNeed < contextBudget:
		historyBudget += contextBudget - contextNeed
		contextBudget = contextNeed
	}
	return historyBudget, contextBudget
}
