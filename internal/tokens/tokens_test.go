package tokens

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/contextrag/pkg/types"
)

// text returns a string estimated at exactly n tokens by the default heuristic
func text(n int, fill string) string {
	return strings.Repeat(fill, n*DefaultCharsPerToken)
}

func TestCharEstimator(t *testing.T) {
	e := CharEstimator{CharsPerToken: 4}
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
		{"日本語です", 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.Count(tt.in), "input %q", tt.in)
	}
	assert.Equal(t, 1, CharEstimator{}.Count("abc"))
}

func TestEstimateMessages(t *testing.T) {
	m := New(Config{})
	msgs := []types.Message{
		{Role: types.RoleUser, Content: text(10, "u")},
		{Role: types.RoleAssistant, Content: ""},
	}
	assert.Equal(t, 10+4+0+4, m.EstimateMessages(msgs))
	assert.Zero(t, m.EstimateMessages(nil))
}

func TestAvailableContextTokens(t *testing.T) {
	m := New(Config{})

	assert.Equal(t, 128000-4000, m.AvailableContextTokens("gpt-4o", nil))
	assert.Equal(t, 16000-4000, m.AvailableContextTokens("unknown-model", nil))
	assert.Equal(t, 8192-4000-(100+4), m.AvailableContextTokens("gpt-4", []types.Message{{Content: text(100, "a")}}))

	huge := []types.Message{{Content: text(20000, "a")}}
	assert.Equal(t, 2000, m.AvailableContextTokens("gpt-4", huge))
}

func TestConfigDefaults(t *testing.T) {
	m := New(Config{ModelLimits: map[string]int{"tiny": 5000}})
	assert.Equal(t, 5000, m.ModelLimit("tiny"))
	assert.Equal(t, 16000, m.ModelLimit("other"))
	assert.Equal(t, 4, m.Config().CharsPerToken)
}

func TestConfigZeroValueMatchesDefaults(t *testing.T) {
	assert.Equal(t, DefaultConfig(), New(Config{}).Config())
}

func TestConfigNegativeMeansNone(t *testing.T) {
	cfg := New(Config{
		ResponseReserve:    -1,
		MinContextTokens:   -1,
		MessageOverhead:    -1,
		ChunkOverhead:      -1,
		FormattingOverhead: -1,
		KeepMinMessages:    -1,
		HistoryShare:       -0.5,
	}).Config()

	assert.Zero(t, cfg.ResponseReserve)
	assert.Zero(t, cfg.MinContextTokens)
	assert.Zero(t, cfg.MessageOverhead)
	assert.Zero(t, cfg.ChunkOverhead)
	assert.Zero(t, cfg.FormattingOverhead)
	assert.Zero(t, cfg.KeepMinMessages)
	assert.Zero(t, cfg.HistoryShare)

	assert.Equal(t, 1.0, New(Config{HistoryShare: 3}).Config().HistoryShare)
}

func TestPrepareContextForChat_ZeroConfigKeepsHistory(t *testing.T) {
	m := New(Config{})
	msgs := history(10, 100)

	out := m.PrepareContextForChat(ChatRequest{Model: "gpt-4o", Query: "q", History: msgs})

	assert.Equal(t, 128000-4000, out.Breakdown.Limit)
	assert.Equal(t, msgs, out.History)
	assert.Equal(t, m.EstimateMessages(msgs), out.Breakdown.History)
}

func TestTruncateToLimit_NoTruncation(t *testing.T) {
	m := New(DefaultConfig())
	r := m.TruncateToLimit("short text", 100)
	assert.False(t, r.WasTruncated)
	assert.Equal(t, "short text", r.Text)
	assert.Equal(t, r.OriginalTokens, r.TruncatedTokens)
}

func TestTruncateToLimit_CutsAtLateNewline(t *testing.T) {
	m := New(DefaultConfig())

	// Target is 40 chars, newline at 35 (> 32) wins
	in := strings.Repeat("a", 35) + "\n" + strings.Repeat("b", 100)
	r := m.TruncateToLimit(in, 10)
	require.True(t, r.WasTruncated)
	assert.Equal(t, strings.Repeat("a", 35)+TruncationMarker, r.Text)
	assert.Equal(t, 34, r.OriginalTokens)
	assert.Equal(t, m.EstimateTokens(r.Text), r.TruncatedTokens)
}

func TestTruncateToLimit_IgnoresEarlyNewline(t *testing.T) {
	m := New(DefaultConfig())

	// Newline at 10 is before 80% of the 40-char target
	in := strings.Repeat("a", 10) + "\n" + strings.Repeat("b", 100)
	r := m.TruncateToLimit(in, 10)
	require.True(t, r.WasTruncated)
	assert.Equal(t, in[:40]+TruncationMarker, r.Text)
}

func TestTruncateToLimit_RuneSafe(t *testing.T) {
	m := New(DefaultConfig())
	in := strings.Repeat("日", 100)
	r := m.TruncateToLimit(in, 5)
	require.True(t, r.WasTruncated)
	assert.Equal(t, strings.Repeat("日", 20)+TruncationMarker, r.Text)
}

func TestFit(t *testing.T) {
	m := New(DefaultConfig())
	in := text(500, "z")
	for _, max := range []int{0, 5, 13, 14, 20, 100, 499} {
		out := m.fit(in, max)
		assert.LessOrEqual(t, m.EstimateTokens(out), max, "max %d", max)
	}
	assert.Equal(t, in, m.fit(in, 500))
}

func history(n, tokensEach int) []types.Message {
	msgs := make([]types.Message, n)
	for i := range msgs {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		// A distinct prefix keeps messages distinguishable
		prefix := fmt.Sprintf("msg %03d ", i)
		msgs[i] = types.Message{Role: role, Content: prefix + strings.Repeat("h", tokensEach*4-len(prefix))}
	}
	return msgs
}

func TestPruneHistory_WithinBudget(t *testing.T) {
	m := New(DefaultConfig())
	msgs := history(3, 10)

	p := m.PruneHistory(msgs, 1000, m.HistoryOptions())
	assert.Equal(t, msgs, p.Messages)
	assert.Equal(t, 3, p.PrunedCount)
	assert.Equal(t, p.OriginalTokens, p.PrunedTokens)
}

func TestPruneHistory_TruncatesLongMessages(t *testing.T) {
	m := New(DefaultConfig())
	msgs := []types.Message{{Role: types.RoleUser, Content: text(3000, "x")}}

	p := m.PruneHistory(msgs, 100000, m.HistoryOptions())
	require.Len(t, p.Messages, 1)
	assert.True(t, strings.HasSuffix(p.Messages[0].Content, TruncationMarker))
	assert.Equal(t, text(3000, "x"), msgs[0].Content, "input must not be modified")
}

func TestPruneHistory_DropsOldest(t *testing.T) {
	m := New(DefaultConfig())
	msgs := history(10, 100) // 104 each with overhead

	p := m.PruneHistory(msgs, 520, m.HistoryOptions())
	require.Len(t, p.Messages, 5)
	assert.Equal(t, msgs[5:], p.Messages)
	assert.LessOrEqual(t, p.PrunedTokens, 520)
	assert.Equal(t, 10, p.OriginalCount)
}

func TestPruneHistory_MinimumRetention(t *testing.T) {
	m := New(DefaultConfig())
	msgs := history(10, 1000)

	p := m.PruneHistory(msgs, 1100, m.HistoryOptions())
	require.Len(t, p.Messages, 4)

	// The newest fits whole; the older ones are hard-truncated
	assert.Equal(t, msgs[9], p.Messages[3])
	for _, msg := range p.Messages[:3] {
		assert.True(t, strings.HasSuffix(msg.Content, TruncationMarker))
		assert.LessOrEqual(t, m.EstimateTokens(msg.Content), 200+m.EstimateTokens(TruncationMarker))
	}
	assert.Equal(t, msgs[6].Role, p.Messages[0].Role)
}

func TestPruneHistory_MinimumRetentionProperty(t *testing.T) {
	m := New(DefaultConfig())
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		n := rng.Intn(12)
		msgs := make([]types.Message, n)
		for j := range msgs {
			msgs[j] = types.Message{Role: types.RoleUser, Content: text(rng.Intn(3000), "q")}
		}
		keep := rng.Intn(6)
		budget := rng.Intn(4000)

		p := m.PruneHistory(msgs, budget, HistoryOptions{
			KeepMinMessages:      keep,
			TruncateLongMessages: rng.Intn(2) == 0,
			MaxMessageTokens:     2000,
		})
		assert.GreaterOrEqual(t, len(p.Messages), min(keep, n))
		if len(p.Messages) > 0 && n > 0 && m.EstimateMessages(msgs[n-1:]) <= budget {
			assert.Equal(t, msgs[n-1].Role, p.Messages[len(p.Messages)-1].Role)
		}
	}
}

func chunks(n, tokensEach int) []types.ContextChunk {
	out := make([]types.ContextChunk, n)
	for i := range out {
		out[i] = types.ContextChunk{
			Text:     text(tokensEach, string(rune('a'+i%26))),
			FilePath: fmt.Sprintf("src/file%02d.go", i),
			Score:    1 - float64(i)*0.01,
		}
	}
	return out
}

func TestPruneContextChunks_AllFit(t *testing.T) {
	m := New(DefaultConfig())
	in := chunks(3, 100)

	p := m.PruneContextChunks(in, 1000)
	assert.Equal(t, in, p.Chunks)
	assert.Equal(t, 3, p.KeptChunks)
	assert.Equal(t, 300, p.OriginalTokens)
	assert.True(t, strings.HasPrefix(p.CombinedText, "// [1] From src/file00.go (relevance: 100.0%):\n"))
	assert.Contains(t, p.CombinedText, "\n\n// [2] From src/file01.go (relevance: 99.0%):\n")
}

func TestPruneContextChunks_PartialFill(t *testing.T) {
	m := New(DefaultConfig())
	in := chunks(5, 1000)

	// Two whole chunks cost 2100, leaving 400 > 150
	p := m.PruneContextChunks(in, 2500)
	require.Len(t, p.Chunks, 3)
	assert.Equal(t, in[:2], p.Chunks[:2])
	assert.True(t, strings.HasSuffix(p.Chunks[2].Text, TruncationMarker))
	assert.Equal(t, in[2].FilePath, p.Chunks[2].FilePath)
	assert.LessOrEqual(t, p.PrunedTokens, 2500)
}

func TestPruneContextChunks_SliverDropped(t *testing.T) {
	m := New(DefaultConfig())
	in := chunks(5, 1000)

	// 2100 used, 100 left is not more than 150
	p := m.PruneContextChunks(in, 2200)
	assert.Equal(t, in[:2], p.Chunks)
}

func TestPruneContextChunks_NeverReorders(t *testing.T) {
	m := New(DefaultConfig())
	in := []types.ContextChunk{
		{Text: text(500, "a"), FilePath: "a.go", Score: 0.9},
		{Text: text(10, "b"), FilePath: "b.go", Score: 0.8},
	}

	// The small chunk would fit alone, but the large one comes first
	p := m.PruneContextChunks(in, 100)
	assert.Empty(t, p.Chunks)
	assert.Equal(t, "", p.CombinedText)
}

func TestPruneContextChunks_LongPathsStayInBudget(t *testing.T) {
	m := New(DefaultConfig())
	in := make([]types.ContextChunk, 20)
	for i := range in {
		in[i] = types.ContextChunk{Text: "x", FilePath: strings.Repeat("deep/", 60) + "f.go", Score: 0.5}
	}

	p := m.PruneContextChunks(in, 500)
	assert.LessOrEqual(t, p.PrunedTokens, 500)
	assert.NotEmpty(t, p.Chunks)
}

func TestPrepareContextForChat_ContextOverflow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelLimits = map[string]int{"test-model": 12000, DefaultModel: 16000}
	m := New(cfg)

	msgs := history(50, 500)
	req := ChatRequest{
		Model:        "test-model",
		SystemPrompt: "You are a helpful coding assistant.",
		Query:        "How does the indexer skip unchanged files?",
		History:      msgs,
		Chunks:       chunks(20, 1000),
	}

	out := m.PrepareContextForChat(req)

	assert.Equal(t, 8000, out.Breakdown.Limit)
	assert.LessOrEqual(t, out.Breakdown.Total, 8000)
	assert.NotEmpty(t, out.History)
	assert.NotEmpty(t, out.Context)
	assert.Equal(t, msgs[49], out.History[len(out.History)-1])
	assert.Equal(t, req.SystemPrompt, out.SystemPrompt)
	assert.Equal(t, req.Query, out.Query)

	b := out.Breakdown
	assert.Equal(t, b.System+b.History+b.Context+b.Query, b.Total)
	assert.Equal(t, m.EstimateMessages(out.History), b.History)
	assert.Equal(t, m.EstimateTokens(out.Context), b.Context)
}

func TestPrepareContextForChat_BudgetCompliance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelLimits = map[string]int{"small": 6000, "tight": 1000, DefaultModel: 16000}
	m := New(cfg)
	rng := rand.New(rand.NewSource(7))

	models := []string{"small", "tight", "gpt-4", "unknown"}
	for i := 0; i < 300; i++ {
		req := ChatRequest{
			Model:        models[rng.Intn(len(models))],
			SystemPrompt: text(rng.Intn(3000), "s"),
			Query:        text(rng.Intn(3000), "q"),
			History:      history(rng.Intn(30), 10+rng.Intn(800)),
			Chunks:       chunks(rng.Intn(25), 1+rng.Intn(1500)),
		}

		out := m.PrepareContextForChat(req)
		b := out.Breakdown
		require.LessOrEqual(t, b.Total, b.Limit, "iteration %d", i)
		assert.Equal(t, b.System+b.History+b.Context+b.Query, b.Total)
		assert.NotNil(t, out.History)
		assert.NotNil(t, out.Chunks)
	}
}

func TestPrepareContextForChat_OversizedFixedParts(t *testing.T) {
	m := New(DefaultConfig())

	out := m.PrepareContextForChat(ChatRequest{
		Model:        "gpt-4",
		SystemPrompt: text(9000, "s"),
		Query:        text(9000, "q"),
		History:      history(4, 100),
		Chunks:       chunks(3, 100),
	})

	b := out.Breakdown
	assert.LessOrEqual(t, b.Total, b.Limit)
	assert.NotEmpty(t, out.Query)
	assert.True(t, strings.HasSuffix(out.SystemPrompt, TruncationMarker))
}

func TestPrepareContextForChat_Empty(t *testing.T) {
	m := New(DefaultConfig())
	out := m.PrepareContextForChat(ChatRequest{Model: "gpt-4o", Query: "hi"})

	assert.Empty(t, out.History)
	assert.Equal(t, "", out.Context)
	assert.Equal(t, 1, out.Breakdown.Query)
	assert.Equal(t, 1, out.Breakdown.Total)
}

func TestPrepareContextForChat_AdaptiveSplit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelLimits = map[string]int{"m": 10000, DefaultModel: 16000}
	in := ChatRequest{Model: "m", Query: "q", Chunks: chunks(10, 1000)}

	fixed := New(cfg).PrepareContextForChat(in)

	cfg.AdaptiveSplit = true
	adaptive := New(cfg).PrepareContextForChat(in)

	assert.Greater(t, len(adaptive.Chunks), len(fixed.Chunks))
	assert.LessOrEqual(t, adaptive.Breakdown.Total, adaptive.Breakdown.Limit)
}
