package tokens

import (
	"github.com/rs/zerolog"

	"github.com/dshills/contextrag/pkg/types"
)

// TruncationMarker is appended to every truncated text
const TruncationMarker = "\n\n[... content truncated to fit context window ...]"

// DefaultModel is the key of the fallback entry in the model limits table
const DefaultModel = "default"

// DefaultModelLimits maps model names to context window sizes
func DefaultModelLimits() map[string]int {
	return map[string]int{
		"gpt-4o":                128000,
		"gpt-4":                 8192,
		"gpt-4-turbo":           128000,
		"gpt-5-mini":            128000,
		"gpt-5-mini-2025-08-07": 128000,
		"gpt-5.2":               128000,
		"o1-mini":               128000,
		DefaultModel:            16000,
	}
}

// Config holds every budget constant. A zero field takes its default; set a
// negative value to request an actual zero for reserves, overheads, the
// minimum retained history and HistoryShare.
type Config struct {
	ModelLimits          map[string]int `mapstructure:"model_limits"`
	CharsPerToken        int            `mapstructure:"chars_per_token"`
	ResponseReserve      int            `mapstructure:"response_reserve"`
	MinContextTokens     int            `mapstructure:"min_context_tokens"`
	MessageOverhead      int            `mapstructure:"message_overhead"`
	ChunkOverhead        int            `mapstructure:"chunk_overhead"`
	FormattingOverhead   int            `mapstructure:"formatting_overhead"`
	HistoryShare         float64        `mapstructure:"history_share"`
	KeepMinMessages      int            `mapstructure:"keep_min_messages"`
	MaxMessageTokens     int            `mapstructure:"max_message_tokens"`
	ForcedTruncateTokens int            `mapstructure:"forced_truncate_tokens"`
	AdaptiveSplit        bool           `mapstructure:"adaptive_split"`
}

// DefaultConfig returns the standard budget constants
func DefaultConfig() Config {
	return Config{
		ModelLimits:          DefaultModelLimits(),
		CharsPerToken:        DefaultCharsPerToken,
		ResponseReserve:      4000,
		MinContextTokens:     2000,
		MessageOverhead:      4,
		ChunkOverhead:        50,
		FormattingOverhead:   50,
		HistoryShare:         0.4,
		KeepMinMessages:      4,
		MaxMessageTokens:     2000,
		ForcedTruncateTokens: 200,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if len(c.ModelLimits) == 0 {
		c.ModelLimits = d.ModelLimits
	}
	if _, ok := c.ModelLimits[DefaultModel]; !ok {
		limits := make(map[string]int, len(c.ModelLimits)+1)
		for k, v := range c.ModelLimits {
			limits[k] = v
		}
		limits[DefaultModel] = d.ModelLimits[DefaultModel]
		c.ModelLimits = limits
	}
	if c.CharsPerToken <= 0 {
		c.CharsPerToken = d.CharsPerToken
	}
	if c.MaxMessageTokens <= 0 {
		c.MaxMessageTokens = d.MaxMessageTokens
	}
	if c.ForcedTruncateTokens <= 0 {
		c.ForcedTruncateTokens = d.ForcedTruncateTokens
	}

	c.ResponseReserve = orDefault(c.ResponseReserve, d.ResponseReserve)
	c.MinContextTokens = orDefault(c.MinContextTokens, d.MinContextTokens)
	c.MessageOverhead = orDefault(c.MessageOverhead, d.MessageOverhead)
	c.ChunkOverhead = orDefault(c.ChunkOverhead, d.ChunkOverhead)
	c.FormattingOverhead = orDefault(c.FormattingOverhead, d.FormattingOverhead)
	c.KeepMinMessages = orDefault(c.KeepMinMessages, d.KeepMinMessages)

	switch {
	case c.HistoryShare == 0:
		c.HistoryShare = d.HistoryShare
	case c.HistoryShare < 0:
		c.HistoryShare = 0
	case c.HistoryShare > 1:
		c.HistoryShare = 1
	}
	return c
}

// orDefault maps 0 to def and negative values to 0
func orDefault(v, def int) int {
	switch {
	case v == 0:
		return def
	case v < 0:
		return 0
	}
	return v
}

// Manager estimates and enforces token budgets. It holds no mutable state and
// is safe for concurrent use.
type Manager struct {
	cfg       Config
	estimator Estimator
	logger    zerolog.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithEstimator replaces the character heuristic
func WithEstimator(e Estimator) Option {
	return func(m *Manager) {
		if e != nil {
			m.estimator = e
		}
	}
}

// WithLogger sets the logger used for budget reports
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = l.With().Str("component", "tokens").Logger()
	}
}

// New creates a Manager. Zero-valued fields of cfg take their defaults.
func New(cfg Config, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:       cfg,
		estimator: CharEstimator{CharsPerToken: cfg.CharsPerToken},
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective configuration
func (m *Manager) Config() Config {
	return m.cfg
}

// ModelLimit returns the context window of model, falling back to the default entry
func (m *Manager) ModelLimit(model string) int {
	if limit, ok := m.cfg.ModelLimits[model]; ok && limit > 0 {
		return limit
	}
	return m.cfg.ModelLimits[DefaultModel]
}

// EstimateTokens returns the token cost of text
func (m *Manager) EstimateTokens(text string) int {
	return m.estimator.Count(text)
}

// EstimateMessages returns the cost of messages including per-message overhead
func (m *Manager) EstimateMessages(messages []types.Message) int {
	total := 0
	for _, msg := range messages {
		total += m.estimateMessage(msg)
	}
	return total
}

func (m *Manager) estimateMessage(msg types.Message) int {
	return m.estimator.Count(msg.Content) + m.cfg.MessageOverhead
}

// AvailableContextTokens returns the model limit minus existing messages and the
// response reserve, floored at MinContextTokens
func (m *Manager) AvailableContextTokens(model string, existing []types.Message) int {
	available := m.ModelLimit(model) - m.EstimateMessages(existing) - m.cfg.ResponseReserve
	if available < m.cfg.MinContextTokens {
		return m.cfg.MinContextTokens
	}
	return available
}

// TruncationResult describes the outcome of TruncateToLimit
type TruncationResult struct {
	Text            string `json:"text"`
	OriginalTokens  int    `json:"originalTokens"`
	TruncatedTokens int    `json:"truncatedTokens"`
	WasTruncated    bool   `json:"wasTruncated"`
}

// TruncateToLimit cuts text to the character budget implied by maxTokens. When the
// last newline before the cut lies beyond 80% of it, the cut moves back to that
// newline. A marker is appended to truncated text, so the result may exceed
// maxTokens by the marker's cost.
func (m *Manager) TruncateToLimit(text string, maxTokens int) TruncationResult {
	original := m.estimator.Count(text)
	if original <= maxTokens {
		return TruncationResult{
			Text:            text,
			OriginalTokens:  original,
			TruncatedTokens: original,
		}
	}

	if maxTokens < 0 {
		maxTokens = 0
	}
	target := maxTokens * m.cfg.CharsPerToken
	runes := []rune(text)
	if target > len(runes) {
		target = len(runes)
	}
	cut := runes[:target]

	if nl := lastNewline(cut); nl >= 0 && float64(nl) > float64(target)*0.8 {
		cut = cut[:nl]
	}

	truncated := string(cut) + TruncationMarker
	return TruncationResult{
		Text:            truncated,
		OriginalTokens:  original,
		TruncatedTokens: m.estimator.Count(truncated),
		WasTruncated:    true,
	}
}

// fit truncates text so that its estimated cost including the marker is at most
// maxTokens. Budgets too small for the marker yield the empty string.
func (m *Manager) fit(text string, maxTokens int) string {
	if m.estimator.Count(text) <= maxTokens {
		return text
	}

	target := maxTokens - m.estimator.Count(TruncationMarker)
	for target > 0 {
		r := m.TruncateToLimit(text, target)
		over := r.TruncatedTokens - maxTokens
		if over <= 0 {
			return r.Text
		}
		target -= over
	}
	return ""
}

func lastNewline(rs []rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == '\n' {
			return i
		}
	}
	return -1
}
