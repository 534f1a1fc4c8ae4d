// Package assembler turns a chat turn into a bounded prompt: it retrieves the
// chunks most relevant to the query and lets the token manager fit them, the
// conversation history and the query into the model's budget.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dshills/contextrag/internal/searcher"
	"github.com/dshills/contextrag/internal/tokens"
	"github.com/dshills/contextrag/pkg/types"
)

// Defaults applied to empty request fields
const (
	DefaultModel        = "gpt-4o"
	DefaultTopK         = 10
	DefaultSystemPrompt = "You are a helpful AI coding assistant. You are precise and concise. " +
		"Format your responses using markdown when appropriate."
)

// ErrEmptyQuery is returned when the query is blank
var ErrEmptyQuery = errors.New("query cannot be empty")

// Retriever finds the chunks relevant to a query
type Retriever interface {
	Search(ctx context.Context, req searcher.Request) (*searcher.Response, error)
}

// Request is one chat turn
type Request struct {
	Model          string
	SystemPrompt   string
	Query          string
	History        []types.Message
	TopK           int
	FilterFilePath string
	MinScore       float64
}

// Prompt is the bounded payload for the completion provider
type Prompt struct {
	SystemPrompt string               `json:"systemPrompt"`
	History      []types.Message      `json:"history"`
	Context      string               `json:"context"`
	Query        string               `json:"query"`
	Breakdown    types.TokenBreakdown `json:"tokenBreakdown"`
	Sources      []types.ContextChunk `json:"sources"`

	// Degraded is set when retrieval failed and the prompt carries no context
	Degraded bool `json:"degraded"`
}

// Messages renders the prompt in completion-provider order: the system prompt,
// the retrieved context as a second system message, the history and the query.
func (p *Prompt) Messages() []types.Message {
	msgs := make([]types.Message, 0, len(p.History)+3)
	if p.SystemPrompt != "" {
		msgs = append(msgs, types.Message{Role: types.RoleSystem, Content: p.SystemPrompt})
	}
	if p.Context != "" {
		msgs = append(msgs, types.Message{
			Role: types.RoleSystem,
			Content: "Here is some relevant context from the codebase:\n\n" + p.Context +
				"\n\nUse this context to inform your response when relevant.",
		})
	}
	msgs = append(msgs, p.History...)
	msgs = append(msgs, types.Message{Role: types.RoleUser, Content: p.Query})
	return msgs
}

// Assembler composes retrieval and budgeting
type Assembler struct {
	retriever Retriever
	tokens    *tokens.Manager
	logger    zerolog.Logger
}

// New creates an Assembler
func New(retriever Retriever, tm *tokens.Manager, logger zerolog.Logger) *Assembler {
	return &Assembler{
		retriever: retriever,
		tokens:    tm,
		logger:    logger.With().Str("component", "assembler").Logger(),
	}
}

// Assemble retrieves context for req.Query and fits the turn into the model's
// budget. A retrieval failure does not fail the turn: it is logged and the
// prompt is built without context.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Prompt, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	if req.Model == "" {
		req.Model = DefaultModel
	}
	if req.SystemPrompt == "" {
		req.SystemPrompt = DefaultSystemPrompt
	}
	if req.TopK <= 0 {
		req.TopK = DefaultTopK
	}

	var chunks []types.ContextChunk
	degraded := false

	resp, err := a.retriever.Search(ctx, searcher.Request{
		Query:          req.Query,
		Limit:          req.TopK,
		FilterFilePath: req.FilterFilePath,
		MinScore:       req.MinScore,
	})
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, fmt.Errorf("retrieve context: %w", err)
	case err != nil:
		degraded = true
		a.logger.Warn().Err(err).Msg("retrieval failed, continuing without context")
	default:
		chunks = types.ToContextChunks(resp.Results)
	}

	prepared := a.tokens.PrepareContextForChat(tokens.ChatRequest{
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		Query:        req.Query,
		History:      req.History,
		Chunks:       chunks,
	})

	a.logger.Debug().
		Str("model", req.Model).
		Int("retrieved", len(chunks)).
		Int("kept", len(prepared.Chunks)).
		Int("history_kept", len(prepared.History)).
		Int("total_tokens", prepared.Breakdown.Total).
		Int("limit", prepared.Breakdown.Limit).
		Bool("degraded", degraded).
		Msg("prompt assembled")

	return &Prompt{
		SystemPrompt: prepared.SystemPrompt,
		History:      prepared.History,
		Context:      prepared.Context,
		Query:        prepared.Query,
		Breakdown:    prepared.Breakdown,
		Sources:      prepared.Chunks,
		Degraded:     degraded,
	}, nil
}
