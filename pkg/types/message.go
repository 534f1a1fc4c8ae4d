package types

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of conversation history
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenBreakdown reports the estimated token cost of each part of an assembled prompt.
// It is computed per request and never persisted.
type TokenBreakdown struct {
	System  int `json:"system"`
	History int `json:"history"`
	Context int `json:"context"`
	Query   int `json:"query"`
	Total   int `json:"total"`
	Limit   int `json:"limit"`
}
