package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/contextrag/internal/app"
	"github.com/dshills/contextrag/internal/assembler"
	"github.com/dshills/contextrag/internal/indexer"
	"github.com/dshills/contextrag/internal/searcher"
	"github.com/dshills/contextrag/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
)

// maxReportedErrors caps the per-file errors included in an index_codebase response
const maxReportedErrors = 5

// handleIndexCodebase handles the index_codebase tool invocation
func (s *Server) handleIndexCodebase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	ws, err := s.workspaceFor(ctx, args)
	if err != nil {
		return nil, err
	}

	opts := indexer.Options{
		ForceReindex: getBoolDefault(args, "force_reindex", false),
		PruneMissing: getBoolDefault(args, "prune_missing", true),
	}

	progress := func(p indexer.Progress) {
		s.logger.Debug().
			Int("current", p.Current).
			Int("total", p.Total).
			Str("file", p.CurrentFile).
			Str("status", p.Status).
			Msg("index progress")
	}

	result, err := ws.Indexer.IndexDirectory(ctx, ws.Root, progress, opts)
	if errors.Is(err, indexer.ErrIndexingInProgress) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", map[string]interface{}{
			"path": ws.Root,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	stats := ws.Index.Stats()
	response := map[string]interface{}{
		"indexed":       true,
		"path":          ws.Root,
		"files_indexed": result.Indexed,
		"files_skipped": result.Skipped,
		"files_removed": result.Removed,
		"files_failed":  len(result.Errors),
		"index_full":    result.IndexFull,
		"total_chunks":  stats.TotalChunks,
		"duration_ms":   result.Duration.Milliseconds(),
	}

	if len(result.Errors) > 0 {
		if len(result.Errors) > maxReportedErrors {
			response["errors"] = result.Errors[:maxReportedErrors]
			response["error_count"] = len(result.Errors)
		} else {
			response["errors"] = result.Errors
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchCode handles the search_code tool invocation
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query := getStringDefault(args, "query", "")
	if query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", searcher.DefaultLimit)
	if limit < 1 || limit > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	minScore := getFloatDefault(args, "min_score", 0)
	if minScore < 0 || minScore > 1 {
		return nil, newMCPError(ErrorCodeInvalidParams, "min_score must be between 0 and 1", map[string]interface{}{
			"param": "min_score",
			"value": minScore,
		})
	}

	ws, err := s.workspaceFor(ctx, args)
	if err != nil {
		return nil, err
	}

	resp, err := ws.Searcher.Search(ctx, searcher.Request{
		Query:          query,
		Limit:          limit,
		FilterFilePath: getStringDefault(args, "file_path", ""),
		MinScore:       minScore,
	})
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	results := make([]map[string]interface{}, len(resp.Results))
	for i, r := range resp.Results {
		results[i] = map[string]interface{}{
			"rank":      i + 1,
			"file_path": r.FilePath,
			"score":     r.Score,
			"text":      r.Text,
		}
	}

	response := map[string]interface{}{
		"query":         query,
		"results":       results,
		"total_results": resp.TotalResults,
		"cache_hit":     resp.CacheHit,
		"duration_ms":   resp.Duration.Milliseconds(),
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handlePrepareContext handles the prepare_context tool invocation
func (s *Server) handlePrepareContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query := getStringDefault(args, "query", "")
	if query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	history, err := parseHistory(args["history"])
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid history", map[string]interface{}{
			"param":  "history",
			"reason": err.Error(),
		})
	}

	ws, err := s.workspaceFor(ctx, args)
	if err != nil {
		return nil, err
	}

	prompt, err := ws.Assembler.Assemble(ctx, assembler.Request{
		Model:          getStringDefault(args, "model", ""),
		SystemPrompt:   getStringDefault(args, "system_prompt", ""),
		Query:          query,
		History:        history,
		TopK:           getIntDefault(args, "top_k", assembler.DefaultTopK),
		FilterFilePath: getStringDefault(args, "file_path", ""),
	})
	if errors.Is(err, assembler.ErrEmptyQuery) {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", nil)
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to prepare context", map[string]interface{}{
			"error": err.Error(),
		})
	}

	sources := make([]map[string]interface{}, len(prompt.Sources))
	for i, c := range prompt.Sources {
		sources[i] = map[string]interface{}{
			"file_path": c.FilePath,
			"score":     c.Score,
		}
	}

	response := map[string]interface{}{
		"system_prompt":   prompt.SystemPrompt,
		"history":         prompt.History,
		"context":         prompt.Context,
		"query":           prompt.Query,
		"messages":        prompt.Messages(),
		"sources":         sources,
		"degraded":        prompt.Degraded,
		"token_breakdown": prompt.Breakdown,
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	ws, err := s.workspaceFor(ctx, args)
	if err != nil {
		return nil, err
	}

	st := ws.Status()
	response := map[string]interface{}{
		"indexed":  st.Stats.TotalFiles > 0,
		"path":     st.Root,
		"indexing": st.Indexing,
		"embedder": map[string]interface{}{
			"provider":  st.Provider,
			"model":     st.Model,
			"dimension": st.Stats.Dimension,
		},
		"statistics": map[string]interface{}{
			"files_count":    st.Stats.TotalFiles,
			"chunks_count":   st.Stats.TotalChunks,
			"points_count":   st.Stats.Points,
			"orphaned_count": st.Stats.Orphaned,
			"capacity":       st.Stats.Capacity,
		},
		"store":            st.StoreKind,
		"query_cache_size": st.QueryCache,
	}

	if st.LastRun != nil {
		response["last_run"] = map[string]interface{}{
			"files_indexed": st.LastRun.Indexed,
			"files_skipped": st.LastRun.Skipped,
			"files_failed":  len(st.LastRun.Errors),
			"index_full":    st.LastRun.IndexFull,
			"duration_ms":   st.LastRun.Duration.Milliseconds(),
		}
	}
	if st.Stats.TotalFiles == 0 {
		response["message"] = "Project not indexed. Use index_codebase tool to index this project."
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleClearIndex handles the clear_index tool invocation
func (s *Server) handleClearIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	ws, err := s.workspaceFor(ctx, args)
	if err != nil {
		return nil, err
	}

	err = ws.Clear(ctx)
	if errors.Is(err, indexer.ErrIndexingInProgress) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "cannot clear while indexing", map[string]interface{}{
			"path": ws.Root,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to clear index", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"cleared": true,
		"path":    ws.Root,
	})), nil
}

// Helper functions

// arguments returns the tool arguments; a call without arguments yields an empty map
func arguments(request mcp.CallToolRequest) (map[string]interface{}, bool) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, true
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	return args, ok
}

// workspaceFor resolves the optional path argument and opens its workspace
func (s *Server) workspaceFor(ctx context.Context, args map[string]interface{}) (*app.App, error) {
	root := s.defaultRoot
	if p, ok := args["path"].(string); ok && p != "" {
		if err := validatePath(p); err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
				"param":  "path",
				"reason": err.Error(),
			})
		}
		root = filepath.Clean(p)
	}

	ws, err := s.workspace(ctx, root)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to open workspace", map[string]interface{}{
			"path":  root,
			"error": err.Error(),
		})
	}
	return ws, nil
}

// parseHistory decodes the history argument
func parseHistory(raw interface{}) ([]types.Message, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, errors.New("history must be an array")
	}

	msgs := make([]types.Message, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("history[%d] must be an object", i)
		}
		role, _ := m["role"].(string)
		content, _ := m["content"].(string)
		switch role {
		case types.RoleUser, types.RoleAssistant, types.RoleSystem:
		default:
			return nil, fmt.Errorf("history[%d] has invalid role %q", i, role)
		}
		msgs = append(msgs, types.Message{Role: role, Content: content})
	}
	return msgs, nil
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks if a path is an absolute, readable directory
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}

	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getFloatDefault extracts a number parameter with a default value
func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	if val, ok := args[key].(float64); ok {
		return val
	}
	if val, ok := args[key].(int); ok {
		return float64(val)
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
