package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func pathProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Absolute path to the project root (defaults to the server's working root)",
	}
}

// indexCodebaseTool returns the tool definition for index_codebase
func indexCodebaseTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_codebase",
		Description: "Index a codebase so it can be searched semantically. Unchanged files are skipped.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": pathProperty(),
				"force_reindex": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, clear the index and embedding cache and re-embed every file",
					"default":     false,
				},
				"prune_missing": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, remove files from the index that no longer exist",
					"default":     true,
				},
			},
		},
	}
}

// searchCodeTool returns the tool definition for search_code
func searchCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_code",
		Description: "Search the indexed codebase with a natural language query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": pathProperty(),
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"file_path": map[string]interface{}{
					"type":        "string",
					"description": "Only return chunks of this file (path relative to the project root)",
				},
				"min_score": map[string]interface{}{
					"type":        "number",
					"description": "Minimum relevance score threshold (0.0-1.0)",
					"minimum":     0.0,
					"maximum":     1.0,
				},
			},
			Required: []string{"query"},
		},
	}
}

// prepareContextTool returns the tool definition for prepare_context
func prepareContextTool() mcp.Tool {
	return mcp.Tool{
		Name:        "prepare_context",
		Description: "Assemble a token-bounded prompt from retrieved code, conversation history and the query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": pathProperty(),
				"query": map[string]interface{}{
					"type":        "string",
					"description": "The user's question",
				},
				"model": map[string]interface{}{
					"type":        "string",
					"description": "Completion model whose context window bounds the prompt",
					"default":     "gpt-4o",
				},
				"system_prompt": map[string]interface{}{
					"type":        "string",
					"description": "System prompt; a default assistant prompt is used when empty",
				},
				"history": map[string]interface{}{
					"type":        "array",
					"description": "Conversation so far, oldest first",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"role": map[string]interface{}{
								"type": "string",
								"enum": []string{"user", "assistant", "system"},
							},
							"content": map[string]interface{}{
								"type": "string",
							},
						},
						"required": []string{"role", "content"},
					},
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Number of chunks to retrieve before pruning",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"file_path": map[string]interface{}{
					"type":        "string",
					"description": "Only retrieve chunks of this file",
				},
			},
			Required: []string{"query"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report index statistics and the last indexing run for a project",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": pathProperty(),
			},
		},
	}
}

// clearIndexTool returns the tool definition for clear_index
func clearIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "clear_index",
		Description: "Delete the vector index and embedding cache of a project",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": pathProperty(),
			},
		},
	}
}
