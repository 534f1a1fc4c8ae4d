// Package mcp implements the Model Context Protocol (MCP) server for contextrag.
//
// The server exposes five tools to AI coding assistants:
//   - index_codebase: Chunk, embed and index a project tree
//   - search_code: Nearest-neighbour search over indexed chunks
//   - prepare_context: Retrieve chunks and assemble a budgeted chat prompt
//   - get_status: Report index statistics and the last indexing run
//   - clear_index: Drop the index and embedding cache of a project
//
// Every tool accepts an optional absolute "path". Calls without one act on the
// root the server was started with. Each root gets its own workspace, opened on
// first use and persisted when the server closes.
//
// # Tool: prepare_context
//
//	Request:
//	{
//	  "name": "prepare_context",
//	  "arguments": {
//	    "query": "how are embeddings cached?",
//	    "model": "gpt-4o",
//	    "history": [{"role": "user", "content": "hi"}],
//	    "top_k": 10
//	  }
//	}
//
//	Response:
//	{
//	  "context": "// [1] From internal/embedcache/cache.go (relevance: 91.2%):\n...",
//	  "messages": [...],
//	  "token_breakdown": {"system": 40, "history": 6, "context": 812, "query": 7, "total": 865, "limit": 124000},
//	  "degraded": false
//	}
//
// # Error Handling
//
// Handlers return *MCPError values carrying a JSON-RPC code:
//   - -32602: Invalid params (missing/invalid arguments)
//   - -32603: Internal error (storage, provider, filesystem)
//   - -32002: Indexing in progress
//   - -32004: Empty query
//
// # Logging
//
// stdout carries the protocol, so all logs go to stderr through zerolog.
package mcp
