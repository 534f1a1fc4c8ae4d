package mcp

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/dshills/contextrag/internal/app"
	"github.com/dshills/contextrag/internal/config"
	"github.com/dshills/contextrag/internal/embedder"
)

const (
	// ServerName is the MCP server name
	ServerName = "contextrag"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with one workspace per project root
type Server struct {
	mcp         *server.MCPServer
	cfg         *config.Config
	logger      zerolog.Logger
	defaultRoot string
	embedder    embedder.Embedder

	mu         sync.Mutex
	workspaces map[string]*app.App
}

// Option configures a Server
type Option func(*Server)

// WithEmbedder makes every workspace use emb instead of building one from config
func WithEmbedder(emb embedder.Embedder) Option {
	return func(s *Server) {
		s.embedder = emb
	}
}

// NewServer creates a new MCP server. Tools called without a path act on defaultRoot.
func NewServer(cfg *config.Config, defaultRoot string, logger zerolog.Logger, opts ...Option) (*Server, error) {
	root, err := filepath.Abs(defaultRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve default root: %w", err)
	}

	s := &Server{
		mcp:         server.NewMCPServer(ServerName, ServerVersion),
		cfg:         cfg,
		logger:      logger.With().Str("component", "mcp").Logger(),
		defaultRoot: root,
		workspaces:  make(map[string]*app.App),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	defer func() { _ = s.Close() }()
	return server.ServeStdio(s.mcp)
}

// Close persists and releases every open workspace
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for root, ws := range s.workspaces {
		if err := ws.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", root, err))
		}
		delete(s.workspaces, root)
	}
	return errors.Join(errs...)
}

// workspace returns the open workspace for root, opening it on first use
func (s *Server) workspace(ctx context.Context, root string) (*app.App, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ws, ok := s.workspaces[root]; ok {
		return ws, nil
	}

	ws, err := app.Open(ctx, s.cfg, root, s.embedder, s.logger)
	if err != nil {
		return nil, err
	}
	s.workspaces[root] = ws
	return ws, nil
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	s.mcp.AddTool(indexCodebaseTool(), s.handleIndexCodebase)
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(prepareContextTool(), s.handlePrepareContext)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(clearIndexTool(), s.handleClearIndex)

	return nil
}
