package mcp

import (
	"context"
	"io"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dshills/nexus/internal/engine"
)

const (
	// ServerName is the MCP server name
	ServerName = "nexus"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server exposes engine operations as MCP tools
type Server struct {
	mcp    *server.MCPServer
	engine *engine.Engine
	logger zerolog.Logger
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a server over eng. The caller keeps ownership of eng.
func NewServer(eng *engine.Engine, opts ...Option) *Server {
	s := &Server{
		mcp:    server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		engine: eng,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "mcp").Logger()
	s.registerTools()
	return s
}

// Serve speaks MCP over in and out until ctx is done or in closes. Logs
// must not go to out.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	s.logger.Info().Msg("serving MCP on stdio")
	return stdio.Listen(ctx, in, out)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	// Indexing
	s.mcp.AddTool(indexFilesTool(), s.handleIndexFiles)
	s.mcp.AddTool(indexProjectTool(), s.handleIndexProject)

	// Search
	s.mcp.AddTool(searchTool(), s.handleSearch)
	s.mcp.AddTool(federatedQueryTool(), s.handleFederatedQuery)

	// Watcher
	s.mcp.AddTool(watcherStartTool(), s.handleWatcherStart)
	s.mcp.AddTool(simpleTool("watcher_pause", "Stop scheduling flushes; changes keep queueing"), s.watcherControl(s.engine.WatcherPause))
	s.mcp.AddTool(simpleTool("watcher_resume", "Resume and flush everything queued while paused"), s.watcherControl(s.engine.WatcherResume))
	s.mcp.AddTool(simpleTool("watcher_stop", "Flush the remaining queue and stop watching"), s.watcherControl(s.engine.WatcherStop))
	s.mcp.AddTool(simpleTool("watcher_status", "Report watcher state and queue size"), s.handleWatcherStatus)

	// Projects
	s.mcp.AddTool(registerProjectTool(), s.handleRegisterProject)
	s.mcp.AddTool(detectProjectTool(), s.handleDetectProject)
	s.mcp.AddTool(simpleTool("list_projects", "List registered projects with their counters"), s.handleListProjects)
	s.mcp.AddTool(projectNameTool("update_stats", "Recompute a project's counters from its store"), s.handleUpdateStats)
	s.mcp.AddTool(projectNameTool("remove_project", "Delete a project and its store"), s.handleRemoveProject)

	// Memories
	s.mcp.AddTool(addMemoryTool(), s.handleAddMemory)
	s.mcp.AddTool(searchMemoriesTool(), s.handleSearchMemories)

	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
