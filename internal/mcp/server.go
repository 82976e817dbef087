package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cardbox/cardbox/internal/service"
	"github.com/cardbox/cardbox/internal/store"
)

// MCPServer wraps the mcp-go server with Cardbox-specific tool and
// resource registrations. It exposes the inbox and the card-key
// lifecycle as MCP tools so AI agents can mint keys, forward
// notifications, and inspect the audit trail.
type MCPServer struct {
	store  *store.Store
	keys   *service.KeyService
	inbox  *service.InboxService
	logger *slog.Logger
	server *server.MCPServer
}

// NewMCPServer creates an MCPServer pre-loaded with all Cardbox tools
// and resources. The returned server is ready to serve over stdio or
// HTTP.
func NewMCPServer(st *store.Store, keys *service.KeyService, inbox *service.InboxService, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		store:  st,
		keys:   keys,
		inbox:  inbox,
		logger: logger,
	}

	mcpServer := server.NewMCPServer(
		"Cardbox Notification Inbox",
		"0.1.0",
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	// Register tools (issue, validate, ingest, audit, etc.)
	s.registerTools(mcpServer)

	// Register resources (account list, per-owner audit trail)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance. Useful for
// advanced configuration or testing.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode. This is the primary
// integration path for Claude Code, Claude Desktop, and other MCP
// clients that launch the server as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode, listening on
// the given address (e.g. ":3001"). This is suitable for remote MCP clients.
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

// toolAnnotation returns a standard ToolAnnotation for read-only vs
// mutating tools. Validation counts as mutating because it anchors the
// key's validity window on first use.
func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(false),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
