// Package mcp exposes the CRM to AI agents over the Model Context Protocol.
// Every tool acts as one authenticated principal, so agents see exactly the
// deals, contacts and activities that user would see through the REST API.
package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/shopspring/decimal"

	"github.com/tallycrm/tally/internal/model"
	"github.com/tallycrm/tally/internal/store"
)

// Options configures an MCPServer.
type Options struct {
	Principal         model.Principal
	ApprovalThreshold decimal.Decimal
	Version           string
	Logger            *slog.Logger
}

// MCPServer wraps the mcp-go server with Tally's tools and resources.
type MCPServer struct {
	store     *store.Store
	principal model.Principal
	threshold decimal.Decimal
	logger    *slog.Logger
	server    *server.MCPServer
}

// NewMCPServer creates an MCPServer acting as opts.Principal. The returned
// server is ready to serve over stdio or HTTP.
func NewMCPServer(st *store.Store, opts Options) *MCPServer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	s := &MCPServer{
		store:     st,
		principal: opts.Principal,
		threshold: opts.ApprovalThreshold,
		logger:    logger,
	}

	mcpServer := server.NewMCPServer(
		"Tally CRM",
		version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio serves MCP over stdin/stdout, for clients that launch tally as
// a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode", "user_id", s.principal.UserID)
	return server.ServeStdio(s.server)
}

// ServeHTTP serves MCP in Streamable HTTP mode on addr (e.g. ":3001").
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr, "user_id", s.principal.UserID)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(false),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
