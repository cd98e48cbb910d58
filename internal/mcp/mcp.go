// Package mcp implements the Model Context Protocol server for Classlens.
//
// It exposes the teacher-facing aggregation surface as MCP tools so
// MCP-compatible assistants can inspect a running session: live progress
// stats and the computed opinion map. The HTTP transport mounts it behind
// teacher auth; everything here runs with teacher privilege.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/classlens/classlens/internal/aggregate"
	"github.com/classlens/classlens/internal/ctxutil"
	"github.com/classlens/classlens/internal/model"
)

// Server wraps the MCP server with the aggregation facade.
type Server struct {
	mcpServer *mcpserver.MCPServer
	aggSvc    *aggregate.Service
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools.
func New(aggSvc *aggregate.Service, logger *slog.Logger) *Server {
	s := &Server{
		aggSvc: aggSvc,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"classlens",
		"0.1.0",
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	// session_stats — live progress snapshot for one session.
	s.mcpServer.AddTool(
		mcplib.NewTool("session_stats",
			mcplib.WithDescription("Live progress snapshot for a session: students per stage and response totals"),
			mcplib.WithString("session_id", mcplib.Description("Session UUID"), mcplib.Required()),
		),
		s.handleSessionStats,
	)

	// opinion_map — full aggregation result with real names.
	s.mcpServer.AddTool(
		mcplib.NewTool("opinion_map",
			mcplib.WithDescription("Computed opinion map for a session: 2D points per student, cluster assignments, and per-question answer distributions"),
			mcplib.WithString("session_id", mcplib.Description("Session UUID"), mcplib.Required()),
		),
		s.handleOpinionMap,
	)
}

func (s *Server) handleSessionStats(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	sessionID, err := uuid.Parse(request.GetString("session_id", ""))
	if err != nil {
		return errorResult("session_id must be a valid UUID"), nil
	}

	stats, err := s.aggSvc.Stats(ctx, sessionID)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to compute stats: %v", err)), nil
	}

	return jsonResult(stats)
}

func (s *Server) handleOpinionMap(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	sessionID, err := uuid.Parse(request.GetString("session_id", ""))
	if err != nil {
		return errorResult("session_id must be a valid UUID"), nil
	}

	// The HTTP transport runs tool calls on the request context, so the
	// auth middleware's claims identify the calling client here too.
	requester := "mcp"
	if claims := ctxutil.ClaimsFromContext(ctx); claims != nil {
		requester = claims.Subject
	}

	out, err := s.aggSvc.OpinionMap(ctx, sessionID, model.RoleTeacher, requester)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to compute opinion map: %v", err)), nil
	}

	return jsonResult(out)
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
