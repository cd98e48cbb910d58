package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/classlens/classlens/internal/auth"
	"github.com/classlens/classlens/internal/model"
)

// Server is the Classlens HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Config holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Broker, MCPServer.
type Config struct {
	// Required dependencies.
	Handlers *Handlers
	JWTMgr   *auth.JWTManager
	Logger   *slog.Logger

	// Optional dependencies (nil = disabled).
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New creates a new HTTP server with all routes configured.
func New(cfg Config) *Server {
	h := cfg.Handlers

	teacherOnly := requireRole(model.RoleTeacher)
	studentOnly := requireRole(model.RoleStudent)
	anyRole := requireRole(model.RoleTeacher, model.RoleStudent)

	mux := http.NewServeMux()

	// Token issuance (no auth).
	mux.HandleFunc("POST /auth/teacher", h.HandleTeacherToken)

	// Session lifecycle.
	mux.Handle("POST /v1/sessions", teacherOnly(http.HandlerFunc(h.HandleCreateSession)))
	mux.HandleFunc("POST /v1/sessions/{session_id}/join", h.HandleJoinSession)

	// Student flow. Every side-effecting endpoint runs through the progress
	// gate inside the handler before any write.
	mux.Handle("GET /v1/me/path", studentOnly(http.HandlerFunc(h.HandleMyPath)))
	mux.Handle("GET /v1/me/themes", studentOnly(http.HandlerFunc(h.HandleListThemes)))
	mux.Handle("POST /v1/me/traits", studentOnly(http.HandlerFunc(h.HandleSubmitTraits)))
	mux.Handle("POST /v1/me/theme", studentOnly(http.HandlerFunc(h.HandleSelectTheme)))
	mux.Handle("POST /v1/me/briefing/ack", studentOnly(http.HandlerFunc(h.HandleAckBriefing)))
	mux.Handle("POST /v1/me/responses", studentOnly(http.HandlerFunc(h.HandleSubmitResponse)))
	mux.Handle("POST /v1/me/reflection", studentOnly(http.HandlerFunc(h.HandleSaveReflection)))
	mux.Handle("POST /v1/me/complete", studentOnly(http.HandlerFunc(h.HandleComplete)))

	// Teacher controls.
	mux.Handle("POST /v1/students/{student_id}/reset", teacherOnly(http.HandlerFunc(h.HandleResetStudent)))
	mux.Handle("GET /v1/sessions/{session_id}/stats", teacherOnly(http.HandlerFunc(h.HandleSessionStats)))
	mux.Handle("GET /v1/sessions/{session_id}/subscribe", teacherOnly(http.HandlerFunc(h.HandleSubscribe)))

	// Opinion map: both roles, privilege decided inside from claims.
	mux.Handle("GET /v1/sessions/{session_id}/map", anyRole(http.HandlerFunc(h.HandleOpinionMap)))

	// MCP StreamableHTTP transport (teacher only).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", teacherOnly(mcpHTTP))
	}

	// Health (no auth).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Handlers returns the underlying Handlers.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
