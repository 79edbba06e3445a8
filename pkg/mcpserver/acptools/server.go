// Package acptools serves the bridge's file and shell tools to the agent
// runtime over MCP streamable HTTP. Each session is mounted under its own
// path so a tool call always reaches the session that owns the editor
// connection, terminals and working directory.
package acptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	acp "github.com/coder/acp-go-sdk"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/zed-industries/claude-code-acp-sub000/internal/logging"
	"github.com/zed-industries/claude-code-acp-sub000/internal/terminal"
	"github.com/zed-industries/claude-code-acp-sub000/internal/tool"
)

// ServerName is the MCP server name. The runtime exposes its tools as
// mcp__<ServerName>__<Tool>.
const ServerName = "acp"

// Session is what the tools need from the session that owns them.
type Session interface {
	ID() string
	Cwd() string
	FS() tool.FS
	Terminals() *terminal.Manager
	// ClientTerminals reports whether terminals run in the editor, so a
	// terminal reference can be shown in the tool call.
	ClientTerminals() bool
	Update(ctx context.Context, u acp.SessionUpdate) error
}

// ErrorResponse is the body of a failed non-MCP request.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const errCodeNotFound = "NOT_FOUND"

// Server hosts one MCP endpoint per registered session.
type Server struct {
	router *chi.Mux
	log    zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]http.Handler
	httpSrv  *http.Server
	baseURL  string
}

// NewServer creates a server with no sessions mounted.
func NewServer() *Server {
	s := &Server{
		router:   chi.NewRouter(),
		log:      logging.Component("mcp"),
		sessions: make(map[string]http.Handler),
	}
	s.router.Use(middleware.Recoverer)
	s.router.Handle("/mcp/{sessionID}", http.HandlerFunc(s.serveSession))
	return s
}

// Handler returns the router, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr, normally "127.0.0.1:0", and serves in the
// background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.httpSrv = srv
	s.baseURL = "http://" + ln.Addr().String()
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("tool server stopped")
		}
	}()
	s.log.Info().Str("url", s.baseURL).Msg("tool server listening")
	return nil
}

// SetBaseURL sets the URL prefix returned by Register when the router is
// served by someone else.
func (s *Server) SetBaseURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseURL = url
}

// Register mounts the tools of sess and returns the endpoint URL the
// runtime should connect to.
func (s *Server) Register(sess Session) string {
	mcpServer := NewMCPServer(sess)
	handler := server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp/"+sess.ID()),
		server.WithStateLess(true),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID()] = handler
	return s.baseURL + "/mcp/" + sess.ID()
}

// Unregister removes a session's endpoint.
func (s *Server) Unregister(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Close stops the listener.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.httpSrv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) serveSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	s.mu.RLock()
	handler, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, errCodeNotFound, "session not found: "+id)
		return
	}
	handler.ServeHTTP(w, r)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{Code: code, Message: message},
	})
}
