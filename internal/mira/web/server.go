// Package web exposes the admin and chat HTTP API.
//
// Endpoints:
//
//	GET  /healthz                     → health probe
//	POST /api/chat                    → run one conversational turn
//	POST /api/chat/reset              → clear a user's short-term history
//	GET  /api/memories                → list memory records
//	POST /api/memories                → add a manual memory
//	GET  /api/memories/search         → keyword search
//	PUT  /api/memories/{id}           → edit a record
//	DELETE /api/memories/{id}         → remove a record
//	POST /api/memories/{id}/approve   → approve an AI suggestion
//	POST /api/documents               → ingest a document into memory
//	GET  /api/logs                    → paged interaction log
//	GET  /api/settings                → list settings
//	PUT  /api/settings/{key}          → set one setting
//	DELETE /api/settings/{key}        → delete one setting
//
// When Config.Token is non-empty every /api request must carry
// "Authorization: Bearer <token>"; /healthz stays open for probes.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mirabot/mira/internal/mira/chat"
	"github.com/mirabot/mira/internal/mira/ingest"
	"github.com/mirabot/mira/internal/mira/memory"
	"github.com/mirabot/mira/internal/mira/settings"
	"github.com/mirabot/mira/internal/mira/store"
)

// maxBodyBytes caps inbound request bodies.
const maxBodyBytes = 1 * 1024 * 1024 // 1 MiB

// Config collects the server's collaborators.
type Config struct {
	Addr     string
	Token    string
	Orch     *chat.Orchestrator
	Memories *memory.LongTermStore
	Settings *settings.Store
	Ingestor *ingest.Ingestor
	Logs     *store.Store
	Logger   *slog.Logger
}

// Server is the Mira HTTP server.
type Server struct {
	cfg    Config
	logger *slog.Logger
	server *http.Server
}

// New creates a Server listening on cfg.Addr.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: logger}

	api := http.NewServeMux()
	api.HandleFunc("POST /api/chat", s.handleChat)
	api.HandleFunc("POST /api/chat/reset", s.handleChatReset)
	api.HandleFunc("GET /api/memories", s.handleMemoryList)
	api.HandleFunc("POST /api/memories", s.handleMemoryAdd)
	api.HandleFunc("GET /api/memories/search", s.handleMemorySearch)
	api.HandleFunc("PUT /api/memories/{id}", s.handleMemoryUpdate)
	api.HandleFunc("DELETE /api/memories/{id}", s.handleMemoryDelete)
	api.HandleFunc("POST /api/memories/{id}/approve", s.handleMemoryApprove)
	api.HandleFunc("POST /api/documents", s.handleDocumentUpload)
	api.HandleFunc("GET /api/logs", s.handleLogList)
	api.HandleFunc("GET /api/settings", s.handleSettingsList)
	api.HandleFunc("PUT /api/settings/{key}", s.handleSettingSet)
	api.HandleFunc("DELETE /api/settings/{key}", s.handleSettingDelete)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("/api/", s.authMiddleware(api))

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	return s
}

// authMiddleware rejects requests that do not carry the configured bearer
// token. When Config.Token is empty all requests are allowed.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if auth[len("Bearer "):] != s.cfg.Token {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins listening. It returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("web listen %s: %w", s.cfg.Addr, err)
	}
	s.logger.Info("web server listening", "addr", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("web server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.server.Shutdown(context.Background())
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.server.Shutdown(ctx)
}

// Handler exposes the server's HTTP handler for use in httptest.NewServer.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return false
	}
	return true
}
