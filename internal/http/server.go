package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"metasync/pkg/replication"
	"metasync/pkg/rpc"
)

const (
	contentTypeJSON        = "application/json"
	defaultHTTPPort        = "8080"
	defaultShutdownTimeout = time.Second * 5
)

type iSyncNode interface {
	IsLeader() bool
	Log(entry []byte, timeout time.Duration) bool
	AppendLog(req replication.AppendLogRequest) replication.AppendLogResponse
	SwitchToLeader()
	Status() replication.Status
}

// Server exposes the node over HTTP: the write endpoint and status for
// the surrounding metadata server, plus the internal replication RPC
// and the promotion trigger.
type Server struct {
	node        iSyncNode
	syncTimeout time.Duration
	httpServer  *http.Server
	URL         string
	addr        string
}

// NewServer creates a new server instance. syncTimeout is the default
// wait of the write endpoint when the request does not carry its own.
func NewServer(node iSyncNode, port string, syncTimeout time.Duration) *Server {
	if port == "" {
		port = defaultHTTPPort
	}
	if syncTimeout <= 0 {
		syncTimeout = time.Second
	}
	return &Server{
		node:        node,
		syncTimeout: syncTimeout,
		URL:         "http://localhost:" + port,
		addr:        ":" + port,
	}
}

// Start starts the server
func (s *Server) Start() error {
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop stops the server
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}
	return nil
}

// createRouter builds chi router
func (s *Server) createRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/api/status", s.handleStatus)
	r.Post("/api/log", s.handleLog)
	r.Post(rpc.AppendLogEndpoint, s.handleAppendLog)
	r.Post("/api/internal/promote", s.handlePromote)

	return r
}

func (s *Server) startHTTPServer() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.createRouter(),
		ReadHeaderTimeout: time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", "addr", s.URL)
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Error encoding response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, okResponse())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.node.Status())
}

// handleLog is the synchronous write path. The body is the opaque log
// entry; timeout_ms overrides the configured wait. The entry is durable
// once this returns; master_only in the response tells the caller the
// acknowledgement was local-only.
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	if !s.node.IsLeader() {
		s.writeJSON(w, http.StatusConflict, errorResponse("not the leader"))
		return
	}

	entry, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse("Failed to read entry"))
		return
	}

	timeout := s.syncTimeout
	if raw := r.URL.Query().Get("timeout_ms"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms < 0 {
			s.writeJSON(w, http.StatusBadRequest, errorResponse("Invalid timeout_ms"))
			return
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	s.node.Log(entry, timeout)
	s.writeJSON(w, http.StatusOK, loggedResponse(s.node.Status().MasterOnly))
}

func (s *Server) handleAppendLog(w http.ResponseWriter, r *http.Request) {
	var req replication.AppendLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	s.writeJSON(w, http.StatusOK, s.node.AppendLog(req))
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	s.node.SwitchToLeader()
	s.writeJSON(w, http.StatusOK, promotedResponse(s.node.Status().Role))
}
