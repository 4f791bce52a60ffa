// Package api is the HTTP boundary: a thin layer translating requests into
// calls on the session manager and the task queue, and session state into
// JSON and binary responses.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/p-arndt/setzkasten/internal/clock"
	"github.com/p-arndt/setzkasten/internal/metrics"
	"github.com/p-arndt/setzkasten/internal/session"
)

type Server struct {
	mgr    *session.Manager
	queue  TaskQueue
	clock  clock.Clock
	logger *slog.Logger
	mux    *http.ServeMux
}

func NewServer(mgr *session.Manager, queue TaskQueue, clk clock.Clock, logger *slog.Logger) *Server {
	s := &Server{
		mgr:    mgr,
		queue:  queue,
		clock:  clk,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.requestIDMiddleware(s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api", s.handleAPIHome)
	s.mux.HandleFunc("GET /api/sessions", s.handleSessionsRedirect)
	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("POST /api/sessions/{id}", s.handleUpdateSession)
	s.mux.HandleFunc("GET /api/sessions/{id}/files", s.handleListFiles)
	s.mux.HandleFunc("POST /api/sessions/{id}/files", s.handleUploadFiles)
	s.mux.HandleFunc("GET /api/sessions/{id}/templates", s.handleListTemplates)
	s.mux.HandleFunc("POST /api/sessions/{id}/templates", s.handleAddTemplate)
	s.mux.HandleFunc("GET /api/sessions/{id}/product", s.handleGetProduct)
	s.mux.HandleFunc("GET /api/sessions/{id}/log", s.handleGetLog)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)

	s.mux.Handle("GET /metrics", metrics.Handler())
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
