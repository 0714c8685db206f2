// Package api serves run history and a live search event feed over HTTP.
package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/osctools/gpuscout/internal/runstore"
	"github.com/osctools/gpuscout/internal/search"
)

// Store interface for database operations
type Store interface {
	ListRuns(opts runstore.ListOptions) ([]*runstore.Run, error)
	GetRun(id string) (*runstore.Run, error)
}

// Server is the HTTP API server
type Server struct {
	store  Store
	events *search.Multiplexer
	addr   string
	mux    *http.ServeMux
	logger *zap.Logger
}

// NewServer creates a new API server. events may be nil when no search is
// running in-process.
func NewServer(store Store, events *search.Multiplexer, addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:  store,
		events: events,
		addr:   addr,
		mux:    http.NewServeMux(),
		logger: logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/runs", s.listRunsHandler())
	s.mux.HandleFunc("/api/runs/", s.getRunHandler())
	s.mux.HandleFunc("/api/events", s.eventsHandler())
}

// Handler exposes the route table for tests and embedding.
func (s *Server) Handler() http.Handler { return s.mux }

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("api listening", zap.String("addr", s.addr))
	return http.ListenAndServe(s.addr, s.mux)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
