package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Server exposes daemon state and stats over HTTP for operators.
type Server struct {
	logger  *zap.Logger
	daemons map[string]*Daemon
	mu      sync.RWMutex
}

type DaemonInfo struct {
	ID    string `json:"id"`
	State State  `json:"state"`
	Stats Stats  `json:"stats"`
}

func NewServer(logger *zap.Logger) *Server {
	return &Server{
		logger:  logger.Named("stagehand.events.server"),
		daemons: make(map[string]*Daemon),
	}
}

func (s *Server) RegisterDaemon(d *Daemon) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.daemons[d.ID] = d
	s.logger.Info("daemon registered",
		zap.String("daemon_id", d.ID),
		zap.String("state", string(d.State.Current())))
}

func (s *Server) UnregisterDaemon(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.daemons[id]; exists {
		delete(s.daemons, id)
		s.logger.Info("daemon unregistered", zap.String("daemon_id", id))
	}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api/v1/daemons", func(r chi.Router) {
		r.Get("/", s.listDaemons)
		r.Get("/{id}", s.getDaemon)
	})

	return r
}

func (s *Server) listDaemons(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	daemons := make([]DaemonInfo, 0, len(s.daemons))
	for _, d := range s.daemons {
		daemons = append(daemons, DaemonInfo{
			ID:    d.ID,
			State: d.State.Current(),
			Stats: d.Stats(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"daemons": daemons,
		"count":   len(daemons),
	})
}

func (s *Server) getDaemon(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.RLock()
	d, exists := s.daemons[id]
	s.mu.RUnlock()

	if !exists {
		http.Error(w, "daemon not found", http.StatusNotFound)
		return
	}

	info := DaemonInfo{
		ID:    d.ID,
		State: d.State.Current(),
		Stats: d.Stats(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Routes(),
	}

	s.logger.Info("starting daemon status server", zap.String("addr", addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down daemon status server")
		srv.Shutdown(context.Background())
	}()

	return srv.ListenAndServe()
}
