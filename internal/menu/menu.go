// Package menu is the local HTTP service a launched application's
// integration layer talks to: it serves the context menu for the
// current work area and runs toolkit actions triggered from inside the
// application.
package menu

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/framehaus/stagehand/internal/config"
	"github.com/framehaus/stagehand/internal/workarea"
)

// ActionRequest is the body of POST /api/v1/actions/{action}: the
// caller's work area plus action-specific arguments.
type ActionRequest struct {
	Area *workarea.WorkArea `json:"area"`
	Args json.RawMessage    `json:"args,omitempty"`
}

// ActionFunc runs one toolkit action and returns its report, which is
// serialized to the response as-is.
type ActionFunc func(ctx context.Context, req ActionRequest) (any, error)

type Server struct {
	cfg      *config.Config
	resolver *workarea.Resolver
	logger   *zap.Logger

	mu      sync.RWMutex
	actions map[string]ActionFunc
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger.Named("stagehand.menu")
	}
}

func NewServer(cfg *config.Config, resolver *workarea.Resolver, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		resolver: resolver,
		logger:   zap.NewNop(),
		actions:  make(map[string]ActionFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterAction exposes an action under /api/v1/actions/{name}.
func (s *Server) RegisterAction(name string, fn ActionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.actions[name] = fn
	s.logger.Info("action registered", zap.String("action", name))
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/menu", s.handleMenu)
		r.Post("/actions/{action}", s.handleAction)
	})

	return r
}

type menuResponse struct {
	Area  *workarea.WorkArea `json:"area"`
	Env   string             `json:"env"`
	App   string             `json:"app,omitempty"`
	Items []config.MenuItem  `json:"items"`
}

// handleMenu resolves the caller's work area from ?task_id= or ?path=
// and returns the environment's menu for ?app=.
func (s *Server) handleMenu(w http.ResponseWriter, r *http.Request) {
	area, err := s.resolveQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	envName := environmentFor(area)
	env, err := s.cfg.Environment(envName)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	resp := menuResponse{
		Area:  area,
		Env:   envName,
		App:   r.URL.Query().Get("app"),
		Items: []config.MenuItem{},
	}
	if resp.App != "" {
		if setting, ok := env.Apps[resp.App]; ok {
			resp.Items = setting.Menu
		}
	} else {
		// No app filter: union of every app's menu, first occurrence
		// of a name wins.
		seen := map[string]bool{}
		for _, setting := range env.Apps {
			for _, item := range setting.Menu {
				if !seen[item.Name] {
					seen[item.Name] = true
					resp.Items = append(resp.Items, item)
				}
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "action")

	s.mu.RLock()
	fn, ok := s.actions[name]
	s.mu.RUnlock()

	if !ok {
		writeError(w, http.StatusNotFound, "unknown action "+strconv.Quote(name))
		return
	}

	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body: "+err.Error())
		return
	}

	report, err := fn(r.Context(), req)
	if err != nil {
		s.logger.Warn("action failed", zap.String("action", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"action": name, "report": report})
}

func (s *Server) resolveQuery(r *http.Request) (*workarea.WorkArea, error) {
	q := r.URL.Query()

	if raw := q.Get("task_id"); raw != "" {
		taskID, err := strconv.Atoi(raw)
		if err != nil {
			return nil, err
		}
		return s.resolver.FromTask(r.Context(), taskID)
	}
	if p := q.Get("path"); p != "" {
		return s.resolver.FromPath(r.Context(), p)
	}
	return nil, errMissingContext
}

var errMissingContext = errors.New("one of task_id or path is required")

// environmentFor maps the resolved entity type onto a configuration
// environment.
func environmentFor(area *workarea.WorkArea) string {
	if area.Entity == nil {
		return "project"
	}
	switch area.Entity.Type {
	case "Shot":
		return "shot"
	case "Asset":
		return "asset"
	default:
		return "project"
	}
}

func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Routes(),
	}

	s.logger.Info("starting menu server", zap.String("addr", addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down menu server")
		srv.Shutdown(context.Background())
	}()

	return srv.ListenAndServe()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
