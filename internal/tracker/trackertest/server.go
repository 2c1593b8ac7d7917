// Package trackertest is an in-memory fake of the production-tracking
// service's REST surface, for tests. Entities live in per-type tables
// with auto-increment ids; every create appends a New<Type> record to
// an event log the real event daemon can tail.
package trackertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/framehaus/stagehand/internal/tracker"
)

type Server struct {
	*httptest.Server

	mu      sync.Mutex
	tables  map[string][]*tracker.Entity
	nextID  int
	events  []tracker.Event
	nextEID int64

	// Uploads records thumbnail/media uploads as "Type:id/kind".
	Uploads []string

	// FailGET, when > 0, makes that many GET requests return 500
	// before recovering; exercises client retries.
	FailGET int
}

func New() *Server {
	s := &Server{
		tables:  map[string][]*tracker.Entity{},
		nextID:  1,
		nextEID: 1,
	}

	r := chi.NewRouter()
	r.Get("/api/v1/entities/{type}", s.handleFind)
	r.Get("/api/v1/entities/{type}/{id}", s.handleGet)
	r.Post("/api/v1/entities/{type}", s.handleCreate)
	r.Put("/api/v1/entities/{type}/{id}", s.handleUpdate)
	r.Get("/api/v1/events", s.handleEvents)
	r.Post("/api/v1/events", s.handleLogEvent)
	r.Post("/api/v1/entities/{type}/{id}/thumbnail", s.handleUpload("thumbnail"))
	r.Post("/api/v1/entities/{type}/{id}/media", s.handleUpload("media"))

	s.Server = httptest.NewServer(r)
	return s
}

// Client returns a tracker client pointed at the fake.
func (s *Server) Client(opts ...tracker.Option) *tracker.Client {
	return tracker.New(s.URL, "test-script", "test-key", opts...)
}

// AddEntity seeds a record and appends its creation event.
func (s *Server) AddEntity(entityType, name string, fields map[string]any) *tracker.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(entityType, name, fields)
}

func (s *Server) addLocked(entityType, name string, fields map[string]any) *tracker.Entity {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["name"] = name

	e := &tracker.Entity{
		Type:   entityType,
		ID:     s.nextID,
		Name:   name,
		Fields: fields,
	}
	s.nextID++
	s.tables[entityType] = append(s.tables[entityType], e)

	project, _ := e.RefField("project")
	if entityType == "Project" {
		project = e.Ref()
	}
	s.events = append(s.events, tracker.Event{
		ID:        s.nextEID,
		Type:      "New" + entityType,
		EntityRef: e.Ref(),
		Project:   project,
		CreatedAt: time.Now().UTC(),
	})
	s.nextEID++

	return e
}

// Entity looks a record up by reference; nil when missing.
func (s *Server) Entity(ref tracker.Ref) *tracker.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(ref.Type, ref.ID)
}

// Entities returns every record of one type.
func (s *Server) Entities(entityType string) []*tracker.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*tracker.Entity(nil), s.tables[entityType]...)
}

// Events returns a copy of the event log.
func (s *Server) Events() []tracker.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tracker.Event(nil), s.events...)
}

func (s *Server) findLocked(entityType string, id int) *tracker.Entity {
	for _, e := range s.tables[entityType] {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (s *Server) failing(w http.ResponseWriter) bool {
	if s.FailGET > 0 {
		s.FailGET--
		writeError(w, http.StatusInternalServerError, "injected failure")
		return true
	}
	return false
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failing(w) {
		return
	}

	entityType := chi.URLParam(r, "type")

	var filters []tracker.Filter
	if raw := r.URL.Query().Get("filters"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &filters); err != nil {
			writeError(w, http.StatusBadRequest, "bad filters: "+err.Error())
			return
		}
	}

	var matched []*tracker.Entity
	for _, e := range s.tables[entityType] {
		if matchesAll(e, filters) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	limit := len(matched)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n < limit {
			limit = n
		}
	}

	writeJSON(w, map[string]any{"entities": matched[:limit]})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failing(w) {
		return
	}

	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	e := s.findLocked(chi.URLParam(r, "type"), id)
	if e == nil {
		writeError(w, http.StatusNotFound, "no such entity")
		return
	}
	writeJSON(w, map[string]any{"entity": e})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var body struct {
		Fields map[string]any `json:"fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	name, _ := body.Fields["name"].(string)
	e := s.addLocked(chi.URLParam(r, "type"), name, body.Fields)

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]any{"entity": e})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	e := s.findLocked(chi.URLParam(r, "type"), id)
	if e == nil {
		writeError(w, http.StatusNotFound, "no such entity")
		return
	}

	var body struct {
		Fields map[string]any `json:"fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for k, v := range body.Fields {
		e.Fields[k] = v
		if k == "name" {
			e.Name, _ = v.(string)
		}
	}

	writeJSON(w, map[string]any{"entity": e})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failing(w) {
		return
	}

	sinceID, _ := strconv.ParseInt(r.URL.Query().Get("since_id"), 10, 64)
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	var out []tracker.Event
	for _, ev := range s.events {
		if ev.ID > sinceID {
			out = append(out, ev)
		}
		if len(out) == limit {
			break
		}
	}

	writeJSON(w, map[string]any{"events": out})
}

func (s *Server) handleLogEvent(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ev tracker.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev.ID = s.nextEID
	s.nextEID++
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, ev)

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]any{"event": ev})
}

func (s *Server) handleUpload(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Close()

		s.mu.Lock()
		s.Uploads = append(s.Uploads,
			fmt.Sprintf("%s:%s/%s", chi.URLParam(r, "type"), chi.URLParam(r, "id"), kind))
		s.mu.Unlock()

		w.WriteHeader(http.StatusCreated)
	}
}

func matchesAll(e *tracker.Entity, filters []tracker.Filter) bool {
	for _, f := range filters {
		if !matches(e, f) {
			return false
		}
	}
	return true
}

func matches(e *tracker.Entity, f tracker.Filter) bool {
	var actual any
	switch f.Field {
	case "id":
		actual = e.ID
	case "name":
		actual = e.Name
	default:
		actual = e.Fields[f.Field]
	}

	switch f.Op {
	case "is":
		return valuesEqual(actual, f.Value)
	case "in":
		list, ok := f.Value.([]any)
		if !ok {
			return false
		}
		for _, v := range list {
			if valuesEqual(actual, v) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// valuesEqual compares loosely across json decoding: numbers arrive as
// float64, link fields as maps.
func valuesEqual(a, b any) bool {
	if am, ok := refValue(a); ok {
		if bm, ok := refValue(b); ok {
			return am == bm
		}
		return false
	}
	return normalize(a) == normalize(b)
}

func refValue(v any) (tracker.Ref, bool) {
	switch m := v.(type) {
	case tracker.Ref:
		return m, true
	case map[string]any:
		t, _ := m["type"].(string)
		id, ok := numeric(m["id"])
		if t == "" || !ok {
			return tracker.Ref{}, false
		}
		return tracker.Ref{Type: t, ID: id}, true
	default:
		return tracker.Ref{}, false
	}
}

func normalize(v any) string {
	if n, ok := numeric(v); ok {
		return strconv.Itoa(n)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func numeric(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
