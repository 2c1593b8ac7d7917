package tracker

import (
	"encoding/json"
	"fmt"
	"time"
)

// Ref is a lightweight pointer to a tracking-service record.
type Ref struct {
	Type string `json:"type"`
	ID   int    `json:"id"`
}

func (r Ref) IsZero() bool {
	return r.Type == "" && r.ID == 0
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%d", r.Type, r.ID)
}

// Entity is a full tracking-service record. Link fields appear inside
// Fields as {"type": ..., "id": ...} maps.
type Entity struct {
	Type   string         `json:"type"`
	ID     int            `json:"id"`
	Name   string         `json:"name"`
	Fields map[string]any `json:"fields,omitempty"`
}

func (e *Entity) Ref() Ref {
	return Ref{Type: e.Type, ID: e.ID}
}

// StringField reads a string field, empty when absent or not a string.
func (e *Entity) StringField(name string) string {
	s, _ := e.Fields[name].(string)
	return s
}

// RefField reads a link field.
func (e *Entity) RefField(name string) (Ref, bool) {
	switch v := e.Fields[name].(type) {
	case Ref:
		return v, true
	case map[string]any:
		t, _ := v["type"].(string)
		id, ok := numericID(v["id"])
		if t == "" || !ok {
			return Ref{}, false
		}
		return Ref{Type: t, ID: id}, true
	default:
		return Ref{}, false
	}
}

func numericID(v any) (int, bool) {
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

// Filter is one [field, op, value] query triple, wire-encoded as a
// three-element array.
type Filter struct {
	Field string
	Op    string
	Value any
}

func (f Filter) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]any{f.Field, f.Op, f.Value})
}

func (f *Filter) UnmarshalJSON(bs []byte) error {
	var triple [3]any
	if err := json.Unmarshal(bs, &triple); err != nil {
		return err
	}
	field, ok := triple[0].(string)
	if !ok {
		return fmt.Errorf("filter field must be a string")
	}
	op, ok := triple[1].(string)
	if !ok {
		return fmt.Errorf("filter op must be a string")
	}
	f.Field = field
	f.Op = op
	f.Value = triple[2]
	return nil
}

// Event is one record from the service's event log.
type Event struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	EntityRef Ref            `json:"entity"`
	Project   Ref            `json:"project"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// APIError is a non-2xx response from the tracking service.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("tracker: status %d", e.StatusCode)
	}
	return fmt.Sprintf("tracker: status %d: %s", e.StatusCode, e.Detail)
}
