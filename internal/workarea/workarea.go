// Package workarea resolves the pipeline context a command or menu
// action runs in: which project, entity, step and task a path or task
// id belongs to.
package workarea

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/framehaus/stagehand/internal/config"
	"github.com/framehaus/stagehand/internal/pathcache"
	"github.com/framehaus/stagehand/internal/templates"
	"github.com/framehaus/stagehand/internal/tracker"
)

// WorkArea is a resolved pipeline context. Names carries display names
// keyed by entity type ("Project", "Sequence", "Shot", "Asset", "Step",
// "Task") for template-field derivation.
type WorkArea struct {
	Project *tracker.Ref `json:"project,omitempty"`
	Entity  *tracker.Ref `json:"entity,omitempty"`
	Step    *tracker.Ref `json:"step,omitempty"`
	Task    *tracker.Ref `json:"task,omitempty"`

	Names map[string]string `json:"names,omitempty"`
}

// TemplateFields returns the fields this context can supply for a
// template: entity names mapped onto the template's declared keys.
func (w *WorkArea) TemplateFields(t *templates.Template) templates.Fields {
	fields := templates.Fields{}
	for _, keyName := range t.KeyNames() {
		if name, ok := w.Names[keyName]; ok && name != "" {
			fields[keyName] = name
		}
	}
	return fields
}

// Encode serializes a work area for handoff to a child process via
// STAGEHAND_CONTEXT.
func Encode(w *WorkArea) (string, error) {
	bs, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("encode work area: %w", err)
	}
	return string(bs), nil
}

// Decode parses a STAGEHAND_CONTEXT value.
func Decode(raw string) (*WorkArea, error) {
	var w WorkArea
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("decode work area: %w", err)
	}
	return &w, nil
}

func (w *WorkArea) String() string {
	var parts []string
	for _, key := range []string{"Project", "Sequence", "Shot", "Asset", "Step", "Task"} {
		if name, ok := w.Names[key]; ok {
			parts = append(parts, fmt.Sprintf("%s=%s", key, name))
		}
	}
	if len(parts) == 0 {
		return "(empty)"
	}
	return strings.Join(parts, " ")
}

type Resolver struct {
	cfg    *config.Config
	cache  *pathcache.Store
	client *tracker.Client
	logger *zap.Logger
}

type Option func(*Resolver)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

func NewResolver(cfg *config.Config, cache *pathcache.Store, client *tracker.Client, opts ...Option) *Resolver {
	r := &Resolver{
		cfg:    cfg,
		cache:  cache,
		client: client,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FromTask resolves the work area a task belongs to.
func (r *Resolver) FromTask(ctx context.Context, taskID int) (*WorkArea, error) {
	task, err := r.client.Get(ctx, tracker.Ref{Type: "Task", ID: taskID}, nil)
	if err != nil {
		return nil, fmt.Errorf("resolve task %d: %w", taskID, err)
	}

	wa := &WorkArea{Names: map[string]string{}}
	ref := task.Ref()
	wa.Task = &ref
	wa.Names["Task"] = task.Name

	if step, ok := task.RefField("step"); ok {
		wa.Step = &step
		if stepEntity, err := r.client.Get(ctx, step, nil); err == nil {
			wa.Names["Step"] = stepEntity.Name
		}
	}

	entity, ok := task.RefField("entity")
	if !ok {
		return nil, fmt.Errorf("task %d is not linked to an entity", taskID)
	}
	if err := r.fillEntity(ctx, wa, entity); err != nil {
		return nil, err
	}

	return wa, nil
}

// FromRef resolves the work area for a bare entity reference.
func (r *Resolver) FromRef(ctx context.Context, ref tracker.Ref) (*WorkArea, error) {
	wa := &WorkArea{Names: map[string]string{}}
	if err := r.fillEntity(ctx, wa, ref); err != nil {
		return nil, err
	}
	return wa, nil
}

// FromPath walks a filesystem path upward against the path cache until
// it finds the owning entity, then resolves the rest via the tracker.
func (r *Resolver) FromPath(ctx context.Context, absPath string) (*WorkArea, error) {
	primary, err := r.cfg.PrimaryRoot()
	if err != nil {
		return nil, err
	}

	stored, err := pathcache.Normalize(primary, absPath)
	if err != nil {
		return nil, err
	}

	for cur := stored; ; {
		entry, err := r.cache.EntityAt(ctx, cur)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			r.logger.Debug("path resolved via cache",
				zap.String("path", cur),
				zap.String("entity", fmt.Sprintf("%s:%d", entry.EntityType, entry.EntityID)))
			return r.FromRef(ctx, tracker.Ref{Type: entry.EntityType, ID: entry.EntityID})
		}

		rootName, rel, _ := strings.Cut(cur, ":")
		if rel == "" {
			return nil, fmt.Errorf("no entity registered for %q or any parent", absPath)
		}
		parent := path.Dir(rel)
		if parent == "." || parent == "/" {
			parent = ""
		}
		cur = rootName + ":" + parent
	}
}

// fillEntity records the entity itself plus its project, sequence and
// name chain.
func (r *Resolver) fillEntity(ctx context.Context, wa *WorkArea, ref tracker.Ref) error {
	entity, err := r.client.Get(ctx, ref, nil)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", ref, err)
	}

	entityRef := entity.Ref()
	wa.Entity = &entityRef
	wa.Names[entity.Type] = entity.Name

	if seq, ok := entity.RefField("sequence"); ok {
		if seqEntity, err := r.client.Get(ctx, seq, nil); err == nil {
			wa.Names[seqEntity.Type] = seqEntity.Name
		}
	}

	if entity.Type == "Project" {
		wa.Project = &entityRef
		wa.Names["Project"] = entity.Name
		return nil
	}

	project, ok := entity.RefField("project")
	if !ok {
		return fmt.Errorf("%s is not linked to a project", ref)
	}
	wa.Project = &project
	if projectEntity, err := r.client.Get(ctx, project, nil); err == nil {
		wa.Names["Project"] = projectEntity.Name
	}

	return nil
}
