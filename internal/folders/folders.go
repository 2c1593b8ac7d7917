// Package folders turns the folder schema plus a tracker selection into
// directories on disk, the "create folders" half of setting up work
// areas for new shots and assets.
package folders

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/framehaus/stagehand/internal/config"
	"github.com/framehaus/stagehand/internal/pathcache"
	"github.com/framehaus/stagehand/internal/tracker"
)

// Selection names the tracker records folders are requested for.
type Selection struct {
	Refs []tracker.Ref
}

// Op is one planned directory. Entity is set for entity-node
// expansions and nil for static nodes. Err marks ops that cannot be
// applied (an entity whose name would render an empty path segment);
// such ops are reported as failures without touching disk.
type Op struct {
	Path   string
	Node   *Node
	Entity *tracker.Entity
	Err    string
}

// Plan is ordered parent before child; entity expansions under one
// parent are ordered by name.
type Plan []Op

type Report struct {
	Created  []string          `json:"created"`
	Existing []string          `json:"existing"`
	Failures map[string]string `json:"failures,omitempty"`
}

type Creator struct {
	cfg    *config.Config
	schema *Schema
	client *tracker.Client
	cache  *pathcache.Store
	logger *zap.Logger
}

type Option func(*Creator)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Creator) {
		c.logger = logger.Named("stagehand.folders")
	}
}

func New(cfg *config.Config, schema *Schema, client *tracker.Client, cache *pathcache.Store, opts ...Option) *Creator {
	c := &Creator{
		cfg:    cfg,
		schema: schema,
		client: client,
		cache:  cache,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Preview computes the plan for a selection without touching disk.
// Above the selection only the ancestor chain expands; at and below the
// selected records, entity nodes expand for every tracked child
// matching their filters.
func (c *Creator) Preview(ctx context.Context, sel Selection) (Plan, error) {
	if len(sel.Refs) == 0 {
		return nil, fmt.Errorf("empty selection")
	}

	closure, selected, err := c.resolveSelection(ctx, sel)
	if err != nil {
		return nil, err
	}

	primary, err := c.cfg.PrimaryRoot()
	if err != nil {
		return nil, err
	}
	rootPath, err := primary.For(config.CurrentPlatform())
	if err != nil {
		return nil, err
	}

	var plan Plan
	if err := c.expand(ctx, &plan, &c.schema.Root, rootPath, nil, false, closure, selected); err != nil {
		return nil, err
	}
	return plan, nil
}

// Create applies the plan. Pre-existing directories are left untouched
// (permission bits included) and reported as existing; one failing op
// does not abort the rest. Entity directories are registered in the
// path cache, the first path per entity as its primary.
func (c *Creator) Create(ctx context.Context, sel Selection) (*Report, error) {
	plan, err := c.Preview(ctx, sel)
	if err != nil {
		return nil, err
	}

	primary, err := c.cfg.PrimaryRoot()
	if err != nil {
		return nil, err
	}

	report := &Report{Failures: map[string]string{}}
	var entries []pathcache.Entry
	primarySeen := map[string]bool{}

	for _, op := range plan {
		if op.Err != "" {
			report.Failures[op.Path] = op.Err
			continue
		}

		if info, err := os.Stat(op.Path); err == nil {
			if !info.IsDir() {
				report.Failures[op.Path] = "exists and is not a directory"
				continue
			}
			report.Existing = append(report.Existing, op.Path)
		} else if err := os.MkdirAll(op.Path, op.Node.Mode()); err != nil {
			report.Failures[op.Path] = err.Error()
			c.logger.Warn("mkdir failed", zap.String("path", op.Path), zap.Error(err))
			continue
		} else {
			report.Created = append(report.Created, op.Path)
		}

		if op.Entity != nil {
			stored, err := pathcache.Normalize(primary, op.Path)
			if err != nil {
				report.Failures[op.Path] = err.Error()
				continue
			}
			key := entityKey(op.Entity.Ref())
			entries = append(entries, pathcache.Entry{
				EntityType: op.Entity.Type,
				EntityID:   op.Entity.ID,
				Name:       op.Entity.Name,
				Path:       stored,
				Primary:    !primarySeen[key],
			})
			primarySeen[key] = true
		}
	}

	if err := c.cache.Register(ctx, entries); err != nil {
		return report, fmt.Errorf("register paths: %w", err)
	}

	c.logger.Info("folders created",
		zap.Int("created", len(report.Created)),
		zap.Int("existing", len(report.Existing)),
		zap.Int("failed", len(report.Failures)))
	return report, nil
}

// resolveSelection fetches every selected record plus its ancestors via
// link fields. A missing record fails the whole request up front.
func (c *Creator) resolveSelection(ctx context.Context, sel Selection) (map[string]*tracker.Entity, map[string]bool, error) {
	closure := map[string]*tracker.Entity{}
	selected := map[string]bool{}

	queue := append([]tracker.Ref(nil), sel.Refs...)
	for i := 0; i < len(queue); i++ {
		ref := queue[i]
		key := entityKey(ref)
		if _, seen := closure[key]; seen {
			continue
		}

		e, err := c.client.Get(ctx, ref, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve selection %s: %w", ref, err)
		}
		closure[key] = e
		if i < len(sel.Refs) {
			selected[key] = true
		}

		for _, link := range []string{"project", "sequence", "entity"} {
			if parent, ok := e.RefField(link); ok {
				if _, seen := closure[entityKey(parent)]; !seen {
					queue = append(queue, parent)
				}
			}
		}
	}

	return closure, selected, nil
}

// expand walks one schema node. below is true once the walk has passed
// a selected record, which switches entity candidates from the
// selection closure to full tracker queries.
func (c *Creator) expand(ctx context.Context, plan *Plan, node *Node, parentPath string, parent *tracker.Entity, below bool, closure map[string]*tracker.Entity, selected map[string]bool) error {
	if node.Type == NodeStatic {
		p := filepath.Join(parentPath, node.Name)
		*plan = append(*plan, Op{Path: p, Node: node})
		for i := range node.Children {
			if err := c.expand(ctx, plan, &node.Children[i], p, parent, below, closure, selected); err != nil {
				return err
			}
		}
		return nil
	}

	candidates, err := c.candidates(ctx, node, parent, below, closure)
	if err != nil {
		return err
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Name != candidates[j].Name {
			return candidates[i].Name < candidates[j].Name
		}
		return candidates[i].ID < candidates[j].ID
	})

	for _, e := range candidates {
		if e.Name == "" {
			*plan = append(*plan, Op{
				Path:   filepath.Join(parentPath, fmt.Sprintf("(%s %d)", e.Type, e.ID)),
				Node:   node,
				Entity: e,
				Err:    fmt.Sprintf("%s %d has an empty name", e.Type, e.ID),
			})
			continue
		}

		p := filepath.Join(parentPath, e.Name)
		*plan = append(*plan, Op{Path: p, Node: node, Entity: e})

		childBelow := below || selected[entityKey(e.Ref())]
		for i := range node.Children {
			if err := c.expand(ctx, plan, &node.Children[i], p, e, childBelow, closure, selected); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Creator) candidates(ctx context.Context, node *Node, parent *tracker.Entity, below bool, closure map[string]*tracker.Entity) ([]*tracker.Entity, error) {
	if below {
		filters, ok := resolveFilters(node.Filters, parent)
		if !ok {
			return nil, nil
		}
		found, err := c.client.Find(ctx, node.Entity, filters, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("expand %s under %s: %w", node.Entity, parent.Ref(), err)
		}
		out := make([]*tracker.Entity, len(found))
		for i := range found {
			out[i] = &found[i]
		}
		return out, nil
	}

	var out []*tracker.Entity
	for _, e := range closure {
		if e.Type == node.Entity && matchesFilters(e, node.Filters, parent) {
			out = append(out, e)
		}
	}
	return out, nil
}

// resolveFilters substitutes "@parent" for the enclosing entity's ref.
// ok is false when a filter needs a parent and there is none.
func resolveFilters(filters []Filter, parent *tracker.Entity) ([]tracker.Filter, bool) {
	out := make([]tracker.Filter, 0, len(filters))
	for _, f := range filters {
		var value any = f.Value
		if f.Value == "@parent" {
			if parent == nil {
				return nil, false
			}
			value = parent.Ref()
		}
		out = append(out, tracker.Filter{Field: f.Field, Op: f.Op, Value: value})
	}
	return out, true
}

// matchesFilters evaluates filters locally against a closure entity.
// Only "is" can be checked without the tracker; anything else excludes
// the record from ancestor-chain expansion.
func matchesFilters(e *tracker.Entity, filters []Filter, parent *tracker.Entity) bool {
	for _, f := range filters {
		if f.Op != "is" {
			return false
		}
		if f.Value == "@parent" {
			if parent == nil {
				return false
			}
			ref, ok := e.RefField(f.Field)
			if !ok || ref != parent.Ref() {
				return false
			}
			continue
		}
		if e.StringField(f.Field) != f.Value {
			return false
		}
	}
	return true
}

func entityKey(ref tracker.Ref) string {
	return fmt.Sprintf("%s:%d", ref.Type, ref.ID)
}
