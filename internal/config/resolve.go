package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// resolveFile loads a yaml document, merges its includes and resolves
// "@a.b.c" references against the merged namespace.
//
// Merge rules: includes are merged first, in listed order, later files
// winning top-level key conflicts. The including document overlays the
// merged includes. References resolve after all merging, so an include
// may reference values supplied by its sibling or by the including file.
func resolveFile(path string) (map[string]any, error) {
	return ResolveFile(path)
}

// ResolveFile loads a configuration document with its includes merged
// and its references resolved, for inspection tooling.
func ResolveFile(path string) (map[string]any, error) {
	doc, err := loadMerged(path, nil)
	if err != nil {
		return nil, err
	}

	res := &resolver{namespace: doc, file: path}
	out, err := res.resolveNode(doc)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func loadMerged(path string, stack []string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	for _, seen := range stack {
		if seen == abs {
			return nil, fmt.Errorf("include cycle: %s", strings.Join(append(stack, abs), " -> "))
		}
	}
	stack = append(stack, abs)

	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(bs, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	merged := map[string]any{}

	if rawIncludes, ok := doc["includes"]; ok {
		list, ok := rawIncludes.([]any)
		if !ok {
			return nil, fmt.Errorf("%s: includes must be a list of paths", path)
		}
		for _, item := range list {
			rel, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s: includes must be a list of paths", path)
			}
			incPath := rel
			if !filepath.IsAbs(incPath) {
				incPath = filepath.Join(filepath.Dir(path), rel)
			}
			inc, err := loadMerged(incPath, stack)
			if err != nil {
				return nil, err
			}
			for k, v := range inc {
				merged[k] = v
			}
		}
	}

	for k, v := range doc {
		if k == "includes" {
			continue
		}
		merged[k] = v
	}

	return merged, nil
}

type resolver struct {
	namespace map[string]any
	file      string

	// active guards against reference cycles: "@a" -> "@b" -> "@a".
	active []string
}

func (r *resolver) resolveNode(node any) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			resolved, err := r.resolveNode(child)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			resolved, err := r.resolveNode(child)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case string:
		if strings.HasPrefix(v, "@") {
			return r.resolveRef(v)
		}
		return v, nil
	default:
		return v, nil
	}
}

func (r *resolver) resolveRef(ref string) (any, error) {
	for _, a := range r.active {
		if a == ref {
			return nil, fmt.Errorf("%s: reference cycle: %s", r.file, strings.Join(append(r.active, ref), " -> "))
		}
	}
	r.active = append(r.active, ref)
	defer func() { r.active = r.active[:len(r.active)-1] }()

	var node any = r.namespace
	for _, part := range strings.Split(strings.TrimPrefix(ref, "@"), ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: unresolved reference %q", r.file, ref)
		}
		node, ok = m[part]
		if !ok {
			return nil, fmt.Errorf("%s: unresolved reference %q", r.file, ref)
		}
	}

	return r.resolveNode(node)
}
