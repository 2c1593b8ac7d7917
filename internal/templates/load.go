package templates

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/framehaus/stagehand/internal/config"
)

// Set is the loaded template table from config/core/templates.yml.
type Set struct {
	Keys      map[string]Key
	Templates map[string]*Template
}

type keyConfig struct {
	Type       string   `yaml:"type"`
	Choices    []string `yaml:"choices"`
	Default    string   `yaml:"default"`
	FormatSpec string   `yaml:"format_spec"`
}

type templateConfig struct {
	Root    string `yaml:"root"`
	Pattern string `yaml:"pattern"`
}

type templatesFile struct {
	Keys  map[string]keyConfig      `yaml:"keys"`
	Paths map[string]templateConfig `yaml:"paths"`
}

// Load parses the template file against the configured storage roots.
// Every "{key}" in every pattern must be declared in the keys section;
// "@name" splices are resolved here, cycle-checked.
func Load(path string, roots map[string]config.Root) (*Set, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var file templatesFile
	if err := yaml.Unmarshal(bs, &file); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	set := &Set{
		Keys:      map[string]Key{},
		Templates: map[string]*Template{},
	}

	for name, kc := range file.Keys {
		switch kc.Type {
		case "str", "":
			set.Keys[name] = StrKey{name: name, Choices: kc.Choices, Default: kc.Default}
		case "int":
			set.Keys[name] = IntKey{name: name, FormatSpec: kc.FormatSpec}
		case "sequence":
			set.Keys[name] = SequenceKey{IntKey{name: name, FormatSpec: kc.FormatSpec}}
		default:
			return nil, fmt.Errorf("%s: key %q: unknown type %q", path, name, kc.Type)
		}
	}

	// Resolve splices before building templates.
	resolved := map[string]templateConfig{}
	for name := range file.Paths {
		tc, err := resolveSplice(name, file.Paths, resolved, nil)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		resolved[name] = tc
	}

	for name, tc := range resolved {
		root, ok := roots[tc.Root]
		if !ok {
			return nil, fmt.Errorf("%s: template %q: unknown root %q", path, name, tc.Root)
		}

		groups, keyNames, err := parsePattern(tc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%s: template %q: %w", path, name, err)
		}

		t := &Template{
			Name:     name,
			RootName: tc.Root,
			Pattern:  tc.Pattern,
			root:     root,
			groups:   groups,
			keys:     map[string]Key{},
		}

		for _, kn := range keyNames {
			k, ok := set.Keys[kn]
			if !ok {
				return nil, fmt.Errorf("%s: template %q: undeclared key %q", path, name, kn)
			}
			t.keys[kn] = k
		}

		if err := t.compile(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		set.Templates[name] = t
	}

	return set, nil
}

// resolveSplice expands a leading "@other" in a pattern. The spliced
// template contributes its pattern and, when ours omits one, its root.
func resolveSplice(name string, raw map[string]templateConfig, done map[string]templateConfig, stack []string) (templateConfig, error) {
	if tc, ok := done[name]; ok {
		return tc, nil
	}
	for _, s := range stack {
		if s == name {
			return templateConfig{}, fmt.Errorf("template splice cycle: %s", strings.Join(append(stack, name), " -> "))
		}
	}

	tc, ok := raw[name]
	if !ok {
		return templateConfig{}, fmt.Errorf("template %q: spliced template does not exist", name)
	}

	if !strings.HasPrefix(tc.Pattern, "@") {
		return tc, nil
	}

	ref := strings.TrimPrefix(tc.Pattern, "@")
	rest := ""
	if i := strings.IndexByte(ref, '/'); i >= 0 {
		ref, rest = ref[:i], ref[i+1:]
	}

	base, err := resolveSplice(ref, raw, done, append(stack, name))
	if err != nil {
		return templateConfig{}, err
	}

	out := templateConfig{
		Root:    tc.Root,
		Pattern: base.Pattern,
	}
	if rest != "" {
		out.Pattern += "/" + rest
	}
	if out.Root == "" {
		out.Root = base.Root
	}
	done[name] = out
	return out, nil
}

// Template returns the named template or an error listing the ones that
// exist.
func (s *Set) Template(name string) (*Template, error) {
	t, ok := s.Templates[name]
	if !ok {
		return nil, fmt.Errorf("unknown template %q (have: %s)", name, strings.Join(s.Names(), ", "))
	}
	return t, nil
}

func (s *Set) Names() []string {
	names := make([]string, 0, len(s.Templates))
	for n := range s.Templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
