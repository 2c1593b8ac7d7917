package templates

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/framehaus/stagehand/internal/config"
)

// Fields carries template field values keyed by key name.
type Fields map[string]any

// Template is a path pattern with typed "{key}" substitutions and
// optional "[...]" segments, rendered under a named storage root.
type Template struct {
	Name     string
	RootName string
	Pattern  string

	root   config.Root
	groups []group
	keys   map[string]Key

	re       *regexp.Regexp
	captures []string // key name per capture group, in order
}

type token struct {
	text string
	key  string
}

type group struct {
	optional bool
	tokens   []token
}

func (g group) keyNames() []string {
	var names []string
	for _, tok := range g.tokens {
		if tok.key != "" {
			names = append(names, tok.key)
		}
	}
	return names
}

// Key returns the declared key for name, when the template uses it.
func (t *Template) Key(name string) (Key, bool) {
	k, ok := t.keys[name]
	return k, ok
}

// KeyNames lists the keys the template uses, sorted.
func (t *Template) KeyNames() []string {
	names := make([]string, 0, len(t.keys))
	for n := range t.keys {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Apply renders an absolute path for the current platform.
func (t *Template) Apply(fields Fields) (string, error) {
	return t.ApplyFor(fields, config.CurrentPlatform())
}

// ApplyFor renders an absolute path under the template's root on the
// named platform. Extra fields are ignored; missing required fields are
// reported together.
func (t *Template) ApplyFor(fields Fields, platform config.Platform) (string, error) {
	rel, err := t.relative(fields, nil)
	if err != nil {
		return "", err
	}
	return t.join(platform, rel)
}

func (t *Template) join(platform config.Platform, rel string) (string, error) {
	rootPath, err := t.root.For(platform)
	if err != nil {
		return "", fmt.Errorf("template %q: %w", t.Name, err)
	}
	if platform == config.PlatformWindows {
		return strings.TrimSuffix(rootPath, `\`) + `\` + strings.ReplaceAll(rel, "/", `\`), nil
	}
	return strings.TrimSuffix(rootPath, "/") + "/" + rel, nil
}

// relative renders the slash-separated path below the root. Keys in
// wildcards render as "*" regardless of the supplied fields.
func (t *Template) relative(fields Fields, wildcards map[string]bool) (string, error) {
	var b strings.Builder
	var missing []string

	for _, g := range t.groups {
		if g.optional {
			keys := g.keyNames()
			present := 0
			for _, k := range keys {
				if _, ok := fields[k]; ok || wildcards[k] {
					present++
				}
			}
			if present == 0 {
				continue
			}
			if present < len(keys) {
				return "", fmt.Errorf(
					"template %q: optional segment requires all of %v or none",
					t.Name, keys)
			}
		}

		for _, tok := range g.tokens {
			if tok.key == "" {
				b.WriteString(tok.text)
				continue
			}
			if wildcards[tok.key] {
				b.WriteString("*")
				continue
			}
			v, ok := fields[tok.key]
			if !ok {
				if !g.optional {
					missing = append(missing, tok.key)
				}
				continue
			}
			rendered, err := t.keys[tok.key].Format(v)
			if err != nil {
				return "", fmt.Errorf("template %q: %w", t.Name, err)
			}
			b.WriteString(rendered)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("template %q: missing required keys: %s",
			t.Name, strings.Join(missing, ", "))
	}

	return b.String(), nil
}

// Fields parses a rendered path back into its field values; the inverse
// of Apply for paths this template produced. Paths rendered for any
// platform are accepted.
func (t *Template) Fields(path string) (Fields, error) {
	rel, err := t.stripRoot(path)
	if err != nil {
		return nil, err
	}

	m := t.re.FindStringSubmatch(rel)
	if m == nil {
		return nil, fmt.Errorf("path %q does not match template %q", path, t.Name)
	}

	fields := Fields{}
	for i, keyName := range t.captures {
		raw := m[i+1]
		if raw == "" {
			continue
		}
		v, err := t.keys[keyName].Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("path %q: %w", path, err)
		}
		if prev, seen := fields[keyName]; seen && prev != v {
			return nil, fmt.Errorf(
				"path %q: key %q has conflicting values %v and %v",
				path, keyName, prev, v)
		}
		fields[keyName] = v
	}

	return fields, nil
}

// Matches is a cheap structural test: does the path belong to this
// template.
func (t *Template) Matches(path string) bool {
	_, err := t.Fields(path)
	return err == nil
}

func (t *Template) stripRoot(path string) (string, error) {
	norm := strings.ReplaceAll(path, `\`, "/")
	for _, platform := range t.root.Platforms() {
		rootPath, err := t.root.For(platform)
		if err != nil {
			continue
		}
		prefix := strings.TrimSuffix(strings.ReplaceAll(rootPath, `\`, "/"), "/") + "/"
		if strings.HasPrefix(norm, prefix) {
			return strings.TrimPrefix(norm, prefix), nil
		}
	}
	return "", fmt.Errorf("path %q is not under root %q", path, t.RootName)
}

// compile builds the parse regexp. Each key occurrence becomes a capture
// group; optional segments become non-capturing optional groups.
func (t *Template) compile() error {
	var b strings.Builder
	b.WriteString(`^`)

	for _, g := range t.groups {
		if g.optional {
			b.WriteString(`(?:`)
		}
		for _, tok := range g.tokens {
			if tok.key == "" {
				b.WriteString(regexp.QuoteMeta(tok.text))
				continue
			}
			b.WriteString(`(` + t.keys[tok.key].regex() + `)`)
			t.captures = append(t.captures, tok.key)
		}
		if g.optional {
			b.WriteString(`)?`)
		}
	}

	b.WriteString(`$`)

	re, err := regexp.Compile(b.String())
	if err != nil {
		return fmt.Errorf("template %q: %w", t.Name, err)
	}
	t.re = re
	return nil
}

func parsePattern(pattern string) ([]group, []string, error) {
	var groups []group
	var keyNames []string
	seen := map[string]bool{}

	cur := group{}
	flush := func() {
		if len(cur.tokens) > 0 {
			groups = append(groups, cur)
		}
		cur = group{}
	}

	i := 0
	var literal strings.Builder
	flushLiteral := func() {
		if literal.Len() > 0 {
			cur.tokens = append(cur.tokens, token{text: literal.String()})
			literal.Reset()
		}
	}

	for i < len(pattern) {
		switch pattern[i] {
		case '{':
			end := strings.IndexByte(pattern[i:], '}')
			if end < 0 {
				return nil, nil, fmt.Errorf("unterminated '{' in pattern %q", pattern)
			}
			name := pattern[i+1 : i+end]
			if name == "" {
				return nil, nil, fmt.Errorf("empty key in pattern %q", pattern)
			}
			flushLiteral()
			cur.tokens = append(cur.tokens, token{key: name})
			if !seen[name] {
				seen[name] = true
				keyNames = append(keyNames, name)
			}
			i += end + 1
		case '[':
			if cur.optional {
				return nil, nil, fmt.Errorf("nested '[' in pattern %q", pattern)
			}
			flushLiteral()
			flush()
			cur.optional = true
			i++
		case ']':
			if !cur.optional {
				return nil, nil, fmt.Errorf("unmatched ']' in pattern %q", pattern)
			}
			flushLiteral()
			if len(cur.keyNames()) == 0 {
				return nil, nil, fmt.Errorf("optional segment without keys in pattern %q", pattern)
			}
			flush()
			i++
		default:
			literal.WriteByte(pattern[i])
			i++
		}
	}

	if cur.optional {
		return nil, nil, fmt.Errorf("unterminated '[' in pattern %q", pattern)
	}
	flushLiteral()
	flush()

	return groups, keyNames, nil
}
