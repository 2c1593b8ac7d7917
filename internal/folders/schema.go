package folders

import (
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type NodeType string

const (
	NodeStatic NodeType = "static"
	NodeEntity NodeType = "entity"
)

// Filter narrows which tracker records an entity node expands for. The
// value "@parent" resolves to the nearest enclosing entity at expansion
// time.
type Filter struct {
	Field string
	Op    string
	Value string
}

func (f *Filter) UnmarshalYAML(node *yaml.Node) error {
	var triple []string
	if err := node.Decode(&triple); err != nil {
		return err
	}
	if len(triple) != 3 {
		return fmt.Errorf("filter must be a [field, op, value] triple, got %v", triple)
	}
	f.Field, f.Op, f.Value = triple[0], triple[1], triple[2]
	return nil
}

// FileMode accepts yaml permissions written as octal strings ("0755")
// or integers.
type FileMode fs.FileMode

func (m *FileMode) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := strconv.ParseUint(raw, 8, 32)
	if err != nil {
		return fmt.Errorf("bad permissions %q: %w", raw, err)
	}
	*m = FileMode(parsed)
	return nil
}

// Node is one level of the folder schema. Static nodes are literal
// directory names; entity nodes expand once per matching tracker
// record, using the record name as the directory name.
type Node struct {
	Name        string   `yaml:"name"`
	Type        NodeType `yaml:"type"`
	Entity      string   `yaml:"entity"`
	Filters     []Filter `yaml:"filters"`
	Children    []Node   `yaml:"children"`
	Permissions FileMode `yaml:"permissions"`
}

func (n *Node) Mode() os.FileMode {
	if n.Permissions == 0 {
		return 0o755
	}
	return os.FileMode(n.Permissions)
}

type Schema struct {
	Root Node `yaml:"root"`
}

// LoadSchema parses config/core/schema.yml.
func LoadSchema(path string) (*Schema, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var s Schema
	if err := yaml.Unmarshal(bs, &s); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if err := validateNode(&s.Root, path); err != nil {
		return nil, err
	}
	return &s, nil
}

func validateNode(n *Node, path string) error {
	switch n.Type {
	case NodeStatic, "":
		n.Type = NodeStatic
		if n.Name == "" {
			return fmt.Errorf("%s: static node without a name", path)
		}
	case NodeEntity:
		if n.Entity == "" {
			return fmt.Errorf("%s: entity node without an entity type", path)
		}
	default:
		return fmt.Errorf("%s: unknown node type %q", path, n.Type)
	}

	for i := range n.Children {
		if err := validateNode(&n.Children[i], path); err != nil {
			return err
		}
	}
	return nil
}
