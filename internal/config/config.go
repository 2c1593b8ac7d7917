package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is a fully loaded pipeline configuration: storage roots, the
// software table from config/env/includes/paths.yml, every resolved
// environment, and the tracking-service settings.
type Config struct {
	Root string

	Roots        map[string]Root
	Software     map[string]Software
	Environments map[string]*Environment
	Tracker      TrackerSettings
}

type TrackerSettings struct {
	BaseURL    string `yaml:"base_url"`
	ScriptName string `yaml:"script_name"`
	APIKeyEnv  string `yaml:"key_env"`
}

type Environment struct {
	Name string `yaml:"-"`

	Apps  map[string]AppSetting `yaml:"apps"`
	Hooks Hooks                 `yaml:"hooks"`
}

type AppSetting struct {
	Software string         `yaml:"software"`
	Version  string         `yaml:"version"`
	Menu     []MenuItem     `yaml:"menu"`
	Settings map[string]any `yaml:"settings"`
}

type MenuItem struct {
	Name   string            `yaml:"name"`
	Action string            `yaml:"action"`
	Args   map[string]string `yaml:"args"`
}

type Hooks struct {
	// BeforeLaunch commands run in order before an application starts.
	// Each entry is an argv list; a failing hook aborts the launch.
	BeforeLaunch [][]string `yaml:"before_launch"`
}

// Load reads the pipeline configuration rooted at dir. The root must
// contain config/core/roots.yml; everything else is optional but
// validated when present.
func Load(root string) (*Config, error) {
	c := &Config{
		Root:         root,
		Roots:        map[string]Root{},
		Software:     map[string]Software{},
		Environments: map[string]*Environment{},
	}

	rootsPath := filepath.Join(root, "config", "core", "roots.yml")
	if err := loadRoots(rootsPath, c.Roots); err != nil {
		return nil, err
	}

	pathsPath := c.PathsFile()
	if _, err := os.Stat(pathsPath); err == nil {
		if err := loadSoftware(pathsPath, c.Software); err != nil {
			return nil, err
		}
	}

	trackerPath := filepath.Join(root, "config", "core", "tracker.yml")
	if bs, err := os.ReadFile(trackerPath); err == nil {
		if err := yaml.Unmarshal(bs, &c.Tracker); err != nil {
			return nil, fmt.Errorf("%s: %w", trackerPath, err)
		}
	}

	envDir := filepath.Join(root, "config", "env")
	entries, err := os.ReadDir(envDir)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("read env dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yml") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".yml")
		env, err := loadEnvironment(filepath.Join(envDir, e.Name()))
		if err != nil {
			return nil, err
		}
		env.Name = name
		c.Environments[name] = env
	}

	return c, nil
}

// Environment returns the named environment or an error listing the
// ones that exist.
func (c *Config) Environment(name string) (*Environment, error) {
	env, ok := c.Environments[name]
	if !ok {
		known := make([]string, 0, len(c.Environments))
		for k := range c.Environments {
			known = append(known, k)
		}
		sort.Strings(known)
		return nil, fmt.Errorf("unknown environment %q (have: %s)", name, strings.Join(known, ", "))
	}
	return env, nil
}

func (c *Config) TemplatesPath() string {
	return filepath.Join(c.Root, "config", "core", "templates.yml")
}

func (c *Config) SchemaPath() string {
	return filepath.Join(c.Root, "config", "core", "schema.yml")
}

func (c *Config) PathsFile() string {
	return filepath.Join(c.Root, "config", "env", "includes", "paths.yml")
}

func (c *Config) CachePath() string {
	return filepath.Join(c.Root, "cache", "paths.db")
}

// PrimaryRoot returns the storage root named "primary", falling back to
// the lexically first root when no primary is defined.
func (c *Config) PrimaryRoot() (Root, error) {
	if r, ok := c.Roots["primary"]; ok {
		return r, nil
	}
	names := make([]string, 0, len(c.Roots))
	for n := range c.Roots {
		names = append(names, n)
	}
	if len(names) == 0 {
		return Root{}, fmt.Errorf("no storage roots defined in config/core/roots.yml")
	}
	sort.Strings(names)
	return c.Roots[names[0]], nil
}

func loadEnvironment(path string) (*Environment, error) {
	doc, err := resolveFile(path)
	if err != nil {
		return nil, err
	}

	// Round-trip the resolved document through yaml to pick up typed
	// environment settings.
	bs, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var env Environment
	if err := yaml.Unmarshal(bs, &env); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &env, nil
}
