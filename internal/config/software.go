package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Software describes one launchable application from
// config/env/includes/paths.yml. The versions table maps a version label
// to per-platform executable paths.
type Software struct {
	Name           string               `yaml:"-"`
	DisplayName    string               `yaml:"display_name"`
	Group          string               `yaml:"group"`
	Versions       map[string]ExecPaths `yaml:"versions"`
	DefaultVersion string               `yaml:"default_version"`
	Env            map[string]string    `yaml:"env"`
	Args           []string             `yaml:"args"`
}

type ExecPaths struct {
	Linux   string `yaml:"linux"`
	Mac     string `yaml:"mac"`
	Windows string `yaml:"windows"`
}

func (e ExecPaths) For(p Platform) string {
	switch p {
	case PlatformMac:
		return e.Mac
	case PlatformWindows:
		return e.Windows
	default:
		return e.Linux
	}
}

// Version resolves a version label to its executable paths. An empty
// label means the software's default version; with no default configured
// the lexically greatest version wins.
func (s Software) Version(label string) (string, ExecPaths, error) {
	if label == "" {
		label = s.DefaultVersion
	}
	if label == "" {
		labels := make([]string, 0, len(s.Versions))
		for l := range s.Versions {
			labels = append(labels, l)
		}
		if len(labels) == 0 {
			return "", ExecPaths{}, fmt.Errorf("software %q has no versions configured", s.Name)
		}
		sort.Strings(labels)
		label = labels[len(labels)-1]
	}

	paths, ok := s.Versions[label]
	if !ok {
		return "", ExecPaths{}, fmt.Errorf("software %q has no version %q", s.Name, label)
	}
	return label, paths, nil
}

func loadSoftware(path string, into map[string]Software) error {
	doc, err := resolveFile(path)
	if err != nil {
		return err
	}

	raw, ok := doc["software"]
	if !ok {
		return fmt.Errorf("%s: missing top-level software block", path)
	}

	bs, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	var table map[string]Software
	if err := yaml.Unmarshal(bs, &table); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	for name, sw := range table {
		sw.Name = name
		for label, paths := range sw.Versions {
			sw.Versions[label] = ExecPaths{
				Linux:   expandHome(paths.Linux),
				Mac:     expandHome(paths.Mac),
				Windows: paths.Windows,
			}
		}
		into[name] = sw
	}

	return nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.ToSlash(filepath.Join(home, strings.TrimPrefix(p, "~")))
	}
	return p
}

// SoftwareFor resolves an environment's app setting into a concrete
// executable for the current platform.
func (c *Config) SoftwareFor(envName, app string) (Software, string, string, error) {
	env, err := c.Environment(envName)
	if err != nil {
		return Software{}, "", "", err
	}

	setting, ok := env.Apps[app]
	if !ok {
		return Software{}, "", "", fmt.Errorf("environment %q has no app %q", envName, app)
	}

	swName := setting.Software
	if swName == "" {
		swName = app
	}

	sw, ok := c.Software[swName]
	if !ok {
		return Software{}, "", "", fmt.Errorf("software %q is not defined in %s", swName, c.PathsFile())
	}

	version, paths, err := sw.Version(setting.Version)
	if err != nil {
		return Software{}, "", "", err
	}

	exec := paths.For(CurrentPlatform())
	if exec == "" {
		return Software{}, "", "", fmt.Errorf(
			"software %q version %s has no executable path for platform %q: add one to %s",
			swName, version, CurrentPlatform(), c.PathsFile())
	}

	return sw, version, exec, nil
}
