package config

import (
	"fmt"
	"os"
	"runtime"
	"sort"

	"gopkg.in/yaml.v3"
)

type Platform string

const (
	PlatformLinux   Platform = "linux"
	PlatformMac     Platform = "mac"
	PlatformWindows Platform = "windows"
)

// CurrentPlatform maps runtime.GOOS onto the three platforms a pipeline
// configuration addresses.
func CurrentPlatform() Platform {
	switch runtime.GOOS {
	case "darwin":
		return PlatformMac
	case "windows":
		return PlatformWindows
	default:
		return PlatformLinux
	}
}

// Root is a named storage root with one location per platform. Windows
// paths keep their drive letters verbatim.
type Root struct {
	Name  string
	Paths map[Platform]string
}

// For returns the root location on the named platform.
func (r Root) For(p Platform) (string, error) {
	path, ok := r.Paths[p]
	if !ok || path == "" {
		return "", fmt.Errorf("root %q has no path for platform %q", r.Name, p)
	}
	return path, nil
}

func (r Root) Platforms() []Platform {
	ps := make([]Platform, 0, len(r.Paths))
	for p := range r.Paths {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })
	return ps
}

func loadRoots(path string, into map[string]Root) error {
	bs, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	var doc struct {
		Roots map[string]map[string]string `yaml:"roots"`
	}
	if err := yaml.Unmarshal(bs, &doc); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if len(doc.Roots) == 0 {
		return fmt.Errorf("%s: no storage roots defined", path)
	}

	for name, paths := range doc.Roots {
		root := Root{
			Name:  name,
			Paths: map[Platform]string{},
		}
		for platform, p := range paths {
			switch Platform(platform) {
			case PlatformLinux, PlatformMac, PlatformWindows:
				root.Paths[Platform(platform)] = p
			default:
				return fmt.Errorf("%s: root %q: unknown platform %q", path, name, platform)
			}
		}
		into[name] = root
	}

	return nil
}
