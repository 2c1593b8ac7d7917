package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const rootMarker = "config/core/roots.yml"

// Discover locates the pipeline configuration root. An explicit root
// (flag or STAGEHAND_CONFIG_ROOT) wins; otherwise the working directory
// and its ancestors are searched for the config/core/roots.yml marker.
func Discover(explicit string) (string, error) {
	if explicit != "" {
		marker := filepath.Join(explicit, filepath.FromSlash(rootMarker))
		if _, err := os.Stat(marker); err != nil {
			return "", fmt.Errorf("%s is not a pipeline configuration root (missing %s)", explicit, rootMarker)
		}
		return explicit, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		marker := filepath.Join(dir, filepath.FromSlash(rootMarker))
		if _, err := os.Stat(marker); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf(
				"no pipeline configuration found: searched for %s upward from the working directory; set --config-root or STAGEHAND_CONFIG_ROOT",
				rootMarker)
		}
		dir = parent
	}
}
