package config

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed all:defaults
var defaultsFS embed.FS

// Scaffold writes the starter pipeline configuration into dir. Existing
// files are left untouched so re-running against a live configuration is
// safe.
func Scaffold(dir string) ([]string, error) {
	var written []string

	err := fs.WalkDir(defaultsFS, "defaults", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel("defaults", filepath.FromSlash(p))
		if err != nil {
			return err
		}
		target := filepath.Join(dir, rel)

		if _, err := os.Stat(target); err == nil {
			return nil
		}

		bs, err := defaultsFS.ReadFile(p)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, bs, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", target, err)
		}

		written = append(written, target)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return written, nil
}
