package templates

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/framehaus/stagehand/internal/config"
)

// PathsOnDisk globs the filesystem for every path matching the template
// with the given fields fixed and skipKeys wildcarded. Used for frame
// sequences: skip the sequence key and get one path per rendered frame.
func PathsOnDisk(t *Template, fields Fields, skipKeys []string) ([]string, error) {
	wildcards := map[string]bool{}
	for _, k := range skipKeys {
		wildcards[k] = true
	}

	rel, err := t.relative(fields, wildcards)
	if err != nil {
		return nil, err
	}

	pattern, err := t.join(config.CurrentPlatform(), rel)
	if err != nil {
		return nil, err
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("template %q: bad glob %q: %w", t.Name, pattern, err)
	}

	var out []string
	for _, m := range matches {
		got, err := t.Fields(m)
		if err != nil {
			continue
		}
		if fieldsAgree(fields, got, wildcards) {
			out = append(out, m)
		}
	}

	sort.Strings(out)
	return out, nil
}

func fieldsAgree(want, got Fields, skip map[string]bool) bool {
	for k, v := range want {
		if skip[k] {
			continue
		}
		if _, isSpec := v.(FrameSpec); isSpec {
			continue
		}
		gv, ok := got[k]
		if !ok {
			continue
		}
		if gv != v {
			return false
		}
	}
	return true
}
