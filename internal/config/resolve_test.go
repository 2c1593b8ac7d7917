package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFile(t *testing.T) {
	t.Run("later includes win top-level conflicts", func(t *testing.T) {
		root := t.TempDir()
		writeConfigFile(t, root, "a.yml", "setting: from_a\nonly_a: 1\n")
		writeConfigFile(t, root, "b.yml", "setting: from_b\n")
		writeConfigFile(t, root, "env.yml", `
includes:
  - a.yml
  - b.yml
`)

		doc, err := resolveFile(root + "/env.yml")
		require.NoError(t, err)
		assert.Equal(t, "from_b", doc["setting"])
		assert.Equal(t, 1, doc["only_a"])
	})

	t.Run("including document overrides includes", func(t *testing.T) {
		root := t.TempDir()
		writeConfigFile(t, root, "a.yml", "setting: from_a\n")
		writeConfigFile(t, root, "env.yml", `
includes:
  - a.yml
setting: local
`)

		doc, err := resolveFile(root + "/env.yml")
		require.NoError(t, err)
		assert.Equal(t, "local", doc["setting"])
	})

	t.Run("include cycle names the chain", func(t *testing.T) {
		root := t.TempDir()
		writeConfigFile(t, root, "a.yml", "includes: [b.yml]\n")
		writeConfigFile(t, root, "b.yml", "includes: [a.yml]\n")

		_, err := resolveFile(root + "/a.yml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "include cycle")
		assert.Contains(t, err.Error(), "a.yml")
		assert.Contains(t, err.Error(), "b.yml")
	})

	t.Run("references resolve across includes", func(t *testing.T) {
		root := t.TempDir()
		writeConfigFile(t, root, "vals.yml", `
vals:
  colorspace: linear
`)
		writeConfigFile(t, root, "env.yml", `
includes:
  - vals.yml
apps:
  nuke:
    colorspace: "@vals.colorspace"
`)

		doc, err := resolveFile(root + "/env.yml")
		require.NoError(t, err)

		apps := doc["apps"].(map[string]any)
		nuke := apps["nuke"].(map[string]any)
		assert.Equal(t, "linear", nuke["colorspace"])
	})

	t.Run("chained references resolve transitively", func(t *testing.T) {
		root := t.TempDir()
		writeConfigFile(t, root, "env.yml", `
a: "@b"
b: "@c"
c: done
`)

		doc, err := resolveFile(root + "/env.yml")
		require.NoError(t, err)
		assert.Equal(t, "done", doc["a"])
	})

	t.Run("unresolved reference names file and reference", func(t *testing.T) {
		root := t.TempDir()
		writeConfigFile(t, root, "env.yml", `x: "@missing.key"`)

		_, err := resolveFile(root + "/env.yml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "@missing.key")
		assert.Contains(t, err.Error(), "env.yml")
	})

	t.Run("reference cycle is an error", func(t *testing.T) {
		root := t.TempDir()
		writeConfigFile(t, root, "env.yml", `
a: "@b"
b: "@a"
`)

		_, err := resolveFile(root + "/env.yml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reference cycle")
	})

	t.Run("empty includes list", func(t *testing.T) {
		root := t.TempDir()
		writeConfigFile(t, root, "env.yml", "includes: []\nx: 1\n")

		doc, err := resolveFile(root + "/env.yml")
		require.NoError(t, err)
		assert.Equal(t, 1, doc["x"])
	})
}
