package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	writeConfigFile(t, root, "config/core/roots.yml", `
roots:
  primary:
    linux: /mnt/projects
    mac: /Volumes/projects
    windows: 'P:\projects'
`)

	writeConfigFile(t, root, "config/env/includes/paths.yml", `
software:
  nuke:
    display_name: Nuke
    default_version: "15.1v3"
    versions:
      "15.1v3":
        linux: /usr/local/Nuke15.1v3/Nuke15.1
        mac: /Applications/Nuke15.1v3/Nuke15.1v3.app/Contents/MacOS/Nuke15.1
    args: ["--nukex"]
  maya:
    display_name: Maya
    versions:
      "2024":
        linux: /usr/autodesk/maya2024/bin/maya
      "2025":
        linux: /usr/autodesk/maya2025/bin/maya
`)

	writeConfigFile(t, root, "config/env/includes/common.yml", `
common:
  menu:
    publish:
      - name: "Publish..."
        action: publish
`)

	writeConfigFile(t, root, "config/env/shot.yml", `
includes:
  - includes/paths.yml
  - includes/common.yml

apps:
  nuke:
    software: nuke
    menu: "@common.menu.publish"
`)

	return root
}

func TestLoadConfig(t *testing.T) {
	root := newTestRoot(t)

	c, err := Load(root)
	require.NoError(t, err)

	t.Run("roots", func(t *testing.T) {
		primary, err := c.PrimaryRoot()
		require.NoError(t, err)
		assert.Equal(t, "/mnt/projects", primary.Paths[PlatformLinux])
		assert.Equal(t, `P:\projects`, primary.Paths[PlatformWindows])
	})

	t.Run("software table", func(t *testing.T) {
		nuke, ok := c.Software["nuke"]
		require.True(t, ok)
		assert.Equal(t, "Nuke", nuke.DisplayName)
		assert.Equal(t, []string{"--nukex"}, nuke.Args)

		label, paths, err := nuke.Version("")
		require.NoError(t, err)
		assert.Equal(t, "15.1v3", label)
		assert.Equal(t, "/usr/local/Nuke15.1v3/Nuke15.1", paths.Linux)
	})

	t.Run("no default version falls back to greatest", func(t *testing.T) {
		maya := c.Software["maya"]
		label, _, err := maya.Version("")
		require.NoError(t, err)
		assert.Equal(t, "2025", label)
	})

	t.Run("environment with resolved menu reference", func(t *testing.T) {
		env, err := c.Environment("shot")
		require.NoError(t, err)

		nuke, ok := env.Apps["nuke"]
		require.True(t, ok)
		require.Len(t, nuke.Menu, 1)
		assert.Equal(t, "publish", nuke.Menu[0].Action)
	})

	t.Run("unknown environment lists known ones", func(t *testing.T) {
		_, err := c.Environment("nope")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "shot")
	})
}

func TestSoftwareFor(t *testing.T) {
	t.Run("resolves executable for current platform", func(t *testing.T) {
		if CurrentPlatform() == PlatformWindows {
			t.Skip("fixture has no windows paths")
		}
		c, err := Load(newTestRoot(t))
		require.NoError(t, err)

		sw, version, exec, err := c.SoftwareFor("shot", "nuke")
		require.NoError(t, err)
		assert.Equal(t, "nuke", sw.Name)
		assert.Equal(t, "15.1v3", version)
		assert.NotEmpty(t, exec)
	})

	t.Run("missing platform path names paths.yml", func(t *testing.T) {
		root := newTestRoot(t)
		writeConfigFile(t, root, "config/env/includes/paths.yml", `
software:
  nuke:
    versions:
      "15.1v3": {}
`)
		c, err := Load(root)
		require.NoError(t, err)

		_, _, _, err = c.SoftwareFor("shot", "nuke")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "paths.yml")
	})
}

func TestDiscover(t *testing.T) {
	t.Run("explicit root must carry the marker", func(t *testing.T) {
		_, err := Discover(t.TempDir())
		require.Error(t, err)
	})

	t.Run("explicit root", func(t *testing.T) {
		root := newTestRoot(t)
		got, err := Discover(root)
		require.NoError(t, err)
		assert.Equal(t, root, got)
	})
}

func TestScaffold(t *testing.T) {
	dir := t.TempDir()

	written, err := Scaffold(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, written)

	// The scaffolded tree must load cleanly.
	c, err := Load(dir)
	require.NoError(t, err)
	assert.Contains(t, c.Software, "nuke")
	assert.Contains(t, c.Environments, "shot")

	// Idempotent: nothing is overwritten on a second run.
	written, err = Scaffold(dir)
	require.NoError(t, err)
	assert.Empty(t, written)
}
