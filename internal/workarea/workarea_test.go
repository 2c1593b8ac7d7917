package workarea_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framehaus/stagehand/internal/config"
	"github.com/framehaus/stagehand/internal/pathcache"
	"github.com/framehaus/stagehand/internal/tracker"
	"github.com/framehaus/stagehand/internal/tracker/trackertest"
	"github.com/framehaus/stagehand/internal/workarea"
)

type fixture struct {
	ts       *trackertest.Server
	resolver *workarea.Resolver
	cache    *pathcache.Store
	project  *tracker.Entity
	shot     *tracker.Entity
	task     *tracker.Entity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ts := trackertest.New()
	t.Cleanup(ts.Close)

	project := ts.AddEntity("Project", "arizona", nil)
	seq := ts.AddEntity("Sequence", "mirage", map[string]any{"project": project.Ref()})
	shot := ts.AddEntity("Shot", "mi001", map[string]any{"project": project.Ref(), "sequence": seq.Ref()})
	step := ts.AddEntity("Step", "comp", nil)
	task := ts.AddEntity("Task", "comp anim", map[string]any{
		"project": project.Ref(), "entity": shot.Ref(), "step": step.Ref(),
	})

	cfg := &config.Config{
		Roots: map[string]config.Root{
			"primary": {Name: "primary", Paths: map[config.Platform]string{
				config.PlatformLinux: "/mnt/projects",
				config.PlatformMac:   "/mnt/projects",
			}},
		},
	}

	cache, err := pathcache.Open(filepath.Join(t.TempDir(), "paths.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	return &fixture{
		ts:       ts,
		resolver: workarea.NewResolver(cfg, cache, ts.Client()),
		cache:    cache,
		project:  project,
		shot:     shot,
		task:     task,
	}
}

func TestFromTask(t *testing.T) {
	f := newFixture(t)

	wa, err := f.resolver.FromTask(context.Background(), f.task.ID)
	require.NoError(t, err)

	assert.Equal(t, f.project.ID, wa.Project.ID)
	assert.Equal(t, f.shot.ID, wa.Entity.ID)
	assert.Equal(t, "mi001", wa.Names["Shot"])
	assert.Equal(t, "mirage", wa.Names["Sequence"])
	assert.Equal(t, "arizona", wa.Names["Project"])
	assert.Equal(t, "comp", wa.Names["Step"])
}

func TestFromPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.cache.Register(ctx, []pathcache.Entry{{
		EntityType: "Shot",
		EntityID:   f.shot.ID,
		Name:       "mi001",
		Path:       "primary:arizona/sequences/mirage/mi001",
		Primary:    true,
	}}))

	t.Run("exact path", func(t *testing.T) {
		wa, err := f.resolver.FromPath(ctx, "/mnt/projects/arizona/sequences/mirage/mi001")
		require.NoError(t, err)
		assert.Equal(t, f.shot.ID, wa.Entity.ID)
	})

	t.Run("walks up from a deeper path", func(t *testing.T) {
		wa, err := f.resolver.FromPath(ctx, "/mnt/projects/arizona/sequences/mirage/mi001/comp/work/images")
		require.NoError(t, err)
		assert.Equal(t, f.shot.ID, wa.Entity.ID)
		assert.Equal(t, "arizona", wa.Names["Project"])
	})

	t.Run("unregistered path", func(t *testing.T) {
		_, err := f.resolver.FromPath(ctx, "/mnt/projects/elsewhere/unknown")
		require.Error(t, err)
	})
}
