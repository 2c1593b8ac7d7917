package events

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framehaus/stagehand/internal/config"
	"github.com/framehaus/stagehand/internal/folders"
	"github.com/framehaus/stagehand/internal/pathcache"
	"github.com/framehaus/stagehand/internal/tracker"
	"github.com/framehaus/stagehand/internal/tracker/trackertest"
)

const foldersSchemaYML = `
root:
  type: entity
  entity: Project
  children:
    - name: sequences
      type: static
      children:
        - type: entity
          entity: Sequence
          filters:
            - [project, is, "@parent"]
          children:
            - type: entity
              entity: Shot
              filters:
                - [sequence, is, "@parent"]
`

type foldersFixture struct {
	ts      *trackertest.Server
	target  *FoldersTarget
	root    string
	project *tracker.Entity
	seq     *tracker.Entity
}

func newFoldersFixture(t *testing.T) *foldersFixture {
	t.Helper()

	ts := trackertest.New()
	t.Cleanup(ts.Close)

	project := ts.AddEntity("Project", "arizona", nil)
	seq := ts.AddEntity("Sequence", "mirage", map[string]any{"project": project.Ref()})

	root := t.TempDir()
	cfg := &config.Config{
		Roots: map[string]config.Root{
			"primary": {Name: "primary", Paths: map[config.Platform]string{
				config.CurrentPlatform(): root,
			}},
		},
	}

	schemaPath := filepath.Join(t.TempDir(), "schema.yml")
	require.NoError(t, os.WriteFile(schemaPath, []byte(foldersSchemaYML), 0o644))
	schema, err := folders.LoadSchema(schemaPath)
	require.NoError(t, err)

	cache, err := pathcache.Open(filepath.Join(t.TempDir(), "paths.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	creator := folders.New(cfg, schema, ts.Client(), cache)

	return &foldersFixture{
		ts:      ts,
		target:  NewFoldersTarget(creator),
		root:    root,
		project: project,
		seq:     seq,
	}
}

func newShotEvent(shot *tracker.Entity, project *tracker.Entity) Event {
	return Event{Event: tracker.Event{
		ID:        99,
		Type:      "NewShot",
		EntityRef: shot.Ref(),
		Project:   project.Ref(),
		CreatedAt: time.Now().UTC(),
	}}
}

func TestFoldersTargetCreatesOnNewShot(t *testing.T) {
	ctx := context.Background()
	f := newFoldersFixture(t)

	shot := f.ts.AddEntity("Shot", "mi001", map[string]any{
		"project": f.project.Ref(), "sequence": f.seq.Ref(),
	})

	require.NoError(t, f.target.Connect(ctx))
	require.NoError(t, f.target.Write(ctx, newShotEvent(shot, f.project)))

	assert.DirExists(t, filepath.Join(f.root, "arizona", "sequences", "mirage", "mi001"))

	stats := f.target.Stats()
	assert.Equal(t, int64(1), stats.TotalEvents)
	assert.EqualValues(t, 4, stats.TargetSpecific["directories_created"])
}

func TestFoldersTargetSkipsOtherEvents(t *testing.T) {
	ctx := context.Background()
	f := newFoldersFixture(t)

	require.NoError(t, f.target.Connect(ctx))

	for _, eventType := range []string{"UpdateShot", "NewPublishedFile", "AppLaunch"} {
		require.NoError(t, f.target.Write(ctx, Event{Event: tracker.Event{
			ID:   1,
			Type: eventType,
		}}))
	}

	_, err := os.Stat(filepath.Join(f.root, "arizona"))
	assert.True(t, os.IsNotExist(err), "skipped events never touch disk")

	stats := f.target.Stats()
	assert.Zero(t, stats.TotalEvents)
	assert.EqualValues(t, 3, stats.TargetSpecific["events_skipped"])
}

func TestFoldersTargetWriteFailure(t *testing.T) {
	ctx := context.Background()
	f := newFoldersFixture(t)

	require.NoError(t, f.target.Connect(ctx))

	missing := Event{Event: tracker.Event{
		ID:        1,
		Type:      "NewShot",
		EntityRef: tracker.Ref{Type: "Shot", ID: 9999},
	}}
	require.Error(t, f.target.Write(ctx, missing))

	stats := f.target.Stats()
	assert.Equal(t, int64(1), stats.FailedEvents)
	assert.NotEmpty(t, stats.LastError)
}
