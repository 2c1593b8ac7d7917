package publish_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framehaus/stagehand/internal/config"
	"github.com/framehaus/stagehand/internal/publish"
	"github.com/framehaus/stagehand/internal/templates"
	"github.com/framehaus/stagehand/internal/tracker/trackertest"
	"github.com/framehaus/stagehand/internal/workarea"
)

const templatesYML = `
keys:
  Project: {type: str}
  Sequence: {type: str}
  Shot: {type: str}
  Step: {type: str}
  name: {type: str}
  channel: {type: str}
  version: {type: int, format_spec: "03"}
  SEQ: {type: sequence, format_spec: "04"}

paths:
  shot_root:
    root: primary
    pattern: "{Project}/sequences/{Sequence}/{Shot}"

  nuke_shot_render:
    pattern: "@shot_root/{Step}/work/images/{Shot}_{name}[_{channel}]_v{version}.{SEQ}.exr"

  nuke_shot_render_pub:
    pattern: "@shot_root/{Step}/publish/images/{Shot}_{name}[_{channel}]_v{version}.{SEQ}.exr"

  nuke_shot_render_movie:
    pattern: "@shot_root/{Step}/review/{Shot}_{name}_v{version}.mov"

  shot_clip:
    pattern: "@shot_root/editorial/flame/{Shot}.clip"
`

const clipXML = `<?xml version="1.0" encoding="UTF-8"?>
<clip type="clip" version="4">
    <name type="string">mi001</name>
    <tracks type="tracks">
        <track type="track" uid="video">
            <trackType>video</trackType>
            <feeds currentVersion="v001">
                <feed type="feed" vuid="v001" uid="5E21801C-41C2-4B47-90B6-C1E25235F032">
                    <spans type="spans" version="4">
                        <span type="span" version="4">
                            <path encoding="pattern">/mnt/projects/arizona/sequences/mirage/mi001/editorial/dpx_plates/mi001.v001.[0100-0269].dpx</path>
                        </span>
                    </spans>
                </feed>
            </feeds>
        </track>
    </tracks>
    <versions type="versions" currentVersion="v001">
        <version type="version" uid="v001">
            <name>v001</name>
            <creationDate>2026-01-05 10:00:00</creationDate>
        </version>
    </versions>
</clip>
`

type fixture struct {
	base      string
	set       *templates.Set
	ts        *trackertest.Server
	publisher *publish.Publisher
	area      *workarea.WorkArea

	renderPath string
	clipPath   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	base := t.TempDir()
	roots := map[string]config.Root{
		"primary": {Name: "primary", Paths: map[config.Platform]string{
			config.PlatformLinux: base,
			config.PlatformMac:   base,
		}},
	}

	tmplFile := filepath.Join(t.TempDir(), "templates.yml")
	require.NoError(t, os.WriteFile(tmplFile, []byte(templatesYML), 0o644))
	set, err := templates.Load(tmplFile, roots)
	require.NoError(t, err)

	ts := trackertest.New()
	t.Cleanup(ts.Close)

	project := ts.AddEntity("Project", "arizona", nil)
	shot := ts.AddEntity("Shot", "mi001", map[string]any{"project": project.Ref()})
	task := ts.AddEntity("Task", "comp", map[string]any{"project": project.Ref(), "entity": shot.Ref()})

	projectRef := project.Ref()
	shotRef := shot.Ref()
	taskRef := task.Ref()
	area := &workarea.WorkArea{
		Project: &projectRef,
		Entity:  &shotRef,
		Task:    &taskRef,
		Names: map[string]string{
			"Project":  "arizona",
			"Sequence": "mirage",
			"Shot":     "mi001",
			"Step":     "comp",
		},
	}

	f := &fixture{
		base:      base,
		set:       set,
		ts:        ts,
		publisher: publish.New(set, ts.Client()),
		area:      area,
	}

	// Rendered frames 100..102 in the work area.
	renderTmpl, err := set.Template("nuke_shot_render")
	require.NoError(t, err)
	for frame := 100; frame <= 102; frame++ {
		p, err := renderTmpl.Apply(f.renderFields(frame))
		require.NoError(t, err)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(fmt.Sprintf("frame %d", frame)), 0o644))
	}
	f.renderPath, err = renderTmpl.Apply(f.renderFields(templates.FrameSpec{}))
	require.NoError(t, err)

	f.clipPath = filepath.Join(base, "arizona", "sequences", "mirage", "mi001", "editorial", "flame", "mi001.clip")
	require.NoError(t, os.MkdirAll(filepath.Dir(f.clipPath), 0o755))
	require.NoError(t, os.WriteFile(f.clipPath, []byte(clipXML), 0o644))

	return f
}

func (f *fixture) renderFields(seq any) templates.Fields {
	return templates.Fields{
		"Project":  "arizona",
		"Sequence": "mirage",
		"Shot":     "mi001",
		"Step":     "comp",
		"name":     "scene",
		"version":  3,
		"SEQ":      seq,
	}
}

func (f *fixture) renderTask() publish.Task {
	return publish.Task{
		Item: publish.Item{
			Name: "scene",
			Type: "rendered_image",
			Params: map[string]any{
				"render_template": "nuke_shot_render",
				"render_path":     f.renderPath,
			},
		},
		Output: publish.Output{
			Name:            publish.OutputRender,
			PublishTemplate: "nuke_shot_render_pub",
			PublishType:     "Rendered Image",
		},
	}
}

func (f *fixture) batch(tasks ...publish.Task) publish.Batch {
	return publish.Batch{
		ID:          uuid.New(),
		Area:        f.area,
		Comment:     "publish from test",
		PrimaryPath: filepath.Join(f.base, "arizona/sequences/mirage/mi001/comp/work/scene_v003.nk"),
		Tasks:       tasks,
	}
}

func reviewTask(itemName string) publish.Task {
	return publish.Task{
		Item: publish.Item{Name: itemName, Type: "rendered_image"},
		Output: publish.Output{
			Name:            publish.OutputReview,
			PublishTemplate: "nuke_shot_render_movie",
		},
	}
}

func clipTask(itemName string) publish.Task {
	return publish.Task{
		Item: publish.Item{Name: itemName, Type: "rendered_image"},
		Output: publish.Output{
			Name:            publish.OutputClip,
			PublishTemplate: "shot_clip",
		},
	}
}

func TestValidate(t *testing.T) {
	ctx := context.Background()

	t.Run("clean batch has no problems", func(t *testing.T) {
		f := newFixture(t)
		results := f.publisher.Validate(ctx, f.batch(f.renderTask(), reviewTask("scene"), clipTask("scene")), nil)
		assert.Empty(t, results)
	})

	t.Run("existing publish targets are reported once", func(t *testing.T) {
		f := newFixture(t)

		pubTmpl, err := f.set.Template("nuke_shot_render_pub")
		require.NoError(t, err)
		for frame := 100; frame <= 101; frame++ {
			p, err := pubTmpl.Apply(f.renderFields(frame))
			require.NoError(t, err)
			require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
			require.NoError(t, os.WriteFile(p, []byte("old"), 0o644))
		}

		results := f.publisher.Validate(ctx, f.batch(f.renderTask()), nil)
		require.Len(t, results, 1)
		require.Len(t, results[0].Errors, 1)
		assert.Contains(t, results[0].Errors[0], "(+1 others) already exists!")
	})

	t.Run("no rendered files", func(t *testing.T) {
		f := newFixture(t)

		task := f.renderTask()
		task.Item.Params["render_path"] = filepath.Join(f.base,
			"arizona/sequences/mirage/mi001/comp/work/images/mi001_other_v009.%04d.exr")

		results := f.publisher.Validate(ctx, f.batch(task), nil)
		require.Len(t, results, 1)
		assert.Contains(t, results[0].Errors[0], "No rendered files exist")
	})

	t.Run("render path locked to another work area", func(t *testing.T) {
		f := newFixture(t)
		f.area.Names["Shot"] = "mi002"

		results := f.publisher.Validate(ctx, f.batch(f.renderTask()), nil)
		require.Len(t, results, 1)
		assert.Contains(t, results[0].Errors[0], "does not match the current Work Area")
	})

	t.Run("review requires a render task", func(t *testing.T) {
		f := newFixture(t)
		results := f.publisher.Validate(ctx, f.batch(reviewTask("scene")), nil)
		require.Len(t, results, 1)
		assert.Contains(t, results[0].Errors[0], "without also publishing the renders")
	})

	t.Run("clip file must already exist", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, os.Remove(f.clipPath))

		results := f.publisher.Validate(ctx, f.batch(f.renderTask(), clipTask("scene")), nil)
		require.Len(t, results, 1)
		assert.Contains(t, results[0].Errors[0], "Cannot find a Flame clip file")
	})

	t.Run("unknown output", func(t *testing.T) {
		f := newFixture(t)
		task := f.renderTask()
		task.Output.Name = "hologram"

		results := f.publisher.Validate(ctx, f.batch(task), nil)
		require.Len(t, results, 1)
		assert.Contains(t, results[0].Errors[0], "Don't know how to publish")
	})

	t.Run("validation does not touch disk", func(t *testing.T) {
		f := newFixture(t)
		f.publisher.Validate(ctx, f.batch(f.renderTask()), nil)

		pubDir := filepath.Join(f.base, "arizona", "sequences", "mirage", "mi001", "comp", "publish")
		_, err := os.Stat(pubDir)
		assert.True(t, os.IsNotExist(err))
	})
}

func TestPublish(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// A review movie rendered next to the frames.
	moviePath := filepath.Join(f.base, "arizona", "sequences", "mirage", "mi001", "comp", "review", "mi001_scene_v003.mov")
	require.NoError(t, os.MkdirAll(filepath.Dir(moviePath), 0o755))
	require.NoError(t, os.WriteFile(moviePath, []byte("mov"), 0o644))

	var progressMsgs []string
	progress := func(pct float64, msg string) { progressMsgs = append(progressMsgs, msg) }

	results := f.publisher.Publish(ctx, f.batch(clipTask("scene"), reviewTask("scene"), f.renderTask()), progress)
	require.Empty(t, results)
	assert.NotEmpty(t, progressMsgs)

	t.Run("frames copied to the publish area", func(t *testing.T) {
		pubTmpl, err := f.set.Template("nuke_shot_render_pub")
		require.NoError(t, err)
		for frame := 100; frame <= 102; frame++ {
			p, err := pubTmpl.Apply(f.renderFields(frame))
			require.NoError(t, err)
			assert.FileExists(t, p)
		}
	})

	t.Run("publish registered with derived name and version", func(t *testing.T) {
		publishes := f.ts.Entities("PublishedFile")
		require.Len(t, publishes, 1)
		assert.Equal(t, "scene", publishes[0].Name)
		assert.Contains(t, publishes[0].StringField("path"), "v003.%04d.exr")
	})

	t.Run("review version spans the rendered frames", func(t *testing.T) {
		versions := f.ts.Entities("Version")
		require.Len(t, versions, 1)
		assert.Equal(t, "100-102", versions[0].StringField("frame_range"))
		require.NotEmpty(t, f.ts.Uploads)
		assert.Contains(t, f.ts.Uploads[len(f.ts.Uploads)-1], "media")
	})

	t.Run("flame clip gained a feed and a version", func(t *testing.T) {
		bs, err := os.ReadFile(f.clipPath)
		require.NoError(t, err)
		content := string(bs)

		assert.Contains(t, content, "[0100-0102]")
		assert.Contains(t, content, "Comp, scene.nk, v003")
		assert.Contains(t, content, "mi001/comp/publish/images")

		backups, err := filepath.Glob(f.clipPath + ".bak_*")
		require.NoError(t, err)
		require.Len(t, backups, 1)
		old, err := os.ReadFile(backups[0])
		require.NoError(t, err)
		assert.Equal(t, clipXML, string(old))
	})
}

func TestPublishRenderFailureMarksDependents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	task := f.renderTask()
	task.Item.Params["render_path"] = filepath.Join(f.base,
		"arizona/sequences/mirage/mi001/comp/work/images/mi001_other_v009.%04d.exr")

	results := f.publisher.Publish(ctx, f.batch(task, reviewTask("scene"), clipTask("scene")), nil)
	require.Len(t, results, 3)

	byOutput := map[string]publish.Result{}
	for _, r := range results {
		byOutput[r.Task.Output.Name] = r
	}
	assert.Contains(t, byOutput[publish.OutputRender].Errors[0], "No rendered files")
	assert.Contains(t, byOutput[publish.OutputReview].Errors[0], "were not published")
	assert.Contains(t, byOutput[publish.OutputClip].Errors[0], "were not published")

	assert.Empty(t, f.ts.Entities("Version"), "no review side effects after a failed render")
}
