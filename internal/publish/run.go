package publish

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/framehaus/stagehand/internal/config"
	"github.com/framehaus/stagehand/internal/templates"
	"github.com/framehaus/stagehand/internal/tracker"
)

// renderPublish is what a completed render task leaves behind for the
// review and clip tasks that depend on it.
type renderPublish struct {
	entity      *tracker.Entity
	publishPath string
	plan        *renderPlan
}

// Publish runs the batch. Outputs are processed renders first, then
// reviews, then clips; a failed render marks the item's dependent tasks
// failed instead of publishing them against missing files.
func (p *Publisher) Publish(ctx context.Context, batch Batch, progress Progress) []Result {
	var results []Result
	published := map[string]*renderPublish{}

	order, byOutput := sortedOutputs(batch)

	done := 0
	total := len(batch.Tasks)
	for _, outputName := range order {
		for _, task := range byOutput[outputName] {
			progress.report(float64(done)/float64(total)*100, "Publishing "+task.Item.Name)
			done++

			var errs []string
			switch outputName {
			case OutputRender:
				pub, taskErrs := p.publishRender(ctx, batch, task)
				if len(taskErrs) > 0 {
					errs = taskErrs
				} else {
					published[task.Item.Name] = pub
				}
			case OutputReview:
				errs = p.publishReview(ctx, batch, task, published[task.Item.Name])
			case OutputClip:
				errs = p.publishClip(batch, task, published[task.Item.Name])
			default:
				errs = append(errs, "Don't know how to publish this item!")
			}

			if len(errs) > 0 {
				p.logger.Warn("publish task failed",
					zap.String("item", task.Item.Name),
					zap.String("output", outputName),
					zap.Strings("errors", errs))
				results = append(results, Result{Task: task, Errors: errs})
			}
		}
	}

	progress.report(100, "Publish finished")
	return results
}

func (p *Publisher) publishRender(ctx context.Context, batch Batch, task Task) (*renderPublish, []string) {
	plan, errs := p.resolveRender(batch, task)
	if len(errs) > 0 {
		return nil, errs
	}

	if err := p.copyFrames(ctx, plan); err != nil {
		return nil, []string{fmt.Sprintf("Publish failed - %s", err)}
	}

	// The registered path carries the frame placeholder, not a concrete
	// frame.
	publishFields := templates.Fields{}
	for k, v := range plan.fields {
		publishFields[k] = v
	}
	if plan.seqKey != "" {
		publishFields[plan.seqKey] = templates.FrameSpec{}
	}
	publishPath, err := plan.publishTmpl.Apply(publishFields)
	if err != nil {
		return nil, []string{err.Error()}
	}

	version, _ := plan.fields["version"].(int)

	req := tracker.PublishRequest{
		Path:        publishPath,
		Name:        publishName(plan.fields),
		Version:     version,
		PublishType: task.Output.PublishType,
		Comment:     batch.Comment,
		Thumbnail:   batch.Thumbnail,
	}
	if batch.PrimaryPath != "" {
		req.Dependencies = []string{batch.PrimaryPath}
	}
	if batch.Area != nil {
		if batch.Area.Project != nil {
			req.Project = *batch.Area.Project
		}
		if batch.Area.Entity != nil {
			req.Entity = *batch.Area.Entity
		}
		if batch.Area.Task != nil {
			req.Task = *batch.Area.Task
		}
	}

	entity, err := p.client.RegisterPublish(ctx, req)
	if err != nil {
		return nil, []string{fmt.Sprintf("Publish failed - %s", err)}
	}

	p.logger.Info("render published",
		zap.String("item", task.Item.Name),
		zap.String("path", publishPath),
		zap.Int("frames", len(plan.files)))

	return &renderPublish{entity: entity, publishPath: publishPath, plan: plan}, nil
}

// copyFrames copies work renders into the publish area with a bounded
// worker pool. Tracker registration only happens once every frame
// landed.
func (p *Publisher) copyFrames(ctx context.Context, plan *renderPlan) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for _, fc := range plan.files {
		fc := fc
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(fc.dst), 0o755); err != nil {
				return fmt.Errorf("create %s: %w", filepath.Dir(fc.dst), err)
			}
			if err := copyFile(fc.src, fc.dst); err != nil {
				return fmt.Errorf("copy %s to %s: %w", fc.src, fc.dst, err)
			}
			return nil
		})
	}

	return g.Wait()
}

func (p *Publisher) publishReview(ctx context.Context, batch Batch, task Task, render *renderPublish) []string {
	if render == nil {
		return []string{fmt.Sprintf("The renders for '%s' were not published - cannot create a review version.", task.Item.Name)}
	}

	first, last := render.plan.frameRange()

	req := tracker.VersionRequest{
		Name:           publishName(render.plan.fields),
		Comment:        batch.Comment,
		FirstFrame:     first,
		LastFrame:      last,
		FramesPath:     render.publishPath,
		PublishedFiles: []tracker.Ref{render.entity.Ref()},
	}
	if batch.Area != nil {
		if batch.Area.Project != nil {
			req.Project = *batch.Area.Project
		}
		if batch.Area.Entity != nil {
			req.Entity = *batch.Area.Entity
		}
		if batch.Area.Task != nil {
			req.Task = *batch.Area.Task
		}
	}

	// A review movie may have been rendered next to the frames; attach
	// it when the review template resolves to a file that exists.
	if task.Output.PublishTemplate != "" {
		if tmpl, err := p.set.Template(task.Output.PublishTemplate); err == nil {
			if moviePath, err := tmpl.Apply(render.plan.fields); err == nil {
				if _, err := os.Stat(moviePath); err == nil {
					req.Media = moviePath
				}
			}
		}
	}

	version, err := p.client.CreateVersion(ctx, req)
	if err != nil {
		return []string{fmt.Sprintf("Submit for review failed - %s", err)}
	}

	p.logger.Info("review version created",
		zap.String("item", task.Item.Name),
		zap.String("version", version.Ref().String()),
		zap.Int("first_frame", first),
		zap.Int("last_frame", last))
	return nil
}

func (p *Publisher) publishClip(batch Batch, task Task, render *renderPublish) []string {
	if render == nil {
		return []string{fmt.Sprintf("The renders for '%s' were not published - cannot update the Flame clip.", task.Item.Name)}
	}

	clipPath, err := p.clipPath(batch, task)
	if err != nil {
		return []string{err.Error()}
	}

	flamePath, err := p.flameSpanPath(render.plan)
	if err != nil {
		return []string{fmt.Sprintf("Could not update Flame clip xml: %s", err)}
	}

	feed := Feed{
		Path: flamePath,
		Name: clipDisplayName(batch.Area, render.plan.fields),
	}
	if err := UpdateClip(clipPath, feed); err != nil {
		return []string{fmt.Sprintf("Could not update Flame clip xml: %s", err)}
	}

	p.logger.Info("flame clip updated",
		zap.String("clip", clipPath),
		zap.String("span", flamePath))
	return nil
}

// flameSpanPath renders the publish path Flame-style: the frame token
// is the actual rendered range ("[0100-0150]"), and the path is always
// in linux form because the Flame hub platform is linux.
func (p *Publisher) flameSpanPath(plan *renderPlan) (string, error) {
	if plan.seqKey == "" {
		return "", fmt.Errorf("publish template %q has no frame-sequence key", plan.publishTmpl.Name)
	}
	key, ok := plan.publishTmpl.Key(plan.seqKey)
	if !ok {
		return "", fmt.Errorf("publish template %q has no key %q", plan.publishTmpl.Name, plan.seqKey)
	}
	seq, ok := key.(templates.SequenceKey)
	if !ok {
		return "", fmt.Errorf("key %q is not a frame-sequence key", plan.seqKey)
	}

	first, last := plan.frameRange()
	marker := fmt.Sprintf("[%s-%s]", seq.Placeholder(), seq.Placeholder())

	fields := templates.Fields{}
	for k, v := range plan.fields {
		fields[k] = v
	}
	fields[plan.seqKey] = fmt.Sprintf(marker, first, last)

	return plan.publishTmpl.ApplyFor(fields, config.PlatformLinux)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
