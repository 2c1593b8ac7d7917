// Package publish takes scanned work products (rendered frame
// sequences and their derivatives) through pre-publish validation and
// publish: frames are copied to the publish area, registered with the
// tracking service, turned into review versions and fed back into Flame
// open-clip files.
package publish

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/framehaus/stagehand/internal/templates"
	"github.com/framehaus/stagehand/internal/tracker"
	"github.com/framehaus/stagehand/internal/workarea"
)

// Output names with engine-defined behavior. Anything else in a batch
// fails validation.
const (
	OutputRender = "render"
	OutputReview = "review"
	OutputClip   = "clip"
)

// Item is one scanned work product, e.g. a render layer. Params carries
// scanner-specific detail; render items set "render_template" and
// "render_path".
type Item struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Type        string         `json:"type"`
	Params      map[string]any `json:"params,omitempty"`
}

func (i Item) param(key string) string {
	s, _ := i.Params[key].(string)
	return s
}

// Output is a configured publish destination for an item.
type Output struct {
	Name            string `json:"name"`
	PublishTemplate string `json:"publish_template"`
	PublishType     string `json:"publish_type"`
}

type Task struct {
	Item   Item   `json:"item"`
	Output Output `json:"output"`
}

// Result reports the problems of one task; tasks without problems
// produce no result.
type Result struct {
	Task   Task     `json:"task"`
	Errors []string `json:"errors"`
}

// Progress reports publish progress to a UI. Nil is a valid value.
type Progress func(pct float64, msg string)

func (p Progress) report(pct float64, msg string) {
	if p != nil {
		p(pct, msg)
	}
}

// Batch is one publish run.
type Batch struct {
	ID           uuid.UUID          `json:"id"`
	Area         *workarea.WorkArea `json:"area"`
	Comment      string             `json:"comment,omitempty"`
	Thumbnail    string             `json:"thumbnail,omitempty"`
	WorkTemplate string             `json:"work_template,omitempty"`

	// PrimaryPath is the already-published work file the batch derives
	// from; it becomes the dependency of every render publish.
	PrimaryPath string `json:"primary_path,omitempty"`

	Tasks []Task `json:"tasks"`
}

type Publisher struct {
	set     *templates.Set
	client  *tracker.Client
	logger  *zap.Logger
	workers int
}

type Option func(*Publisher)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger.Named("stagehand.publish")
	}
}

// WithCopyWorkers bounds concurrent frame copies.
func WithCopyWorkers(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.workers = n
		}
	}
}

func New(set *templates.Set, client *tracker.Client, opts ...Option) *Publisher {
	p := &Publisher{
		set:     set,
		client:  client,
		logger:  zap.NewNop(),
		workers: 4,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Validate runs every pre-publish check without touching disk or the
// tracker. Anything Publish would reject is reported here.
func (p *Publisher) Validate(ctx context.Context, batch Batch, progress Progress) []Result {
	var results []Result

	for i, task := range batch.Tasks {
		progress.report(float64(i)/float64(len(batch.Tasks))*100, "Validating "+task.Item.Name)

		var errs []string
		switch task.Output.Name {
		case OutputRender:
			if _, planErrs := p.resolveRender(batch, task); len(planErrs) > 0 {
				errs = planErrs
			}
		case OutputReview:
			if findRenderTask(batch, task.Item.Name) == nil {
				errs = append(errs, fmt.Sprintf(
					"Cannot publish a review without also publishing the renders for '%s'!", task.Item.Name))
			}
		case OutputClip:
			if findRenderTask(batch, task.Item.Name) == nil {
				errs = append(errs, fmt.Sprintf(
					"You need to publish the renders for '%s' in order to update the Flame clip!", task.Item.Name))
			}
			if _, err := p.clipPath(batch, task); err != nil {
				errs = append(errs, err.Error())
			}
		default:
			errs = append(errs, "Don't know how to publish this item!")
		}

		if len(errs) > 0 {
			results = append(results, Result{Task: task, Errors: errs})
		}
	}

	progress.report(100, "Validation finished")
	return results
}

// renderPlan is everything needed to publish one render task, resolved
// up front so Validate and Publish agree on every check.
type renderPlan struct {
	renderTmpl  *templates.Template
	publishTmpl *templates.Template
	fields      templates.Fields
	seqKey      string

	// files maps each rendered frame to its publish target.
	files  []frameCopy
	frames []int
}

type frameCopy struct {
	src, dst string
	frame    int
}

func (pl *renderPlan) frameRange() (int, int) {
	first, last := pl.frames[0], pl.frames[0]
	for _, f := range pl.frames[1:] {
		if f < first {
			first = f
		}
		if f > last {
			last = f
		}
	}
	return first, last
}

func (p *Publisher) resolveRender(batch Batch, task Task) (*renderPlan, []string) {
	renderPath := task.Item.param("render_path")
	if renderPath == "" {
		return nil, []string{fmt.Sprintf("Could not determine the render path for item '%s'!", task.Item.Name)}
	}

	tmplName := task.Item.param("render_template")
	if tmplName == "" {
		return nil, []string{fmt.Sprintf("Could not determine the render template for item '%s'!", task.Item.Name)}
	}
	renderTmpl, err := p.set.Template(tmplName)
	if err != nil {
		return nil, []string{err.Error()}
	}
	publishTmpl, err := p.set.Template(task.Output.PublishTemplate)
	if err != nil {
		return nil, []string{err.Error()}
	}

	fields, err := renderTmpl.Fields(renderPath)
	if err != nil {
		return nil, []string{fmt.Sprintf("Could not parse render path '%s': %s", renderPath, err)}
	}

	var errs []string
	if msg := lockCheck(batch.Area, renderTmpl, fields); msg != "" {
		errs = append(errs, msg)
	}

	seqKey, skip := frameKeys(renderTmpl)

	onDisk, err := templates.PathsOnDisk(renderTmpl, fields, skip)
	if err != nil {
		return nil, append(errs, err.Error())
	}
	if len(onDisk) == 0 {
		return nil, append(errs, "No rendered files exist to be published!")
	}

	plan := &renderPlan{
		renderTmpl:  renderTmpl,
		publishTmpl: publishTmpl,
		fields:      fields,
		seqKey:      seqKey,
	}

	var existing []string
	for _, src := range onDisk {
		frameFields, err := renderTmpl.Fields(src)
		if err != nil {
			return nil, append(errs, fmt.Sprintf("Could not parse rendered file '%s': %s", src, err))
		}
		dst, err := publishTmpl.Apply(frameFields)
		if err != nil {
			return nil, append(errs, err.Error())
		}

		frame := 0
		if seqKey != "" {
			frame, _ = frameFields[seqKey].(int)
		}
		plan.files = append(plan.files, frameCopy{src: src, dst: dst, frame: frame})
		plan.frames = append(plan.frames, frame)

		if _, err := os.Stat(dst); err == nil {
			existing = append(existing, dst)
		}
	}

	if len(existing) > 0 {
		msg := fmt.Sprintf("Published render file '%s'", existing[0])
		if len(existing) > 1 {
			msg += fmt.Sprintf(" (+%d others)", len(existing)-1)
		}
		errs = append(errs, msg+" already exists!")
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return plan, nil
}

// lockCheck verifies the render path still belongs to the work area it
// is being published from.
func lockCheck(area *workarea.WorkArea, tmpl *templates.Template, fields templates.Fields) string {
	if area == nil {
		return ""
	}
	for key, want := range area.TemplateFields(tmpl) {
		got, ok := fields[key]
		if ok && fmt.Sprint(got) != fmt.Sprint(want) {
			return "The render path is currently locked and does not match the current Work Area."
		}
	}
	return ""
}

// frameKeys returns the template's frame-sequence key plus the key
// names to skip when globbing for rendered files on disk.
func frameKeys(tmpl *templates.Template) (string, []string) {
	seqKey := ""
	var skip []string
	for _, name := range tmpl.KeyNames() {
		k, ok := tmpl.Key(name)
		if !ok {
			continue
		}
		if _, isSeq := k.(templates.SequenceKey); isSeq {
			if seqKey == "" {
				seqKey = name
			}
			skip = append(skip, name)
		}
		if name == "eye" {
			skip = append(skip, name)
		}
	}
	return seqKey, skip
}

func findRenderTask(batch Batch, itemName string) *Task {
	for i, task := range batch.Tasks {
		if task.Output.Name == OutputRender && task.Item.Name == itemName {
			return &batch.Tasks[i]
		}
	}
	return nil
}

// clipPath resolves the Flame open-clip file for the batch's work area
// and verifies it exists. Clips are created by the Flame shot export;
// the publish engine only ever updates them.
func (p *Publisher) clipPath(batch Batch, task Task) (string, error) {
	tmpl, err := p.set.Template(task.Output.PublishTemplate)
	if err != nil {
		return "", err
	}
	if batch.Area == nil {
		return "", fmt.Errorf("cannot resolve the Flame clip path without a work area")
	}

	path, err := tmpl.Apply(batch.Area.TemplateFields(tmpl))
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf(
			"Cannot find a Flame clip file for this Shot (expected it in '%s'). "+
				"This is most likely because this shot wasn't created using the Flame Shot Export.", path)
	}
	return path, nil
}

// publishName derives the display name of a render publish from its
// path fields.
func publishName(fields templates.Fields) string {
	name, _ := fields["name"].(string)
	channel, _ := fields["channel"].(string)

	switch {
	case name == "" && channel == "":
		return "Publish"
	case name == "":
		return "Channel " + channel
	case channel == "":
		return name
	default:
		return fmt.Sprintf("%s, Channel %s", name, channel)
	}
}

// clipDisplayName builds the name shown in Flame's version dropdown,
// e.g. "Comp, scene.nk (output background), v023".
func clipDisplayName(area *workarea.WorkArea, fields templates.Fields) string {
	var b strings.Builder

	if area != nil {
		if task := area.Names["Task"]; task != "" {
			b.WriteString(capitalize(task) + ", ")
		} else if step := area.Names["Step"]; step != "" {
			b.WriteString(capitalize(step) + ", ")
		}
	}

	name, _ := fields["name"].(string)
	channel, _ := fields["channel"].(string)
	switch {
	case name != "" && channel != "":
		fmt.Fprintf(&b, "%s.nk (output %s), ", name, channel)
	case name == "" && channel != "":
		fmt.Fprintf(&b, "Nuke output %s, ", channel)
	case name != "":
		fmt.Fprintf(&b, "%s.nk, ", name)
	default:
		b.WriteString("Nuke, ")
	}

	version, _ := fields["version"].(int)
	fmt.Fprintf(&b, "v%03d", version)
	return b.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// sortedOutputs groups batch tasks by output and fixes the processing
// order: renders first, then reviews, then clips, then anything else in
// encounter order. Configuration cannot reorder this; reviews and clips
// depend on render publishes existing.
func sortedOutputs(batch Batch) ([]string, map[string][]Task) {
	order := []string{OutputRender, OutputReview, OutputClip}
	byOutput := map[string][]Task{}
	for _, task := range batch.Tasks {
		name := task.Output.Name
		if _, known := byOutput[name]; !known && !contains(order, name) {
			order = append(order, name)
		}
		byOutput[name] = append(byOutput[name], task)
	}
	return order, byOutput
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
