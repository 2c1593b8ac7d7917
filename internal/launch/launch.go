// Package launch starts configured applications inside a resolved work
// area: executable from paths.yml, pipeline environment variables in
// the child process, pre-launch hooks, and a launch breadcrumb in the
// tracker event log.
package launch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/framehaus/stagehand/internal/config"
	"github.com/framehaus/stagehand/internal/tracker"
	"github.com/framehaus/stagehand/internal/workarea"
)

const (
	EnvConfigRoot = "STAGEHAND_CONFIG_ROOT"
	EnvMenuURL    = "STAGEHAND_MENU_URL"
	EnvContext    = "STAGEHAND_CONTEXT"

	hookTimeout = 30 * time.Second
)

// Spec names what to launch and where.
type Spec struct {
	App  string
	Env  string
	Area *workarea.WorkArea

	// Extra is appended to the configured argv.
	Extra []string

	// DryRun resolves the command line without starting anything.
	DryRun bool
}

// Result reports what was (or would be) started.
type Result struct {
	Software string   `json:"software"`
	Version  string   `json:"version"`
	Command  []string `json:"command"`
	Pid      int      `json:"pid,omitempty"`
}

type Launcher struct {
	cfg     *config.Config
	client  *tracker.Client
	menuURL string
	logger  *zap.Logger
}

type Option func(*Launcher)

func WithLogger(logger *zap.Logger) Option {
	return func(l *Launcher) {
		l.logger = logger.Named("stagehand.launch")
	}
}

// WithMenuURL sets the in-application menu service address handed to
// launched processes.
func WithMenuURL(url string) Option {
	return func(l *Launcher) {
		l.menuURL = url
	}
}

// WithTracker enables launch breadcrumbs in the tracker event log.
func WithTracker(client *tracker.Client) Option {
	return func(l *Launcher) {
		l.client = client
	}
}

func New(cfg *config.Config, opts ...Option) *Launcher {
	l := &Launcher{
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Launch resolves the application, runs the environment's before_launch
// hooks, and starts the process detached from the current one. The
// returned result carries the resolved command line either way; with
// DryRun set nothing runs, hooks included.
func (l *Launcher) Launch(ctx context.Context, spec Spec) (*Result, error) {
	sw, version, execPath, err := l.cfg.SoftwareFor(spec.Env, spec.App)
	if err != nil {
		return nil, err
	}

	env, err := l.cfg.Environment(spec.Env)
	if err != nil {
		return nil, err
	}

	argv := append([]string{execPath}, sw.Args...)
	argv = append(argv, spec.Extra...)

	result := &Result{
		Software: sw.Name,
		Version:  version,
		Command:  argv,
	}
	if spec.DryRun {
		return result, nil
	}

	if _, err := os.Stat(execPath); err != nil {
		return nil, fmt.Errorf(
			"executable %q for %q is not present on this machine: check %s",
			execPath, sw.Name, l.cfg.PathsFile())
	}

	childEnv := l.childEnv(spec, sw)

	if err := l.runHooks(ctx, env.Hooks.BeforeLaunch, childEnv); err != nil {
		return nil, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = childEnv
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", sw.Name, err)
	}
	result.Pid = cmd.Process.Pid

	// The application outlives us.
	if err := cmd.Process.Release(); err != nil {
		l.logger.Warn("release process", zap.Error(err))
	}

	l.logger.Info("launched",
		zap.String("software", sw.Name),
		zap.String("version", version),
		zap.Int("pid", result.Pid))

	l.breadcrumb(ctx, spec, result)
	return result, nil
}

// childEnv is the parent environment plus the pipeline variables and
// the software's own env block.
func (l *Launcher) childEnv(spec Spec, sw config.Software) []string {
	env := os.Environ()
	env = append(env, EnvConfigRoot+"="+l.cfg.Root)
	if l.menuURL != "" {
		env = append(env, EnvMenuURL+"="+l.menuURL)
	}
	if spec.Area != nil {
		if encoded, err := workarea.Encode(spec.Area); err == nil {
			env = append(env, EnvContext+"="+encoded)
		} else {
			l.logger.Warn("encode work area", zap.Error(err))
		}
	}
	for k, v := range sw.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// runHooks executes each before_launch argv in order; a failing hook
// aborts the launch.
func (l *Launcher) runHooks(ctx context.Context, hooks [][]string, childEnv []string) error {
	for _, argv := range hooks {
		if len(argv) == 0 {
			continue
		}

		hookCtx, cancel := context.WithTimeout(ctx, hookTimeout)
		cmd := exec.CommandContext(hookCtx, argv[0], argv[1:]...)
		cmd.Env = childEnv
		out, err := cmd.CombinedOutput()
		cancel()

		if err != nil {
			return fmt.Errorf("before_launch hook %v: %w (output: %s)", argv, err, out)
		}
		l.logger.Debug("hook ran", zap.Strings("argv", argv))
	}
	return nil
}

// breadcrumb is best effort: a tracker outage never blocks a launch.
func (l *Launcher) breadcrumb(ctx context.Context, spec Spec, result *Result) {
	if l.client == nil || spec.Area == nil {
		return
	}

	ev := tracker.Event{
		Type: "AppLaunch",
		Meta: map[string]any{
			"software": result.Software,
			"version":  result.Version,
			"pid":      result.Pid,
		},
	}
	if spec.Area.Entity != nil {
		ev.EntityRef = *spec.Area.Entity
	}
	if spec.Area.Project != nil {
		ev.Project = *spec.Area.Project
	}

	if err := l.client.LogEvent(ctx, ev); err != nil {
		l.logger.Warn("launch breadcrumb failed", zap.Error(err))
	}
}
