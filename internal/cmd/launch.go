package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/framehaus/stagehand/internal/launch"
	"github.com/framehaus/stagehand/internal/pathcache"
	"github.com/framehaus/stagehand/internal/workarea"
)

func newLaunchCommand() *cobra.Command {
	var (
		env     string
		taskID  int
		path    string
		menuURL string
		dryRun  bool
	)

	cmd := &cobra.Command{
		Use:   "launch <app> [-- extra args]",
		Short: "Launch an application inside a work area",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			client, err := trackerClient(cfg)
			if err != nil {
				return err
			}

			cache, err := pathcache.Open(cfg.CachePath())
			if err != nil {
				return err
			}
			defer cache.Close()

			logger := newLogger()
			defer logger.Sync()

			resolver := workarea.NewResolver(cfg, cache, client, workarea.WithLogger(logger))

			var area *workarea.WorkArea
			switch {
			case taskID != 0:
				if area, err = resolver.FromTask(ctx, taskID); err != nil {
					return err
				}
			case path != "":
				if area, err = resolver.FromPath(ctx, path); err != nil {
					return err
				}
			}

			launcher := launch.New(cfg,
				launch.WithLogger(logger),
				launch.WithTracker(client),
				launch.WithMenuURL(menuURL),
			)

			result, err := launcher.Launch(ctx, launch.Spec{
				App:    args[0],
				Env:    env,
				Area:   area,
				Extra:  args[1:],
				DryRun: dryRun,
			})
			if err != nil {
				return err
			}

			if dryRun {
				cmd.Printf("%s %s (dry run)\n", result.Software, result.Version)
				cmd.Printf("  %s\n", strings.Join(result.Command, " "))
				return nil
			}

			cmd.Printf("started %s %s (pid %d)\n", result.Software, result.Version, result.Pid)
			return nil
		},
	}

	cmd.Flags().StringVar(&env, "env", "project", "Environment to launch in (project, shot, asset)")
	cmd.Flags().IntVar(&taskID, "task", 0, "Task id to resolve the work area from")
	cmd.Flags().StringVar(&path, "path", "", "Path to resolve the work area from")
	cmd.Flags().StringVar(&menuURL, "menu-url", "", "Menu service URL handed to the application")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Resolve the command line without starting anything")
	return cmd
}
