package cmd

import (
	"github.com/spf13/cobra"

	"github.com/framehaus/stagehand/internal/folders"
	"github.com/framehaus/stagehand/internal/menu"
	"github.com/framehaus/stagehand/internal/pathcache"
	"github.com/framehaus/stagehand/internal/publish"
	"github.com/framehaus/stagehand/internal/templates"
	"github.com/framehaus/stagehand/internal/workarea"
)

func newMenuCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "menu",
		Short: "The in-application menu service",
	}
	cmd.AddCommand(newMenuServeCommand())
	return cmd
}

func newMenuServeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve menus and actions to running applications",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			schema, err := folders.LoadSchema(cfg.SchemaPath())
			if err != nil {
				return err
			}

			set, err := templates.Load(cfg.TemplatesPath(), cfg.Roots)
			if err != nil {
				return err
			}

			logger := newLogger()
			defer logger.Sync()

			resolver := workarea.NewResolver(cfg, cache, client, workarea.WithLogger(logger))
			creator := folders.New(cfg, schema, client, cache, folders.WithLogger(logger))
			publisher := publish.New(set, client, publish.WithLogger(logger))

			m := menu.NewServer(cfg, resolver, menu.WithLogger(logger))
			m.RegisterStandardActions(creator, publisher)

			return m.Start(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":9112", "Listen address")
	return cmd
}
