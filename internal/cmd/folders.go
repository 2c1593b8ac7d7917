package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/framehaus/stagehand/internal/folders"
	"github.com/framehaus/stagehand/internal/pathcache"
	"github.com/framehaus/stagehand/internal/tracker"
)

func newFoldersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folders",
		Short: "Create production folders from the schema",
	}
	cmd.AddCommand(newFoldersPreviewCommand())
	cmd.AddCommand(newFoldersCreateCommand())
	return cmd
}

func parseRefs(raw []string) ([]tracker.Ref, error) {
	refs := make([]tracker.Ref, 0, len(raw))
	for _, r := range raw {
		entityType, idStr, ok := strings.Cut(r, ":")
		if !ok {
			return nil, fmt.Errorf("bad entity %q, want Type:ID (e.g. Shot:123)", r)
		}
		id, err := strconv.Atoi(idStr)
		if err != nil {
			return nil, fmt.Errorf("bad entity %q, want Type:ID (e.g. Shot:123)", r)
		}
		refs = append(refs, tracker.Ref{Type: entityType, ID: id})
	}
	return refs, nil
}

func buildCreator() (*folders.Creator, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	schema, err := folders.LoadSchema(cfg.SchemaPath())
	if err != nil {
		return nil, nil, err
	}

	client, err := trackerClient(cfg)
	if err != nil {
		return nil, nil, err
	}

	cache, err := pathcache.Open(cfg.CachePath())
	if err != nil {
		return nil, nil, err
	}

	logger := newLogger()
	creator := folders.New(cfg, schema, client, cache, folders.WithLogger(logger))
	cleanup := func() {
		cache.Close()
		logger.Sync()
	}
	return creator, cleanup, nil
}

func newFoldersPreviewCommand() *cobra.Command {
	var entities []string

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show the folders a selection would create, without touching disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			refs, err := parseRefs(entities)
			if err != nil {
				return err
			}

			creator, cleanup, err := buildCreator()
			if err != nil {
				return err
			}
			defer cleanup()

			plan, err := creator.Preview(cmd.Context(), folders.Selection{Refs: refs})
			if err != nil {
				return err
			}

			for _, op := range plan {
				if op.Err != "" {
					cmd.Printf("SKIP %s (%s)\n", op.Path, op.Err)
					continue
				}
				cmd.Println(op.Path)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&entities, "entity", "e", nil, "Entity to create folders for, as Type:ID (repeatable)")
	cmd.MarkFlagRequired("entity")
	return cmd
}

func newFoldersCreateCommand() *cobra.Command {
	var entities []string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create the folders for a selection of entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			refs, err := parseRefs(entities)
			if err != nil {
				return err
			}

			creator, cleanup, err := buildCreator()
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := creator.Create(cmd.Context(), folders.Selection{Refs: refs})
			if err != nil {
				return err
			}

			for _, p := range report.Created {
				cmd.Printf("created  %s\n", p)
			}
			for _, p := range report.Existing {
				cmd.Printf("existing %s\n", p)
			}
			for p, reason := range report.Failures {
				cmd.Printf("FAILED   %s: %s\n", p, reason)
			}

			if len(report.Failures) > 0 {
				return fmt.Errorf("%d folder(s) failed", len(report.Failures))
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&entities, "entity", "e", nil, "Entity to create folders for, as Type:ID (repeatable)")
	cmd.MarkFlagRequired("entity")
	return cmd
}
