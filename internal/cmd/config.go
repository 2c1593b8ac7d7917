package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/framehaus/stagehand/internal/config"
	"github.com/framehaus/stagehand/internal/folders"
	"github.com/framehaus/stagehand/internal/templates"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and manage the pipeline configuration",
	}
	cmd.AddCommand(newConfigResolveCommand())
	cmd.AddCommand(newConfigValidateCommand())
	cmd.AddCommand(newConfigInitCommand())
	return cmd
}

func newConfigResolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <file>",
		Short: "Print a configuration file with includes merged and references resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := config.ResolveFile(args[0])
			if err != nil {
				return err
			}

			bs, err := yaml.Marshal(doc)
			if err != nil {
				return err
			}
			cmd.Print(string(bs))
			return nil
		},
	}
}

func newConfigValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the whole configuration root and report problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			set, err := templates.Load(cfg.TemplatesPath(), cfg.Roots)
			if err != nil {
				return fmt.Errorf("templates: %w", err)
			}

			if _, err := folders.LoadSchema(cfg.SchemaPath()); err != nil {
				return fmt.Errorf("folder schema: %w", err)
			}

			cmd.Printf("configuration root: %s\n", cfg.Root)
			cmd.Printf("  roots:        %d\n", len(cfg.Roots))
			cmd.Printf("  software:     %d\n", len(cfg.Software))
			cmd.Printf("  environments: %d\n", len(cfg.Environments))
			cmd.Printf("  templates:    %d\n", len(set.Names()))
			cmd.Println("ok")
			return nil
		},
	}
}

func newConfigInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Write the starter configuration into a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}

			written, err := config.Scaffold(dir)
			if err != nil {
				return err
			}

			for _, f := range written {
				cmd.Printf("wrote %s\n", f)
			}
			if len(written) == 0 {
				cmd.Println("nothing to do, configuration already present")
			}
			return nil
		},
	}
}
