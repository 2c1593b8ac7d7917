package cmd

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/framehaus/stagehand/internal/templates"
)

func newTemplatesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect the path templates",
	}
	cmd.AddCommand(newTemplatesListCommand())
	cmd.AddCommand(newTemplatesCheckCommand())
	return cmd
}

func newTemplatesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every path template",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			set, err := templates.Load(cfg.TemplatesPath(), cfg.Roots)
			if err != nil {
				return err
			}

			for _, name := range set.Names() {
				t, err := set.Template(name)
				if err != nil {
					return err
				}
				cmd.Printf("%-30s [%s] %s\n", name, t.RootName, t.Pattern)
			}
			return nil
		},
	}
}

func newTemplatesCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <path>",
		Short: "Show which template a path matches and the fields it parses to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			set, err := templates.Load(cfg.TemplatesPath(), cfg.Roots)
			if err != nil {
				return err
			}

			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			var matched bool
			for _, name := range set.Names() {
				t, err := set.Template(name)
				if err != nil {
					return err
				}
				if !t.Matches(abs) {
					continue
				}

				fields, err := t.Fields(abs)
				if err != nil {
					continue
				}

				matched = true
				cmd.Printf("%s\n", name)

				keys := make([]string, 0, len(fields))
				for k := range fields {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					cmd.Printf("  %-12s %v\n", k+":", fields[k])
				}
			}

			if !matched {
				return fmt.Errorf("no template matches %s", abs)
			}
			return nil
		},
	}
}
