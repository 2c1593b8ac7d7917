// Package cmd is the stagehand command line: configuration tooling,
// folder creation, application launch, the menu service, publishing,
// the event daemon and archive snapshots.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/framehaus/stagehand/internal/config"
	"github.com/framehaus/stagehand/internal/tracker"
)

func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stagehand",
		Short: "Pipeline tooling for VFX productions",
		Long: `Stagehand drives a studio pipeline from one configuration root:
storage roots, software paths, folder schemas and path templates.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config-root", "", "Path to the pipeline configuration root")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	viper.BindPFlag("config_root", cmd.PersistentFlags().Lookup("config-root"))
	viper.BindPFlag("log_level", cmd.PersistentFlags().Lookup("log-level"))
	viper.SetEnvPrefix("STAGEHAND")
	viper.AutomaticEnv()

	cmd.AddCommand(newConfigCommand())
	cmd.AddCommand(newTemplatesCommand())
	cmd.AddCommand(newFoldersCommand())
	cmd.AddCommand(newLaunchCommand())
	cmd.AddCommand(newMenuCommand())
	cmd.AddCommand(newPublishCommand())
	cmd.AddCommand(newEventsCommand())
	cmd.AddCommand(newArchiveCommand())
	cmd.AddCommand(newFixturesCommand())

	return cmd
}

// Execute runs the root command. Called once from main.
func Execute() {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *zap.Logger {
	level, err := zap.ParseAtomicLevel(viper.GetString("log_level"))
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = level
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func loadConfig() (*config.Config, error) {
	root, err := config.Discover(viper.GetString("config_root"))
	if err != nil {
		return nil, err
	}
	return config.Load(root)
}

func trackerClient(cfg *config.Config) (*tracker.Client, error) {
	return tracker.NewFromConfig(cfg)
}
