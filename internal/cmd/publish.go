package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/framehaus/stagehand/internal/publish"
	"github.com/framehaus/stagehand/internal/templates"
)

func newPublishCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Validate and publish rendered outputs",
	}
	cmd.AddCommand(newPublishValidateCommand())
	cmd.AddCommand(newPublishRunCommand())
	return cmd
}

func loadBatch(path string) (publish.Batch, error) {
	var batch publish.Batch

	bs, err := os.ReadFile(path)
	if err != nil {
		return batch, err
	}
	if err := json.Unmarshal(bs, &batch); err != nil {
		return batch, fmt.Errorf("%s: %w", path, err)
	}

	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	return batch, nil
}

func buildPublisher() (*publish.Publisher, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	set, err := templates.Load(cfg.TemplatesPath(), cfg.Roots)
	if err != nil {
		return nil, nil, err
	}

	client, err := trackerClient(cfg)
	if err != nil {
		return nil, nil, err
	}

	logger := newLogger()
	publisher := publish.New(set, client, publish.WithLogger(logger))
	return publisher, func() { logger.Sync() }, nil
}

// printResults prints the failed tasks; Validate and Publish only
// report tasks that went wrong.
func printResults(cmd *cobra.Command, results []publish.Result) int {
	for _, r := range results {
		cmd.Printf("FAILED  %s (%s)\n", r.Task.Item.Name, r.Task.Output.Name)
		for _, e := range r.Errors {
			cmd.Printf("        %s\n", e)
		}
	}
	return len(results)
}

func newPublishValidateCommand() *cobra.Command {
	var batchPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a publish batch without copying or registering anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, err := loadBatch(batchPath)
			if err != nil {
				return err
			}

			publisher, cleanup, err := buildPublisher()
			if err != nil {
				return err
			}
			defer cleanup()

			results := publisher.Validate(cmd.Context(), batch, nil)
			if failures := printResults(cmd, results); failures > 0 {
				return fmt.Errorf("validation failed for %d task(s)", failures)
			}
			cmd.Println("batch is ready to publish")
			return nil
		},
	}

	cmd.Flags().StringVar(&batchPath, "batch", "", "Path to the publish batch JSON")
	cmd.MarkFlagRequired("batch")
	return cmd
}

func newPublishRunCommand() *cobra.Command {
	var batchPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Publish a batch: copy renders, register publishes, create review versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, err := loadBatch(batchPath)
			if err != nil {
				return err
			}

			publisher, cleanup, err := buildPublisher()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()

			if results := publisher.Validate(ctx, batch, nil); printResults(cmd, results) > 0 {
				return fmt.Errorf("pre-publish validation failed, nothing was published")
			}

			progress := func(pct float64, msg string) {
				cmd.Printf("%3.0f%% %s\n", pct, msg)
			}

			results := publisher.Publish(ctx, batch, progress)
			if failures := printResults(cmd, results); failures > 0 {
				return fmt.Errorf("publish failed for %d task(s)", failures)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&batchPath, "batch", "", "Path to the publish batch JSON")
	cmd.MarkFlagRequired("batch")
	return cmd
}
