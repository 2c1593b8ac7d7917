package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	// Snapshot sources: the postgres event ledger and the sqlite
	// path cache.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/framehaus/stagehand/internal/archive"
	"github.com/framehaus/stagehand/internal/parquet"
)

func newArchiveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Snapshot pipeline tables into parquet archives",
	}
	cmd.AddCommand(newArchiveSnapshotCommand())
	cmd.AddCommand(newArchiveSchemaCommand())
	return cmd
}

func newArchiveSnapshotCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Snapshot a source table into the configured repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			logger := newLogger()
			defer logger.Sync()

			cfg, err := archive.NewConfigFromFile(configPath)
			if err != nil {
				return err
			}

			sid := uuid.New()
			archiver, err := archive.Build(cfg, sid, logger)
			if err != nil {
				return err
			}
			defer archiver.Close(ctx)

			log, err := archiver.Snapshot(ctx, sid)
			if err != nil {
				return err
			}

			cmd.Printf("snapshot %s: %d records in %d file(s)\n",
				log.SnapshotID, log.NumRecordsProcessed, log.NumFilesWritten)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the archive config file")
	cmd.MarkFlagRequired("config")
	return cmd
}

func newArchiveSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Utilities for generating parquet schemas",
	}
	cmd.AddCommand(newArchiveSchemaGenerateCommand())
	return cmd
}

func newArchiveSchemaGenerateCommand() *cobra.Command {
	var query string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a parquet schema from a CREATE TABLE statement",
		RunE: func(cmd *cobra.Command, args []string) error {
			if query == "" {
				return fmt.Errorf("--query is required")
			}

			schema, err := parquet.ParseCreateTableStmt(query)
			if err != nil {
				return err
			}

			bs, err := yaml.Marshal(archive.SchemaToConfigFields(schema))
			if err != nil {
				return err
			}
			cmd.Print(string(bs))
			return nil
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "The CREATE TABLE statement to parse")
	cmd.MarkFlagRequired("query")
	return cmd
}
