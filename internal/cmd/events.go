package cmd

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/framehaus/stagehand/internal/events"
	"github.com/framehaus/stagehand/internal/folders"
	"github.com/framehaus/stagehand/internal/integrations/kafka"
	"github.com/framehaus/stagehand/internal/integrations/postgres"
	"github.com/framehaus/stagehand/internal/pathcache"
)

func newEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail the tracker event log into targets",
	}
	cmd.AddCommand(newEventsStartCommand())
	cmd.AddCommand(newEventsStatusCommand())
	return cmd
}

func newEventsStartCommand() *cobra.Command {
	var (
		id              string
		target          string
		checkpointDir   string
		checkpointEvery int
		pollInterval    time.Duration
		flushTimeout    time.Duration
		addr            string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run an event daemon until interrupted",
		Long: `Run an event daemon delivering tracker events into a target:

  --target folders                          create folders for new entities
  --target kafka://broker:9092/topic        stream events to a kafka topic
  --target postgres://user:pw@host/db       keep a queryable event ledger`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			client, err := trackerClient(cfg)
			if err != nil {
				return err
			}

			logger := newLogger()
			defer logger.Sync()

			source := events.NewTrackerSource(client, events.TrackerSourceWithLogger(logger))

			var eventTarget events.Target
			switch {
			case target == "folders":
				schema, err := folders.LoadSchema(cfg.SchemaPath())
				if err != nil {
					return err
				}
				cache, err := pathcache.Open(cfg.CachePath())
				if err != nil {
					return err
				}
				defer cache.Close()

				creator := folders.New(cfg, schema, client, cache, folders.WithLogger(logger))
				eventTarget = events.NewFoldersTarget(creator, events.FoldersTargetWithLogger(logger))

			default:
				uri, err := url.Parse(target)
				if err != nil {
					return fmt.Errorf("bad target %q: %w", target, err)
				}
				switch uri.Scheme {
				case "kafka":
					if eventTarget, err = kafka.NewTarget(uri, logger); err != nil {
						return err
					}
				case "postgres", "postgresql":
					if eventTarget, err = postgres.NewTarget(uri, logger); err != nil {
						return err
					}
				default:
					return fmt.Errorf("unknown target %q (want folders, kafka:// or postgres://)", target)
				}
			}

			var checkpointer events.Checkpointer = &events.NoopCheckpointer{}
			if checkpointDir != "" {
				checkpointer = events.NewFilesystemCheckpointer(checkpointDir, logger)
			}

			daemon, err := events.New(
				events.WithID(id),
				events.WithSource(source),
				events.WithTarget(eventTarget),
				events.WithCheckpointer(checkpointer),
				events.WithLogger(logger),
				events.WithSourceOptions(events.SourceOptions{
					CheckpointEvery:   checkpointEvery,
					EmptyPollInterval: pollInterval,
				}),
				events.WithTargetOptions(events.TargetOptions{
					FlushTimeout: flushTimeout,
				}),
			)
			if err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(ctx)
			if addr != "" {
				server := events.NewServer(logger)
				server.RegisterDaemon(daemon)
				g.Go(func() error {
					if err := server.Start(ctx, addr); err != http.ErrServerClosed {
						return err
					}
					return nil
				})
			}
			g.Go(func() error { return daemon.Run(ctx) })

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&id, "id", "events", "Daemon id, used for checkpoints and status")
	cmd.Flags().StringVar(&target, "target", "folders", "Delivery target")
	cmd.Flags().StringVar(&checkpointDir, "checkpoint-dir", "", "Directory for checkpoint files (empty disables persistence)")
	cmd.Flags().IntVar(&checkpointEvery, "checkpoint-every", 1, "Checkpoint after this many delivered events")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", time.Second, "Sleep between polls when the event log is idle")
	cmd.Flags().DurationVar(&flushTimeout, "flush-timeout", 5*time.Second, "How often to flush buffering targets")
	cmd.Flags().StringVar(&addr, "addr", "", "Status server listen address (empty disables it)")
	return cmd
}

func newEventsStatusCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the state of a running event daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(fmt.Sprintf("http://%s/api/v1/daemons", addr))
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("status server returned %s", resp.Status)
			}

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			cmd.Println(string(body))
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:9113", "Status server address")
	return cmd
}
