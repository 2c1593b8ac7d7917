// Package archive snapshots pipeline tables (the event ledger, the
// path cache) into parquet files for long-term retention.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/framehaus/stagehand/internal"
	"github.com/framehaus/stagehand/internal/catalog"
	"github.com/framehaus/stagehand/internal/parquet"
	"github.com/framehaus/stagehand/internal/sql"
)

type Archiver struct {
	source     *sql.Source
	preserver  *parquet.Preserver
	repository internal.Repository
	logger     *zap.Logger
}

type Option func(*Archiver)

func WithSource(source *sql.Source) Option {
	return func(a *Archiver) {
		a.source = source
	}
}

func WithPreserver(preserver *parquet.Preserver) Option {
	return func(a *Archiver) {
		a.preserver = preserver
	}
}

func WithRepository(repository internal.Repository) Option {
	return func(a *Archiver) {
		a.repository = repository
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(a *Archiver) {
		a.logger = logger.Named("stagehand.archive")
	}
}

func New(opts ...Option) *Archiver {
	a := &Archiver{
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Archiver) Close(ctx context.Context) error {
	return a.source.Close(ctx)
}

// Snapshot drains the source into the preserver and finishes with a
// catalog.json next to the parquet parts. The catalog is written even
// when the snapshot fails partway, with Success false and the error
// recorded.
func (a *Archiver) Snapshot(ctx context.Context, id uuid.UUID) (*catalog.Catalog, error) {
	log := &catalog.Catalog{
		SnapshotID: id.String(),
		Source:     a.source.Name(),
		StartTime:  time.Now().UTC(),
	}

	a.logger.Info("starting snapshot",
		zap.String("snapshot_id", log.SnapshotID),
		zap.String("source", log.Source))

	err := a.snapshot(ctx, log)
	if err != nil {
		log.Error = err.Error()
	}
	log.Success = err == nil
	log.EndTime = time.Now().UTC()
	log.NumRecordsProcessed = a.preserver.NumRecordsProcessed
	log.NumFilesWritten = a.preserver.PartsWritten()

	if werr := a.writeCatalog(ctx, log); werr != nil {
		a.logger.Error("failed to write catalog", zap.Error(werr))
		if err == nil {
			err = werr
		}
	}

	a.logger.Info("snapshot finished",
		zap.String("snapshot_id", log.SnapshotID),
		zap.Bool("success", log.Success),
		zap.Int("records", log.NumRecordsProcessed),
		zap.Int("files", log.NumFilesWritten))

	return log, err
}

func (a *Archiver) snapshot(ctx context.Context, log *catalog.Catalog) error {
	count, err := a.source.Count(ctx)
	if err != nil {
		return err
	}
	log.NumSourceRecords = count

	snapshot, err := a.source.Snapshot(ctx)
	if err != nil {
		return err
	}
	defer snapshot.Close()
	log.Query = snapshot.Query()

	for {
		record, err := snapshot.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		if err := a.preserver.Preserve(ctx, record); err != nil {
			return err
		}
	}

	if err := a.preserver.Close(ctx); err != nil {
		return err
	}
	return a.repository.Flush(ctx)
}

func (a *Archiver) writeCatalog(ctx context.Context, log *catalog.Catalog) error {
	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return err
	}
	return a.repository.Write(ctx, "catalog.json", bytes.NewReader(data))
}
