package parquet

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"go.uber.org/zap"

	"github.com/framehaus/stagehand/internal"
)

const defaultBatchSize = 10000

// Preserver buffers records into an in-memory parquet file and hands
// each completed part to the repository. Large snapshots become a
// series of part-NNNN.parquet objects.
type Preserver struct {
	schema     Schema
	repository internal.Repository
	batchSize  int
	logger     *zap.Logger

	file    buffer.BufferFile
	writer  *writer.CSVWriter
	pending int
	parts   int

	// NumRecordsProcessed counts every record handed to Preserve for
	// the snapshot catalog.
	NumRecordsProcessed int
}

type Option func(*Preserver)

func WithSchema(schema Schema) Option {
	return func(p *Preserver) {
		p.schema = schema
	}
}

func WithRepository(repository internal.Repository) Option {
	return func(p *Preserver) {
		p.repository = repository
	}
}

func WithBatchSizeNumRecords(n int) Option {
	return func(p *Preserver) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Preserver) {
		p.logger = logger.Named("stagehand.archive.parquet")
	}
}

func New(opts ...Option) (*Preserver, error) {
	p := &Preserver{
		batchSize: defaultBatchSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if len(p.schema) == 0 {
		return nil, fmt.Errorf("parquet preserver needs a schema")
	}
	if p.repository == nil {
		return nil, fmt.Errorf("parquet preserver needs a repository")
	}
	return p, nil
}

func (p *Preserver) open() error {
	pf, err := buffer.NewBufferFile(nil)
	if err != nil {
		return err
	}
	file, ok := pf.(buffer.BufferFile)
	if !ok {
		return fmt.Errorf("unexpected parquet buffer type %T", pf)
	}
	p.file = file

	pw, err := writer.NewCSVWriter(p.schema.ToGoParquetSchema(), p.file, 2)
	if err != nil {
		return err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	p.writer = pw
	p.pending = 0
	return nil
}

func (p *Preserver) Preserve(ctx context.Context, record *internal.Record) error {
	if p.writer == nil {
		if err := p.open(); err != nil {
			return err
		}
	}

	row, err := p.schema.RecordToParquetRow(record)
	if err != nil {
		return err
	}
	if err := p.writer.Write(row); err != nil {
		return err
	}

	p.NumRecordsProcessed++
	p.pending++
	if p.pending >= p.batchSize {
		return p.Flush(ctx)
	}
	return nil
}

// Flush finalizes the in-flight parquet part and writes it to the
// repository. A flush with nothing pending is a no-op.
func (p *Preserver) Flush(ctx context.Context) error {
	if p.writer == nil || p.pending == 0 {
		return nil
	}

	if err := p.writer.WriteStop(); err != nil {
		return err
	}

	key := fmt.Sprintf("part-%04d.parquet", p.parts)
	if err := p.repository.Write(ctx, key, bytes.NewReader(p.file.Bytes())); err != nil {
		return err
	}

	p.logger.Info("parquet part written",
		zap.String("key", key),
		zap.Int("records", p.pending))

	p.parts++
	p.writer = nil
	p.file = buffer.BufferFile{}
	p.pending = 0
	return nil
}

// PartsWritten reports how many parquet files this snapshot produced.
func (p *Preserver) PartsWritten() int {
	return p.parts
}

func (p *Preserver) Close(ctx context.Context) error {
	return p.Flush(ctx)
}
