// Package sql reads snapshot rows through database/sql, so the same
// source serves the postgres event ledger and the sqlite path cache.
package sql

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/framehaus/stagehand/internal"
)

type Source struct {
	DB     *sql.DB
	Schema string
	Table  string
	Query  string

	logger *zap.Logger
}

type SourceOption func(*Source)

func WithSchema(schema string) SourceOption {
	return func(s *Source) {
		s.Schema = schema
	}
}

func WithTable(table string) SourceOption {
	return func(s *Source) {
		s.Table = table
	}
}

func WithQuery(query string) SourceOption {
	return func(s *Source) {
		s.Query = query
	}
}

func WithLogger(logger *zap.Logger) SourceOption {
	return func(s *Source) {
		s.logger = logger.Named("stagehand.archive.source")
	}
}

func NewSource(db *sql.DB, opts ...SourceOption) *Source {
	s := Source{
		DB:     db,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&s)
	}

	if s.Query == "" {
		s.Query = fmt.Sprintf("SELECT * FROM %s", s.qualifiedTable())
	}
	return &s
}

func (s *Source) qualifiedTable() string {
	if s.Schema == "" {
		return s.Table
	}
	return fmt.Sprintf("%s.%s", s.Schema, s.Table)
}

func (s *Source) Name() string {
	return s.qualifiedTable()
}

// Count returns the expected number of snapshot rows.
// TODO run this inside the snapshot's transaction so a concurrent
// writer cannot skew the catalog's expected count.
func (s *Source) Count(ctx context.Context) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS snapshot_src", s.Query)

	var c int
	err := s.DB.QueryRowContext(ctx, query).Scan(&c)
	return c, err
}

func (s *Source) Close(ctx context.Context) error {
	return s.DB.Close()
}

func (s *Source) Snapshot(ctx context.Context) (*Snapshot, error) {
	s.logger.Info("starting snapshot query",
		zap.String("source", s.Name()),
		zap.String("query", s.Query))

	rows, err := s.DB.QueryContext(ctx, s.Query)
	if err != nil {
		return nil, err
	}

	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}

	return &Snapshot{
		rows:    rows,
		columns: columns,
		query:   s.Query,
	}, nil
}

// Snapshot is a cursor over one snapshot query's rows.
type Snapshot struct {
	rows    *sql.Rows
	columns []string
	query   string
}

func (s *Snapshot) Query() string {
	return s.query
}

func (s *Snapshot) Close() error {
	return s.rows.Close()
}

// Next returns the next row, or io.EOF when the cursor is drained.
func (s *Snapshot) Next() (*internal.Record, error) {
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	values := make([]any, len(s.columns))
	valuePtrs := make([]any, len(s.columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	if err := s.rows.Scan(valuePtrs...); err != nil {
		return nil, err
	}

	return internal.NewRecord(s.columns, values), nil
}
