package parquet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framehaus/stagehand/internal"
)

func TestToGoParquetSchema(t *testing.T) {
	schema := Schema{
		{Name: "event_id", Type: "INT64"},
		{Name: "event_type", Type: "BYTE_ARRAY", ConvertedType: "UTF8"},
		{Name: "created_at", Type: "INT64", ConvertedType: "TIMESTAMP_MICROS", RepetitionType: "OPTIONAL"},
	}

	assert.Equal(t, []string{
		"name=event_id, type=INT64",
		"name=event_type, type=BYTE_ARRAY, convertedtype=UTF8",
		"name=created_at, type=INT64, convertedtype=TIMESTAMP_MICROS, repetitiontype=OPTIONAL",
	}, schema.ToGoParquetSchema())
}

func TestRecordToParquetRow(t *testing.T) {
	schema := Schema{
		{Name: "id", Type: "INT64"},
		{Name: "name", Type: "BYTE_ARRAY", ConvertedType: "UTF8"},
		{Name: "created_at", Type: "INT64", ConvertedType: "TIMESTAMP_MICROS"},
		{Name: "ratio", Type: "DOUBLE"},
	}

	t.Run("coerces sql driver types", func(t *testing.T) {
		at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
		record := internal.NewRecord(
			[]string{"id", "name", "created_at", "ratio"},
			[]any{int(7), []byte("mi001"), at, float32(0.5)},
		)

		row, err := schema.RecordToParquetRow(record)
		require.NoError(t, err)
		assert.Equal(t, []any{int64(7), "mi001", at.UnixMicro(), float64(0.5)}, row)
	})

	t.Run("nil passes through for optional columns", func(t *testing.T) {
		record := internal.NewRecord(
			[]string{"id", "name", "created_at", "ratio"},
			[]any{int64(7), nil, nil, nil},
		)

		row, err := schema.RecordToParquetRow(record)
		require.NoError(t, err)
		assert.Equal(t, []any{int64(7), nil, nil, nil}, row)
	})

	t.Run("field count mismatch fails", func(t *testing.T) {
		record := internal.NewRecord([]string{"id"}, []any{int64(7)})
		_, err := schema.RecordToParquetRow(record)
		require.Error(t, err)
	})

	t.Run("timestamp column rejects non-time values", func(t *testing.T) {
		record := internal.NewRecord(
			[]string{"id", "name", "created_at", "ratio"},
			[]any{int64(7), "mi001", "not a time", 0.5},
		)
		_, err := schema.RecordToParquetRow(record)
		require.ErrorContains(t, err, "created_at")
	})
}

func TestParseCreateTableStmt(t *testing.T) {
	t.Run("maps column types", func(t *testing.T) {
		schema, err := ParseCreateTableStmt(`CREATE TABLE pipeline_events (
			event_id bigint not null,
			event_type text not null,
			entity_id integer,
			meta text,
			created_at timestamp
		)`)
		require.NoError(t, err)

		assert.Equal(t, Schema{
			{Name: "event_id", Type: "INT64"},
			{Name: "event_type", Type: "BYTE_ARRAY", ConvertedType: "UTF8"},
			{Name: "entity_id", Type: "INT32", RepetitionType: "OPTIONAL"},
			{Name: "meta", Type: "BYTE_ARRAY", ConvertedType: "UTF8", RepetitionType: "OPTIONAL"},
			{Name: "created_at", Type: "INT64", ConvertedType: "TIMESTAMP_MICROS", RepetitionType: "OPTIONAL"},
		}, schema)
	})

	t.Run("invalid sql fails", func(t *testing.T) {
		_, err := ParseCreateTableStmt("invalid sql")
		require.Error(t, err)
	})

	t.Run("non-ddl statement fails", func(t *testing.T) {
		_, err := ParseCreateTableStmt("SELECT 1 FROM t")
		require.Error(t, err)
	})
}
