// Package parquet serializes snapshot records into parquet files for
// long-term archival.
package parquet

import (
	"fmt"
	"strings"
	"time"

	"github.com/framehaus/stagehand/internal"
)

type Field struct {
	Name           string
	Type           string
	ConvertedType  string
	RepetitionType string
}

type Schema []Field

// ToGoParquetSchema renders the metadata strings the parquet writer
// expects, e.g. "name=event_id, type=INT64, repetitiontype=OPTIONAL".
func (s Schema) ToGoParquetSchema() []string {
	schema := make([]string, len(s))
	for i, field := range s {
		parts := []string{
			fmt.Sprintf("name=%s", field.Name),
			fmt.Sprintf("type=%s", field.Type),
		}
		if field.ConvertedType != "" {
			parts = append(parts, fmt.Sprintf("convertedtype=%s", field.ConvertedType))
		}
		if field.RepetitionType != "" {
			parts = append(parts, fmt.Sprintf("repetitiontype=%s", field.RepetitionType))
		}
		schema[i] = strings.Join(parts, ", ")
	}
	return schema
}

// RecordToParquetRow coerces database/sql values into the concrete
// types the writer requires for each column.
func (s Schema) RecordToParquetRow(r *internal.Record) ([]any, error) {
	if len(s) != r.Len() {
		return nil, fmt.Errorf(
			"schema and record fields mismatch: schema has %d fields, record has %d fields",
			len(s), r.Len())
	}

	row := make([]any, len(s))
	for i, field := range s {
		value, err := coerce(field, r.Values()[i])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field.Name, err)
		}
		row[i] = value
	}
	return row, nil
}

func coerce(field Field, value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch field.ConvertedType {
	case "TIMESTAMP_MICROS":
		t, ok := value.(time.Time)
		if !ok {
			return nil, fmt.Errorf("expected time.Time, got %T", value)
		}
		return t.UnixMicro(), nil
	case "TIMESTAMP_MILLIS":
		t, ok := value.(time.Time)
		if !ok {
			return nil, fmt.Errorf("expected time.Time, got %T", value)
		}
		return t.UnixMilli(), nil
	case "DATE":
		t, ok := value.(time.Time)
		if !ok {
			return nil, fmt.Errorf("expected time.Time, got %T", value)
		}
		return int32(t.Unix() / 86400), nil
	}

	switch field.Type {
	case "INT64":
		switch v := value.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		default:
			return nil, fmt.Errorf("expected integer, got %T", value)
		}
	case "INT32":
		switch v := value.(type) {
		case int32:
			return v, nil
		case int64:
			return int32(v), nil
		case int:
			return int32(v), nil
		default:
			return nil, fmt.Errorf("expected integer, got %T", value)
		}
	case "DOUBLE":
		switch v := value.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int64:
			return float64(v), nil
		default:
			return nil, fmt.Errorf("expected float, got %T", value)
		}
	case "BOOLEAN":
		switch v := value.(type) {
		case bool:
			return v, nil
		case int64:
			return v != 0, nil
		default:
			return nil, fmt.Errorf("expected bool, got %T", value)
		}
	case "BYTE_ARRAY":
		switch v := value.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		case time.Time:
			return v.Format(time.RFC3339Nano), nil
		default:
			return fmt.Sprint(v), nil
		}
	}

	return value, nil
}
