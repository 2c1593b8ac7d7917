package parquet

import (
	"fmt"
	"strings"

	"github.com/xwb1989/sqlparser"
)

// ParseCreateTableStmt derives a parquet schema from a CREATE TABLE
// statement, for bootstrapping archive configs from existing tables.
func ParseCreateTableStmt(sql string) (Schema, error) {
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, err
	}

	ddl, ok := stmt.(*sqlparser.DDL)
	if !ok || ddl.TableSpec == nil {
		return nil, fmt.Errorf("statement is not a CREATE TABLE")
	}

	var schema Schema
	for _, col := range ddl.TableSpec.Columns {
		f, err := ColumnToField(col)
		if err != nil {
			return nil, err
		}
		schema = append(schema, f)
	}
	return schema, nil
}

// ColumnToField maps one column definition to a parquet field.
func ColumnToField(col *sqlparser.ColumnDefinition) (Field, error) {
	f := Field{
		Name: col.Name.String(),
	}

	switch strings.ToLower(col.Type.Type) {
	case "smallint", "int", "integer", "serial":
		f.Type = "INT32"
	case "bigint", "bigserial":
		f.Type = "INT64"
	case "char", "varchar", "text", "uuid", "json", "jsonb":
		f.Type = "BYTE_ARRAY"
		f.ConvertedType = "UTF8"
	case "timestamp", "timestamptz", "datetime":
		f.Type = "INT64"
		f.ConvertedType = "TIMESTAMP_MICROS"
	case "date":
		f.Type = "INT32"
		f.ConvertedType = "DATE"
	case "real", "float", "double", "numeric", "decimal":
		f.Type = "DOUBLE"
	case "bool", "boolean":
		f.Type = "BOOLEAN"
	default:
		return Field{}, fmt.Errorf("unsupported data type: %q", col.Type.Type)
	}

	if !col.Type.NotNull {
		f.RepetitionType = "OPTIONAL"
	}
	return f, nil
}
