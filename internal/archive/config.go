package archive

import (
	"database/sql"
	"fmt"
	"os"
	"path"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/framehaus/stagehand/internal"
	"github.com/framehaus/stagehand/internal/local"
	"github.com/framehaus/stagehand/internal/parquet"
	"github.com/framehaus/stagehand/internal/s3"
	lsql "github.com/framehaus/stagehand/internal/sql"
)

type SourceConfig struct {
	// Driver is a database/sql driver name: "pgx" for the event
	// ledger, "sqlite" for the path cache.
	Driver           string `yaml:"driver"`
	ConnectionString string `yaml:"connection_string"`
	Schema           string `yaml:"schema"`
	Table            string `yaml:"table"`
	Query            string `yaml:"query"`
}

type LocalConfig struct {
	Path string `yaml:"path"`
}

type S3Config struct {
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	Prefix         string `yaml:"prefix"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`
}

type RepositoryConfig struct {
	Type  string      `yaml:"type"`
	Local LocalConfig `yaml:"local"`
	S3    S3Config    `yaml:"s3"`
}

type FieldConfig struct {
	Name           string `yaml:"name"`
	Type           string `yaml:"type"`
	ConvertedType  string `yaml:"converted_type,omitempty"`
	RepetitionType string `yaml:"repetition_type,omitempty"`
}

type ParquetConfig struct {
	Schema []FieldConfig `yaml:"schema"`
}

type PreserverConfig struct {
	Type                string        `yaml:"type"`
	BatchSizeNumRecords int           `yaml:"batch_size_num_records"`
	Parquet             ParquetConfig `yaml:"parquet"`
}

type Config struct {
	Source     SourceConfig     `yaml:"source"`
	Repository RepositoryConfig `yaml:"repository"`
	Preserver  PreserverConfig  `yaml:"preserver"`
}

type File struct {
	Archive Config `yaml:"archive"`
}

func NewConfigFromFile(fpath string) (*Config, error) {
	bs, err := os.ReadFile(fpath)
	if err != nil {
		return nil, err
	}

	var file File
	if err := yaml.Unmarshal(bs, &file); err != nil {
		return nil, err
	}
	return &file.Archive, nil
}

// ParquetFields converts config schema entries to parquet fields.
func ParquetFields(fields []FieldConfig) parquet.Schema {
	schema := make(parquet.Schema, len(fields))
	for i, f := range fields {
		schema[i] = parquet.Field{
			Name:           f.Name,
			Type:           f.Type,
			ConvertedType:  f.ConvertedType,
			RepetitionType: f.RepetitionType,
		}
	}
	return schema
}

// SchemaToConfigFields is the inverse, used when generating archive
// configs from CREATE TABLE statements.
func SchemaToConfigFields(schema parquet.Schema) []FieldConfig {
	fields := make([]FieldConfig, len(schema))
	for i, f := range schema {
		fields[i] = FieldConfig{
			Name:           f.Name,
			Type:           f.Type,
			ConvertedType:  f.ConvertedType,
			RepetitionType: f.RepetitionType,
		}
	}
	return fields
}

// Build wires a ready-to-run archiver for one snapshot id. The caller
// owns Close.
func Build(cfg *Config, id uuid.UUID, logger *zap.Logger) (*Archiver, error) {
	driver := cfg.Source.Driver
	if driver == "" {
		driver = "pgx"
	}

	db, err := sql.Open(driver, cfg.Source.ConnectionString)
	if err != nil {
		return nil, err
	}

	source := lsql.NewSource(db,
		lsql.WithSchema(cfg.Source.Schema),
		lsql.WithTable(cfg.Source.Table),
		lsql.WithQuery(cfg.Source.Query),
		lsql.WithLogger(logger),
	)

	repository, err := buildRepository(cfg, id, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	preserver, err := parquet.New(
		parquet.WithSchema(ParquetFields(cfg.Preserver.Parquet.Schema)),
		parquet.WithRepository(repository),
		parquet.WithBatchSizeNumRecords(cfg.Preserver.BatchSizeNumRecords),
		parquet.WithLogger(logger),
	)
	if err != nil {
		db.Close()
		return nil, err
	}

	return New(
		WithSource(source),
		WithPreserver(preserver),
		WithRepository(repository),
		WithLogger(logger),
	), nil
}

func buildRepository(cfg *Config, id uuid.UUID, logger *zap.Logger) (internal.Repository, error) {
	switch cfg.Repository.Type {
	case "local":
		return local.New(
			cfg.Repository.Local.Path,
			local.WithPrefix(id.String()),
			local.WithLogger(logger),
		), nil
	case "s3":
		return s3.New(
			s3.WithRegion(cfg.Repository.S3.Region),
			s3.WithBucket(cfg.Repository.S3.Bucket),
			s3.WithEndpoint(cfg.Repository.S3.Endpoint),
			s3.WithForcePathStyle(cfg.Repository.S3.ForcePathStyle),
			s3.WithPrefix(path.Join(cfg.Repository.S3.Prefix, id.String())),
			s3.WithLogger(logger),
		)
	default:
		return nil, fmt.Errorf("unknown repository type: %q", cfg.Repository.Type)
	}
}
