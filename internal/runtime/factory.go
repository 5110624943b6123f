package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/companyatlas/atlas/pkg/config"
	"github.com/companyatlas/atlas/pkg/errors"
	"github.com/companyatlas/atlas/pkg/publish"
	"github.com/companyatlas/atlas/pkg/source"
	csvsource "github.com/companyatlas/atlas/pkg/source/csv"
	jsonlsource "github.com/companyatlas/atlas/pkg/source/jsonl"
)

// BuildSources constructs the configured ingestion feeds.
func BuildSources(cfg *config.PipelineConfig, logger *zap.Logger) ([]source.Source, error) {
	sources := make([]source.Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		switch sc.Format {
		case "csv":
			sources = append(sources, csvsource.NewSource(sc.Name, sc.Path, logger))
		case "jsonl":
			sources = append(sources, jsonlsource.NewSource(sc.Name, sc.Path, logger))
		default:
			return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported source format %q", sc.Format)
		}
	}
	return sources, nil
}

// BuildPublisher constructs the configured publish target.
func BuildPublisher(ctx context.Context, cfg *config.PipelineConfig, logger *zap.Logger) (publish.Publisher, error) {
	switch cfg.Publish.Target {
	case "memory":
		return publish.NewMemoryPublisher(logger), nil
	case "postgres":
		return publish.NewPostgresPublisher(ctx, cfg.Publish.DSN, cfg.Publish.Table, logger)
	case "snowflake":
		return publish.NewSnowflakePublisher(cfg.Publish.DSN, cfg.Publish.Table, logger)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown publish target %q", cfg.Publish.Target)
	}
}

// BuildExporter constructs the post-publish exporter, or nil when disabled.
func BuildExporter(ctx context.Context, cfg *config.PipelineConfig, logger *zap.Logger) (*publish.Exporter, error) {
	ec := cfg.Publish.Export
	if !ec.Enabled {
		return nil, nil
	}

	var uploader *publish.S3Uploader
	if ec.S3Bucket != "" {
		var err error
		uploader, err = publish.NewS3Uploader(ctx, ec.S3Bucket, ec.S3Prefix, logger)
		if err != nil {
			return nil, err
		}
	}

	format := publish.ExportFormat(ec.Format)
	if format == "" {
		format = publish.FormatCSV
	}
	compression := publish.Compression(ec.Compression)
	if compression == "" {
		compression = publish.CompressionNone
	}
	dir := ec.Dir
	if dir == "" {
		dir = "."
	}
	return publish.NewExporter(format, compression, dir, uploader, logger), nil
}
