package publish

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/companyatlas/atlas/pkg/errors"
	"github.com/companyatlas/atlas/pkg/models"
)

// ExportFormat selects the artifact encoding.
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

// Compression selects the artifact compression.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// Exporter writes the published table to a local artifact file, optionally
// compressed, and optionally uploads it to S3. Export runs after the swap so
// a failed export never touches the published table.
type Exporter struct {
	Format      ExportFormat
	Compression Compression
	Dir         string
	Uploader    *S3Uploader // nil disables the upload
	logger      *zap.Logger
}

// NewExporter creates an exporter writing artifacts under dir.
func NewExporter(format ExportFormat, compression Compression, dir string, uploader *S3Uploader, logger *zap.Logger) *Exporter {
	return &Exporter{
		Format:      format,
		Compression: compression,
		Dir:         dir,
		Uploader:    uploader,
		logger:      logger.With(zap.String("component", "exporter")),
	}
}

// Export writes the artifact and returns its path.
func (e *Exporter) Export(ctx context.Context, records []*models.UnifiedRecord) (string, error) {
	path := fmt.Sprintf("%s/unified_companies_%s.%s%s",
		e.Dir, time.Now().UTC().Format("20060102T150405Z"), e.Format, e.suffix())

	file, err := os.Create(path)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeTransient, "failed to create export artifact").
			WithDetail("path", path)
	}
	defer file.Close()

	w, closeCompressor, err := e.wrapCompression(file)
	if err != nil {
		return "", err
	}

	switch e.Format {
	case FormatJSON:
		err = writeJSON(w, records)
	default:
		err = writeCSV(w, records)
	}
	if err == nil {
		err = closeCompressor()
	}
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeTransient, "failed to write export artifact").
			WithDetail("path", path)
	}

	e.logger.Info("export artifact written",
		zap.String("path", path),
		zap.Int("rows", len(records)))

	if e.Uploader != nil {
		if err := e.Uploader.UploadFile(ctx, path); err != nil {
			return "", err
		}
	}
	return path, nil
}

func (e *Exporter) suffix() string {
	switch e.Compression {
	case CompressionGzip:
		return ".gz"
	case CompressionZstd:
		return ".zst"
	default:
		return ""
	}
}

// wrapCompression layers the configured compressor over the file writer and
// returns a close function that flushes it.
func (e *Exporter) wrapCompression(file io.Writer) (io.Writer, func() error, error) {
	switch e.Compression {
	case CompressionGzip:
		gw := gzip.NewWriter(file)
		return gw, gw.Close, nil
	case CompressionZstd:
		zw, err := zstd.NewWriter(file)
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create zstd writer")
		}
		return zw, zw.Close, nil
	default:
		return file, func() error { return nil }, nil
	}
}

func writeCSV(w io.Writer, records []*models.UnifiedRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, rec := range records {
		row := make([]string, len(Columns))
		for i, v := range RowValues(rec) {
			row[i] = formatCell(v)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCell(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func writeJSON(w io.Writer, records []*models.UnifiedRecord) error {
	enc := json.NewEncoder(w)
	for _, rec := range records {
		values := RowValues(rec)
		row := make(map[string]interface{}, len(Columns))
		for i, col := range Columns {
			row[col] = values[i]
		}
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	return nil
}
