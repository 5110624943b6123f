// Package csv reads a landed CSV feed into source records. The first row is
// the header; every data row becomes one record with a field per column.
// Values are passed through as strings; typing is the bronze cleaner's job.
package csv

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/companyatlas/atlas/pkg/errors"
	"github.com/companyatlas/atlas/pkg/models"
)

// Source reads one CSV feed file.
type Source struct {
	name   string
	path   string
	logger *zap.Logger
	now    func() time.Time
}

// NewSource creates a CSV source for the given feed file. name becomes the
// source_system tag on every record.
func NewSource(name, path string, logger *zap.Logger) *Source {
	return &Source{
		name:   name,
		path:   path,
		logger: logger.With(zap.String("component", "csv_source"), zap.String("source_system", name)),
		now:    time.Now,
	}
}

// Name returns the source_system tag.
func (s *Source) Name() string { return s.name }

// Read materializes the feed. Empty cells become explicit nulls under the
// header's key so downstream stages can distinguish "absent" from "default".
func (s *Source) Read(ctx context.Context) ([]*models.SourceRecord, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransient, "failed to open feed file").
			WithDetail("path", s.path).
			WithDetail("source_system", s.name)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMalformedRecord, "feed file has no header row").
			WithDetail("path", s.path)
	}
	for i, col := range header {
		header[i] = strings.TrimSpace(strings.ToLower(col))
	}

	receivedAt := s.now()
	var records []*models.SourceRecord

	for {
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "feed read canceled")
		default:
		}

		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeMalformedRecord, "unreadable feed row").
				WithDetail("path", s.path).
				WithDetail("row", len(records)+2)
		}

		fields := make(map[string]interface{}, len(header))
		for i, col := range header {
			if i >= len(row) || strings.TrimSpace(row[i]) == "" {
				fields[col] = nil
				continue
			}
			fields[col] = row[i]
		}

		records = append(records, &models.SourceRecord{
			SourceSystem: s.name,
			Fields:       fields,
			ReceivedAt:   receivedAt,
		})
	}

	s.logger.Info("feed read", zap.Int("records", len(records)), zap.String("path", s.path))
	return records, nil
}
