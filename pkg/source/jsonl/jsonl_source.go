// Package jsonl reads a landed JSON-lines feed into source records. One JSON
// object per line; explicit JSON nulls and missing keys both surface as null
// field values.
package jsonl

import (
	"bufio"
	"context"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/companyatlas/atlas/pkg/errors"
	"github.com/companyatlas/atlas/pkg/models"
)

// Source reads one JSONL feed file.
type Source struct {
	name   string
	path   string
	logger *zap.Logger
	now    func() time.Time
}

// NewSource creates a JSONL source. name becomes the source_system tag.
func NewSource(name, path string, logger *zap.Logger) *Source {
	return &Source{
		name:   name,
		path:   path,
		logger: logger.With(zap.String("component", "jsonl_source"), zap.String("source_system", name)),
		now:    time.Now,
	}
}

// Name returns the source_system tag.
func (s *Source) Name() string { return s.name }

// Read materializes the feed. Blank lines are skipped; a line that is not a
// JSON object fails the read since a corrupt feed file is a feed problem, not
// a record problem.
func (s *Source) Read(ctx context.Context) ([]*models.SourceRecord, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransient, "failed to open feed file").
			WithDetail("path", s.path).
			WithDetail("source_system", s.name)
	}
	defer file.Close()

	receivedAt := s.now()
	var records []*models.SourceRecord

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0

	for scanner.Scan() {
		line++
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "feed read canceled")
		default:
		}

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		fields := make(map[string]interface{})
		if err := json.Unmarshal([]byte(text), &fields); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeMalformedRecord, "unparseable feed line").
				WithDetail("path", s.path).
				WithDetail("line", line)
		}

		records = append(records, &models.SourceRecord{
			SourceSystem: s.name,
			Fields:       fields,
			ReceivedAt:   receivedAt,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransient, "feed read failed").
			WithDetail("path", s.path)
	}

	s.logger.Info("feed read", zap.Int("records", len(records)), zap.String("path", s.path))
	return records, nil
}
