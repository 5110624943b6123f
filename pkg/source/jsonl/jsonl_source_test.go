package jsonl

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/companyatlas/atlas/pkg/errors"
	"github.com/companyatlas/atlas/pkg/models"
)

func writeFeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadParsesLines(t *testing.T) {
	path := writeFeed(t, `{"company_name":"Acme","country":"USA","founded_year":1976}
{"company_name":"Beta","country":"GBR","founded_year":null}

`)
	src := NewSource("global_companies", path, zaptest.NewLogger(t))

	records, err := src.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2, "blank lines are skipped")

	assert.Equal(t, "global_companies", records[0].SourceSystem)
	assert.Equal(t, "Acme", records[0].Fields[models.FieldCompanyName])
	assert.Equal(t, float64(1976), records[0].Fields[models.FieldFoundedYear])

	v, present := records[1].Fields[models.FieldFoundedYear]
	assert.True(t, present)
	assert.Nil(t, v, "an explicit JSON null survives as a null field")
}

func TestReadCorruptLineFailsFeed(t *testing.T) {
	path := writeFeed(t, `{"company_name":"Acme","country":"USA"}
not json at all
`)
	src := NewSource("global_companies", path, zaptest.NewLogger(t))

	_, err := src.Read(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeMalformedRecord))
	assert.False(t, errors.IsRetryable(err))
}

func TestReadMissingFileIsTransient(t *testing.T) {
	src := NewSource("global_companies", "/nonexistent/feed.jsonl", zaptest.NewLogger(t))

	_, err := src.Read(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransient))
}
