package csv

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
	path := filepath.Join(t.TempDir(), "feed.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadMapsRowsToRecords(t *testing.T) {
	path := writeFeed(t, "company_name,country,employee_count\nAcme,USA,100\nBeta,GBR,20\n")
	src := NewSource("fortune1000", path, zaptest.NewLogger(t))

	records, err := src.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "fortune1000", records[0].SourceSystem)
	assert.Equal(t, "Acme", records[0].Fields[models.FieldCompanyName])
	assert.Equal(t, "USA", records[0].Fields[models.FieldCountry])
	assert.Equal(t, "100", records[0].Fields[models.FieldEmployeeCount], "values stay strings; typing is bronze's job")
	assert.False(t, records[0].ReceivedAt.IsZero())
}

func TestReadEmptyCellIsExplicitNull(t *testing.T) {
	path := writeFeed(t, "company_name,country,ticker\nAcme,USA,\n")
	src := NewSource("fortune1000", path, zaptest.NewLogger(t))

	records, err := src.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	v, present := records[0].Fields[models.FieldTicker]
	assert.True(t, present, "missing optional fields are present with a nil value")
	assert.Nil(t, v)
	_, populated := records[0].Get(models.FieldTicker)
	assert.False(t, populated)
}

func TestReadShortRowBackfillsNulls(t *testing.T) {
	path := writeFeed(t, "company_name,country,ceo\nAcme,USA\n")
	src := NewSource("fortune1000", path, zaptest.NewLogger(t))

	records, err := src.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].Fields[models.FieldCEO])
}

func TestReadHeaderNormalized(t *testing.T) {
	path := writeFeed(t, "Company_Name, COUNTRY\nAcme,USA\n")
	src := NewSource("fortune1000", path, zaptest.NewLogger(t))

	records, err := src.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Acme", records[0].Fields[models.FieldCompanyName])
	assert.Equal(t, "USA", records[0].Fields[models.FieldCountry])
}

func TestReadMissingFileIsTransient(t *testing.T) {
	src := NewSource("fortune1000", "/nonexistent/feed.csv", zaptest.NewLogger(t))

	_, err := src.Read(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransient))
	assert.True(t, errors.IsRetryable(err))
}
