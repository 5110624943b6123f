package marts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/companyatlas/atlas/pkg/models"
)

func bronzeRecord(key string, fields map[string]interface{}, updated time.Time) *models.UnifiedRecord {
	return &models.UnifiedRecord{
		IdentityKey:         models.IdentityKey(key),
		Fields:              fields,
		ContributingSources: []string{"fortune1000"},
		Layer:               models.LayerBronze,
		LastUpdatedAt:       updated,
	}
}

func TestAggregateIndependentMaxPerMetric(t *testing.T) {
	a := NewAggregator(zaptest.NewLogger(t))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	dim := bronzeRecord("acme", map[string]interface{}{
		models.FieldCompanyName: "ACME",
	}, base)

	// Neither snapshot dominates: the first has the higher head count, the
	// second the higher revenue. Each metric reduces independently.
	observations := []*models.UnifiedRecord{
		bronzeRecord("acme", map[string]interface{}{
			models.FieldEmployeeCount: int64(5000),
			models.FieldRevenue:       100.0,
			models.FieldMetricDate:    base,
		}, base),
		bronzeRecord("acme", map[string]interface{}{
			models.FieldEmployeeCount: int64(4200),
			models.FieldRevenue:       250.5,
			models.FieldMetricDate:    base.AddDate(0, 1, 0),
		}, base.AddDate(0, 1, 0)),
	}

	out, _ := a.Aggregate([]*models.UnifiedRecord{dim}, observations)

	require.Len(t, out, 1)
	rec := out[0]
	assert.Equal(t, models.LayerMarts, rec.Layer)

	count, _ := rec.GetInt(models.FieldEmployeeCount)
	assert.Equal(t, int64(5000), count, "employee_count from the first snapshot")
	revenue, _ := rec.GetFloat(models.FieldRevenue)
	assert.Equal(t, 250.5, revenue, "revenue from the second snapshot")
	date, _ := rec.GetTime(models.FieldMetricDate)
	assert.Equal(t, base.AddDate(0, 1, 0), date)
}

func TestAggregateLeftJoinKeepsUnmatchedDimensions(t *testing.T) {
	a := NewAggregator(zaptest.NewLogger(t))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	dims := []*models.UnifiedRecord{
		bronzeRecord("matched", map[string]interface{}{models.FieldCompanyName: "MATCHED"}, base),
		bronzeRecord("orphan", map[string]interface{}{models.FieldCompanyName: "ORPHAN"}, base),
	}
	observations := []*models.UnifiedRecord{
		bronzeRecord("matched", map[string]interface{}{models.FieldEmployeeCount: int64(10)}, base),
	}

	out, stats := a.Aggregate(dims, observations)

	require.Len(t, out, 2, "every dimension appears in the output")
	assert.Equal(t, 1, stats.WithoutMetrics)

	var orphan *models.UnifiedRecord
	for _, rec := range out {
		if rec.IdentityKey == "orphan" {
			orphan = rec
		}
	}
	require.NotNil(t, orphan)
	for _, field := range models.MetricFields {
		v, ok := orphan.Get(field)
		assert.False(t, ok, "%s must be null on an unmatched dimension", field)
		assert.Nil(t, v)
	}
}

func TestAggregateNoObservationsForDifferentIdentity(t *testing.T) {
	a := NewAggregator(zaptest.NewLogger(t))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	dims := []*models.UnifiedRecord{
		bronzeRecord("acme-usa", map[string]interface{}{models.FieldCompanyName: "ACME CORP"}, base),
	}
	observations := []*models.UnifiedRecord{
		bronzeRecord("acme-gbr", map[string]interface{}{models.FieldEmployeeCount: int64(99)}, base),
	}

	out, _ := a.Aggregate(dims, observations)

	require.Len(t, out, 1)
	_, ok := out[0].Get(models.FieldEmployeeCount)
	assert.False(t, ok, "metrics never join across identities")
}

func TestAggregateOutputSortedAndUnique(t *testing.T) {
	a := NewAggregator(zaptest.NewLogger(t))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	dims := []*models.UnifiedRecord{
		bronzeRecord("zzz", map[string]interface{}{models.FieldCompanyName: "Z"}, base),
		bronzeRecord("aaa", map[string]interface{}{models.FieldCompanyName: "A"}, base),
		bronzeRecord("mmm", map[string]interface{}{models.FieldCompanyName: "M"}, base),
	}

	out, _ := a.Aggregate(dims, nil)

	require.Len(t, out, 3)
	seen := make(map[models.IdentityKey]bool)
	for i, rec := range out {
		assert.False(t, seen[rec.IdentityKey])
		seen[rec.IdentityKey] = true
		if i > 0 {
			assert.Less(t, string(out[i-1].IdentityKey), string(rec.IdentityKey))
		}
	}
}

func TestAggregateBumpsLastUpdatedFromObservations(t *testing.T) {
	a := NewAggregator(zaptest.NewLogger(t))
	dimTime := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	obsTime := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	dims := []*models.UnifiedRecord{
		bronzeRecord("acme", map[string]interface{}{models.FieldCompanyName: "ACME"}, dimTime),
	}
	observations := []*models.UnifiedRecord{
		bronzeRecord("acme", map[string]interface{}{models.FieldRevenue: 1.0}, obsTime),
	}

	out, _ := a.Aggregate(dims, observations)

	require.Len(t, out, 1)
	assert.Equal(t, obsTime, out[0].LastUpdatedAt)
}

func TestAggregateDoesNotMutateInput(t *testing.T) {
	a := NewAggregator(zaptest.NewLogger(t))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	dim := bronzeRecord("acme", map[string]interface{}{models.FieldCompanyName: "ACME"}, base)
	before := len(dim.Fields)

	a.Aggregate([]*models.UnifiedRecord{dim}, nil)

	assert.Len(t, dim.Fields, before)
	assert.Equal(t, models.LayerBronze, dim.Layer)
}
