package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/companyatlas/atlas/pkg/models"
)

func unified(key string, layer models.Layer, fields map[string]interface{}) *models.UnifiedRecord {
	return &models.UnifiedRecord{
		IdentityKey:         models.IdentityKey(key),
		Fields:              fields,
		ContributingSources: []string{"test"},
		Layer:               layer,
		LastUpdatedAt:       time.Now(),
	}
}

func TestGateNotNull(t *testing.T) {
	gate := NewGate(zaptest.NewLogger(t))

	records := []*models.UnifiedRecord{
		unified("a", models.LayerRaw, map[string]interface{}{models.FieldCompanyName: "ACME"}),
		unified("b", models.LayerRaw, map[string]interface{}{models.FieldCompanyName: nil}),
	}
	rules := []Rule{{
		Name: "name_not_null", TargetLayer: models.LayerRaw,
		Kind: RuleNotNull, Column: models.FieldCompanyName,
		Threshold: 1.0, Severity: SeverityHard,
	}}

	report := gate.Evaluate(records, rules, nil)

	require.Len(t, report.Results, 1)
	assert.Equal(t, 1, report.Results[0].PassCount)
	assert.Equal(t, 1, report.Results[0].FailCount)
	assert.False(t, report.Results[0].Passed)
	assert.False(t, report.GatePassed)
}

func TestGateUniqueIdentity(t *testing.T) {
	gate := NewGate(zaptest.NewLogger(t))

	records := []*models.UnifiedRecord{
		unified("dup", models.LayerRaw, map[string]interface{}{models.FieldCompanyName: "A"}),
		unified("dup", models.LayerRaw, map[string]interface{}{models.FieldCompanyName: "B"}),
		unified("ok", models.LayerRaw, map[string]interface{}{models.FieldCompanyName: "C"}),
	}

	report := gate.Evaluate(records, []Rule{{
		Name: "identity_unique", TargetLayer: models.LayerRaw,
		Kind: RuleUnique, Column: IdentityColumn,
		Threshold: 1.0, Severity: SeverityHard,
	}}, nil)

	assert.Equal(t, 1, report.Results[0].PassCount)
	assert.Equal(t, 2, report.Results[0].FailCount)
	assert.False(t, report.GatePassed)
}

func TestGateRangeCountsFailures(t *testing.T) {
	gate := NewGate(zaptest.NewLogger(t))

	// fortune_rank=1500 would have been nulled by the cleaner; a raw value
	// slipping through must be reported as exactly one failure.
	records := []*models.UnifiedRecord{
		unified("a", models.LayerBronze, map[string]interface{}{models.FieldFortuneRank: int64(10)}),
		unified("b", models.LayerBronze, map[string]interface{}{models.FieldFortuneRank: int64(1500)}),
		unified("c", models.LayerBronze, map[string]interface{}{models.FieldFortuneRank: nil}),
	}

	report := gate.Evaluate(records, []Rule{{
		Name: "fortune_rank_range", TargetLayer: models.LayerBronze,
		Kind: RuleRange, Column: models.FieldFortuneRank,
		Threshold: 1.0, Severity: SeverityHard,
		Min: f(1), Max: f(1000),
	}}, nil)

	assert.Equal(t, 1, report.Results[0].FailCount)
	assert.Equal(t, 2, report.Results[0].PassCount, "unpopulated values are out of range-rule scope")
	assert.False(t, report.GatePassed)
}

func TestGateSoftRuleDoesNotBlock(t *testing.T) {
	gate := NewGate(zaptest.NewLogger(t))

	records := []*models.UnifiedRecord{
		unified("a", models.LayerBronze, map[string]interface{}{models.FieldFoundedYear: int64(1500)}),
	}

	report := gate.Evaluate(records, []Rule{{
		Name: "founded_year_range", TargetLayer: models.LayerBronze,
		Kind: RuleRange, Column: models.FieldFoundedYear,
		Threshold: 0.95, Severity: SeveritySoft,
		Min: f(1800), Max: f(2100),
	}}, nil)

	assert.True(t, report.GatePassed, "soft failures only warn")
	require.Len(t, report.Warnings(), 1)
	assert.Equal(t, "founded_year_range", report.Warnings()[0].Rule.Name)
}

func TestGateThresholdRatio(t *testing.T) {
	gate := NewGate(zaptest.NewLogger(t))

	records := make([]*models.UnifiedRecord, 0, 100)
	for i := 0; i < 100; i++ {
		fields := map[string]interface{}{models.FieldEmployeeCount: int64(10)}
		if i < 3 {
			fields[models.FieldEmployeeCount] = int64(-5)
		}
		records = append(records, unified(string(rune('a'+i)), models.LayerBronze, fields))
	}

	rule := Rule{
		Name: "employee_count_non_negative", TargetLayer: models.LayerBronze,
		Kind: RuleRange, Column: models.FieldEmployeeCount,
		Threshold: 0.95, Severity: SeverityHard,
		Min: f(0),
	}

	report := gate.Evaluate(records, []Rule{rule}, nil)
	assert.True(t, report.Results[0].Passed, "97% passing clears a 0.95 threshold")
	assert.True(t, report.GatePassed)

	rule.Threshold = 0.99
	report = gate.Evaluate(records, []Rule{rule}, nil)
	assert.False(t, report.GatePassed)
}

func TestGateReferential(t *testing.T) {
	gate := NewGate(zaptest.NewLogger(t))

	reference := map[models.IdentityKey]struct{}{"known": {}}
	records := []*models.UnifiedRecord{
		unified("known", models.LayerMarts, map[string]interface{}{models.FieldCompanyName: "A"}),
		unified("orphan", models.LayerMarts, map[string]interface{}{models.FieldCompanyName: "B"}),
	}

	report := gate.Evaluate(records, []Rule{{
		Name: "identity_in_bronze", TargetLayer: models.LayerMarts,
		Kind: RuleReferential, Column: IdentityColumn,
		Threshold: 1.0, Severity: SeverityHard,
	}}, reference)

	assert.Equal(t, 1, report.Results[0].FailCount)
	assert.False(t, report.GatePassed)
}

func TestGateDoesNotMutateRecords(t *testing.T) {
	gate := NewGate(zaptest.NewLogger(t))

	records := []*models.UnifiedRecord{
		unified("a", models.LayerRaw, map[string]interface{}{models.FieldCompanyName: "ACME", models.FieldRevenue: nil}),
	}

	before := len(records[0].Fields)
	gate.Evaluate(records, DefaultRawRules(), nil)
	gate.Evaluate(records, DefaultBronzeRules(), nil)

	assert.Len(t, records, 1)
	assert.Len(t, records[0].Fields, before)
	assert.Equal(t, "ACME", records[0].Fields[models.FieldCompanyName])
}

func TestGateEmptyRecordSet(t *testing.T) {
	gate := NewGate(zaptest.NewLogger(t))
	report := gate.Evaluate(nil, DefaultRawRules(), nil)
	assert.True(t, report.GatePassed, "rules pass vacuously on an empty set")
}
