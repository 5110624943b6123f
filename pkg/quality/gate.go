package quality

import (
	"go.uber.org/zap"

	"github.com/companyatlas/atlas/pkg/models"
)

// RuleResult is the outcome of one rule over the full record set.
type RuleResult struct {
	Rule      Rule    `json:"rule"`
	PassCount int     `json:"pass_count"`
	FailCount int     `json:"fail_count"`
	PassRatio float64 `json:"pass_ratio"`
	Passed    bool    `json:"passed"`
}

// Report is the output of running every rule for a layer. GatePassed is the
// AND over HARD rules; SOFT failures are warnings only.
type Report struct {
	Layer      models.Layer `json:"layer"`
	Results    []RuleResult `json:"results"`
	GatePassed bool         `json:"gate_passed"`
}

// Warnings returns the SOFT rules that failed.
func (r *Report) Warnings() []RuleResult {
	var warnings []RuleResult
	for _, res := range r.Results {
		if !res.Passed && res.Rule.Severity == SeveritySoft {
			warnings = append(warnings, res)
		}
	}
	return warnings
}

// Gate evaluates rule sets against layer output.
type Gate struct {
	logger *zap.Logger
}

// NewGate creates a quality gate.
func NewGate(logger *zap.Logger) *Gate {
	return &Gate{logger: logger.With(zap.String("component", "quality_gate"))}
}

// Evaluate runs every rule against the record set and builds the report.
// Rules targeting other layers are skipped. The reference set feeds
// REFERENTIAL rules and may be nil when no rule needs it.
func (g *Gate) Evaluate(records []*models.UnifiedRecord, rules []Rule, reference map[models.IdentityKey]struct{}) *Report {
	report := &Report{GatePassed: true}
	if len(records) > 0 {
		report.Layer = records[0].Layer
	}

	for _, rule := range rules {
		if len(records) > 0 && rule.TargetLayer != report.Layer {
			continue
		}

		result := g.evaluateRule(records, rule, reference)
		report.Results = append(report.Results, result)

		if !result.Passed {
			if rule.Severity == SeverityHard {
				report.GatePassed = false
				g.logger.Error("hard rule failed",
					zap.String("rule", rule.Name),
					zap.Int("pass_count", result.PassCount),
					zap.Int("fail_count", result.FailCount),
					zap.Float64("threshold", rule.Threshold))
			} else {
				g.logger.Warn("soft rule failed",
					zap.String("rule", rule.Name),
					zap.Int("fail_count", result.FailCount),
					zap.Float64("pass_ratio", result.PassRatio))
			}
		}
	}

	return report
}

func (g *Gate) evaluateRule(records []*models.UnifiedRecord, rule Rule, reference map[models.IdentityKey]struct{}) RuleResult {
	result := RuleResult{Rule: rule}

	switch rule.Kind {
	case RuleNotNull:
		for _, rec := range records {
			if _, ok := rec.Get(rule.Column); ok {
				result.PassCount++
			} else {
				result.FailCount++
			}
		}

	case RuleUnique:
		seen := make(map[interface{}]int, len(records))
		for _, rec := range records {
			seen[g.columnValue(rec, rule.Column)]++
		}
		for _, rec := range records {
			if seen[g.columnValue(rec, rule.Column)] == 1 {
				result.PassCount++
			} else {
				result.FailCount++
			}
		}

	case RuleRange:
		// Unpopulated values are out of a RANGE rule's scope; the cleaner
		// already nulled out-of-range inputs and NOT_NULL owns presence.
		for _, rec := range records {
			v, ok := rec.GetFloat(rule.Column)
			if !ok {
				result.PassCount++
				continue
			}
			if (rule.Min == nil || v >= *rule.Min) && (rule.Max == nil || v <= *rule.Max) {
				result.PassCount++
			} else {
				result.FailCount++
			}
		}

	case RuleReferential:
		for _, rec := range records {
			if _, ok := reference[rec.IdentityKey]; ok {
				result.PassCount++
			} else {
				result.FailCount++
			}
		}
	}

	total := result.PassCount + result.FailCount
	if total == 0 {
		// No records to check: vacuously passing.
		result.PassRatio = 1.0
	} else {
		result.PassRatio = float64(result.PassCount) / float64(total)
	}
	result.Passed = result.PassRatio >= rule.Threshold

	return result
}

// columnValue resolves a rule column against a record, honoring the reserved
// identity_key column.
func (g *Gate) columnValue(rec *models.UnifiedRecord, column string) interface{} {
	if column == IdentityColumn {
		return rec.IdentityKey
	}
	return rec.Fields[column]
}
