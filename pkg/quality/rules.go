// Package quality evaluates declarative validation rules against a layer's
// record set. The gate is stateless and side-effect-free: it never mutates or
// drops records, so the same implementation runs at the raw, bronze, and
// marts checkpoints with different rule sets. Dropping and fixing is the
// cleaning stage's job.
package quality

import (
	"time"

	"github.com/companyatlas/atlas/pkg/models"
)

// RuleKind is the check a validation rule performs.
type RuleKind string

const (
	// RuleNotNull requires the column to be populated.
	RuleNotNull RuleKind = "NOT_NULL"
	// RuleUnique requires column values to be distinct across the layer.
	RuleUnique RuleKind = "UNIQUE"
	// RuleRange requires numeric values to fall inside [Min, Max].
	RuleRange RuleKind = "RANGE"
	// RuleReferential requires the column value to exist in a reference set.
	RuleReferential RuleKind = "REFERENTIAL"
)

// Severity decides whether a failing rule blocks the run.
type Severity string

const (
	// SeverityHard failures below threshold fail the gate.
	SeverityHard Severity = "HARD"
	// SeveritySoft failures only produce a warning.
	SeveritySoft Severity = "SOFT"
)

// Rule is one declarative check against a target layer.
type Rule struct {
	// Name identifies the rule in reports and logs.
	Name string `yaml:"name" json:"name"`
	// TargetLayer is the layer whose output this rule gates.
	TargetLayer models.Layer `yaml:"target_layer" json:"target_layer"`
	// Kind selects the check.
	Kind RuleKind `yaml:"kind" json:"kind"`
	// Column is the checked column. UNIQUE on the identity key uses the
	// reserved column name "identity_key".
	Column string `yaml:"column" json:"column"`
	// Threshold is the minimum pass ratio in [0, 1]. 1.0 means every record
	// must pass.
	Threshold float64 `yaml:"threshold" json:"threshold"`
	// Severity is HARD or SOFT.
	Severity Severity `yaml:"severity" json:"severity"`
	// Min and Max bound RANGE rules. Nil means unbounded on that side.
	Min *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty" json:"max,omitempty"`
}

// IdentityColumn is the reserved column name addressing the record's
// identity key rather than a data field.
const IdentityColumn = "identity_key"

// f is shorthand for optional rule bounds.
func f(v float64) *float64 { return &v }

// DefaultRawRules gates the raw layer: merged records must carry a name, a
// provenance tag, and a unique identity.
func DefaultRawRules() []Rule {
	return []Rule{
		{Name: "raw_company_name_not_null", TargetLayer: models.LayerRaw, Kind: RuleNotNull, Column: models.FieldCompanyName, Threshold: 1.0, Severity: SeverityHard},
		{Name: "raw_country_not_null", TargetLayer: models.LayerRaw, Kind: RuleNotNull, Column: models.FieldCountry, Threshold: 1.0, Severity: SeverityHard},
		{Name: "raw_identity_unique", TargetLayer: models.LayerRaw, Kind: RuleUnique, Column: IdentityColumn, Threshold: 1.0, Severity: SeverityHard},
	}
}

// DefaultBronzeRules gates the bronze layer. The range thresholds mirror the
// original expectation suite: 95% of populated values in range, with
// out-of-range values already nulled by the cleaner.
func DefaultBronzeRules() []Rule {
	return []Rule{
		{Name: "bronze_company_name_not_null", TargetLayer: models.LayerBronze, Kind: RuleNotNull, Column: models.FieldCompanyName, Threshold: 1.0, Severity: SeverityHard},
		{Name: "bronze_identity_unique", TargetLayer: models.LayerBronze, Kind: RuleUnique, Column: IdentityColumn, Threshold: 1.0, Severity: SeverityHard},
		{Name: "bronze_founded_year_range", TargetLayer: models.LayerBronze, Kind: RuleRange, Column: models.FieldFoundedYear, Threshold: 0.95, Severity: SeveritySoft, Min: f(1800), Max: f(float64(time.Now().Year()))},
		{Name: "bronze_employee_count_non_negative", TargetLayer: models.LayerBronze, Kind: RuleRange, Column: models.FieldEmployeeCount, Threshold: 0.95, Severity: SeveritySoft, Min: f(0)},
		{Name: "bronze_fortune_rank_range", TargetLayer: models.LayerBronze, Kind: RuleRange, Column: models.FieldFortuneRank, Threshold: 0.95, Severity: SeveritySoft, Min: f(1), Max: f(1000)},
	}
}

// DefaultMartsRules gates the published table. The unique threshold mirrors
// the original expectation suite; exact per-layer uniqueness is separately
// guarded as an integrity invariant upstream.
func DefaultMartsRules() []Rule {
	return []Rule{
		{Name: "marts_company_id_unique", TargetLayer: models.LayerMarts, Kind: RuleUnique, Column: IdentityColumn, Threshold: 0.99, Severity: SeverityHard},
		{Name: "marts_company_name_not_null", TargetLayer: models.LayerMarts, Kind: RuleNotNull, Column: models.FieldCompanyName, Threshold: 1.0, Severity: SeverityHard},
		{Name: "marts_identity_in_bronze", TargetLayer: models.LayerMarts, Kind: RuleReferential, Column: IdentityColumn, Threshold: 1.0, Severity: SeverityHard},
	}
}

// DefaultRules returns the default rule set for a layer.
func DefaultRules(layer models.Layer) []Rule {
	switch layer {
	case models.LayerRaw:
		return DefaultRawRules()
	case models.LayerBronze:
		return DefaultBronzeRules()
	case models.LayerMarts:
		return DefaultMartsRules()
	default:
		return nil
	}
}
