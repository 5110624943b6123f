// Package models provides the data model for the Atlas pipeline: source
// records as handed in by ingestion collaborators, unified records as they
// move through the raw, bronze, and marts layers, and the column vocabulary
// shared by every stage.
package models

import (
	"time"
)

// Layer identifies a stage of cleaning and enrichment. Records carry their
// layer tag so that quality rules and publishers can target a specific stage.
type Layer string

const (
	// LayerRaw holds merged, deduplicated records straight out of the union
	// of all source streams.
	LayerRaw Layer = "RAW"
	// LayerBronze holds cleaned, cast, range-validated records.
	LayerBronze Layer = "BRONZE"
	// LayerMarts holds the final denormalized records with metrics joined.
	LayerMarts Layer = "MARTS"
)

// Well-known column names. Sources may carry any subset; missing optional
// fields are represented as nil values under the key, never as an absent key.
const (
	FieldCompanyName   = "company_name"
	FieldCountry       = "country"
	FieldTicker        = "ticker"
	FieldIndustry      = "industry"
	FieldEmployeeCount = "employee_count"
	FieldRevenue       = "revenue"
	FieldFoundedYear   = "founded_year"
	FieldCEO           = "ceo"
	FieldWebsite       = "website"
	FieldDomain        = "domain"
	FieldFortuneRank   = "fortune_rank"
	FieldMetricDate    = "metric_date"
	FieldHQCity        = "headquarters_city"
	FieldHQState       = "headquarters_state"
)

// DimensionFields are the descriptive attributes of a company. They are
// merged at the raw layer and cleaned at bronze.
var DimensionFields = []string{
	FieldCompanyName,
	FieldCountry,
	FieldTicker,
	FieldIndustry,
	FieldCEO,
	FieldFoundedYear,
	FieldWebsite,
	FieldDomain,
	FieldHQCity,
	FieldHQState,
}

// MetricFields are the observation attributes reduced independently at the
// marts layer. Each metric may come from its own most-informative snapshot.
var MetricFields = []string{
	FieldEmployeeCount,
	FieldRevenue,
	FieldFortuneRank,
	FieldMetricDate,
}

// IdentityKey is the deterministic canonical identity of one real-world
// company: hex(sha256(normalize(name) + "|" + normalize(country))). It is a
// pure function of its inputs and is never stored apart from the record it
// tags.
type IdentityKey string

// SourceRecord is one record as received from an ingestion collaborator.
// It is immutable once handed to the pipeline and is owned by the raw layer
// builder for the duration of one run.
type SourceRecord struct {
	// SourceSystem tags the originating feed (e.g. "fortune1000").
	SourceSystem string `json:"source_system"`
	// Fields holds the named attributes. Optional attributes that the feed
	// lacks are present with a nil value.
	Fields map[string]interface{} `json:"fields"`
	// ReceivedAt is when the collaborator handed the record in.
	ReceivedAt time.Time `json:"received_at"`
}

// Get returns the named field value. A nil value and a missing key are both
// reported as unpopulated.
func (r *SourceRecord) Get(name string) (interface{}, bool) {
	v, ok := r.Fields[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// PopulatedFields counts non-nil attributes. Used by the merge tie-break.
func (r *SourceRecord) PopulatedFields() int {
	n := 0
	for _, v := range r.Fields {
		if v != nil {
			n++
		}
	}
	return n
}

// UnifiedRecord is the merged, layer-tagged representation of one company.
// Exactly one UnifiedRecord exists per (identity_key, layer).
type UnifiedRecord struct {
	// IdentityKey is the canonical identity this record was merged under.
	IdentityKey IdentityKey `json:"identity_key"`
	// Fields holds the domain attributes, individually nullable.
	Fields map[string]interface{} `json:"fields"`
	// ContributingSources is the set of source tags merged into this record,
	// stored sorted for deterministic output.
	ContributingSources []string `json:"contributing_sources"`
	// Layer tags the stage this record belongs to.
	Layer Layer `json:"layer"`
	// LastUpdatedAt is the most recent ReceivedAt among contributors, bumped
	// when a later stage rewrites the record.
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// Get returns the named field value, treating nil as unpopulated.
func (u *UnifiedRecord) Get(name string) (interface{}, bool) {
	v, ok := u.Fields[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// GetString returns the named field as a string if populated.
func (u *UnifiedRecord) GetString(name string) (string, bool) {
	v, ok := u.Get(name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetInt returns the named field as an int64 if populated. Values already
// coerced at bronze are stored as int64.
func (u *UnifiedRecord) GetInt(name string) (int64, bool) {
	v, ok := u.Get(name)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

// GetFloat returns the named field as a float64 if populated.
func (u *UnifiedRecord) GetFloat(name string) (float64, bool) {
	v, ok := u.Get(name)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// GetTime returns the named field as a time.Time if populated.
func (u *UnifiedRecord) GetTime(name string) (time.Time, bool) {
	v, ok := u.Get(name)
	if !ok {
		return time.Time{}, false
	}
	t, ok := v.(time.Time)
	return t, ok
}

// Clone returns a deep copy with the given layer tag. Stages never mutate
// their input layer in place; they emit a new record set.
func (u *UnifiedRecord) Clone(layer Layer) *UnifiedRecord {
	fields := make(map[string]interface{}, len(u.Fields))
	for k, v := range u.Fields {
		fields[k] = v
	}
	sources := make([]string, len(u.ContributingSources))
	copy(sources, u.ContributingSources)
	return &UnifiedRecord{
		IdentityKey:         u.IdentityKey,
		Fields:              fields,
		ContributingSources: sources,
		Layer:               layer,
		LastUpdatedAt:       u.LastUpdatedAt,
	}
}
