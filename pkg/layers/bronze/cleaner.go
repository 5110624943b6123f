// Package bronze cleans the raw layer into typed, trustworthy records.
// Cleaning is deterministic and value-preserving: it coerces types,
// normalizes casing, and nulls out-of-range values. It never invents data
// and never clamps a bad value to a boundary.
package bronze

import (
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/companyatlas/atlas/pkg/models"
)

// dateLayouts are accepted textual forms for metric_date, tried in order.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
}

// Stats counts record and field-level outcomes of one cleaning pass.
type Stats struct {
	Input         int // raw records received
	Output        int // bronze records emitted
	DroppedNoName int // records dropped for an empty name after cleaning
	NulledValues  int // field values nulled for failed casts or range violations
}

// Cleaner transforms raw records into the bronze layer.
type Cleaner struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewCleaner creates a bronze cleaner.
func NewCleaner(logger *zap.Logger) *Cleaner {
	return &Cleaner{
		logger: logger.With(zap.String("component", "bronze_cleaner")),
		now:    time.Now,
	}
}

// Clean emits a new bronze record set from the raw layer. The input is never
// mutated. Records whose company name is empty after cleaning are dropped
// and counted.
func (c *Cleaner) Clean(records []*models.UnifiedRecord) ([]*models.UnifiedRecord, *Stats) {
	stats := &Stats{Input: len(records)}
	out := make([]*models.UnifiedRecord, 0, len(records))

	for _, raw := range records {
		rec := raw.Clone(models.LayerBronze)
		c.cleanRecord(rec, stats)

		name, _ := rec.GetString(models.FieldCompanyName)
		if strings.TrimSpace(name) == "" {
			stats.DroppedNoName++
			c.logger.Warn("dropping record with empty name after cleaning",
				zap.String("identity_key", string(rec.IdentityKey)))
			continue
		}
		out = append(out, rec)
	}

	stats.Output = len(out)
	c.logger.Info("bronze layer cleaned",
		zap.Int("input", stats.Input),
		zap.Int("output", stats.Output),
		zap.Int("dropped_no_name", stats.DroppedNoName),
		zap.Int("nulled_values", stats.NulledValues))

	return out, stats
}

func (c *Cleaner) cleanRecord(rec *models.UnifiedRecord, stats *Stats) {
	currentYear := float64(c.now().Year())

	c.normalizeCase(rec, models.FieldCompanyName, strings.ToUpper)
	c.normalizeCase(rec, models.FieldCountry, strings.ToUpper)
	c.normalizeCase(rec, models.FieldWebsite, strings.ToLower)
	c.normalizeCase(rec, models.FieldDomain, strings.ToLower)

	c.coerceInt(rec, models.FieldEmployeeCount, stats)
	c.coerceInt(rec, models.FieldFoundedYear, stats)
	c.coerceInt(rec, models.FieldFortuneRank, stats)
	c.coerceFloat(rec, models.FieldRevenue, stats)
	c.coerceDate(rec, models.FieldMetricDate, stats)

	// Out-of-range values become null, never the nearest boundary.
	c.nullIfOutOfRange(rec, models.FieldFoundedYear, 1800, currentYear, stats)
	c.nullIfOutOfRange(rec, models.FieldFortuneRank, 1, 1000, stats)
	c.nullIfNegative(rec, models.FieldEmployeeCount, stats)
	c.nullIfNegative(rec, models.FieldRevenue, stats)
}

// normalizeCase applies fn to a populated string field, trimming surrounding
// whitespace first.
func (c *Cleaner) normalizeCase(rec *models.UnifiedRecord, field string, fn func(string) string) {
	s, ok := rec.GetString(field)
	if !ok {
		return
	}
	rec.Fields[field] = fn(strings.TrimSpace(s))
}

// coerceInt casts a field to int64. Numeric strings are parsed (thousands
// separators and surrounding whitespace tolerated); uncastable values are
// nulled and counted.
func (c *Cleaner) coerceInt(rec *models.UnifiedRecord, field string, stats *Stats) {
	v, ok := rec.Get(field)
	if !ok {
		return
	}
	switch n := v.(type) {
	case int64:
		return
	case int:
		rec.Fields[field] = int64(n)
	case float64:
		// Fractional observations for an integral column are uncastable.
		if n != float64(int64(n)) {
			c.nullField(rec, field, stats)
			return
		}
		rec.Fields[field] = int64(n)
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(n), ",", "")
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			c.nullField(rec, field, stats)
			return
		}
		rec.Fields[field] = parsed
	default:
		c.nullField(rec, field, stats)
	}
}

// coerceFloat casts a field to float64, tolerating currency-style strings
// ("$1,234.50").
func (c *Cleaner) coerceFloat(rec *models.UnifiedRecord, field string, stats *Stats) {
	v, ok := rec.Get(field)
	if !ok {
		return
	}
	switch n := v.(type) {
	case float64:
		return
	case int64:
		rec.Fields[field] = float64(n)
	case int:
		rec.Fields[field] = float64(n)
	case string:
		s := strings.TrimSpace(n)
		s = strings.TrimPrefix(s, "$")
		s = strings.ReplaceAll(s, ",", "")
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			c.nullField(rec, field, stats)
			return
		}
		rec.Fields[field] = parsed
	default:
		c.nullField(rec, field, stats)
	}
}

// coerceDate casts a field to time.Time, trying the accepted layouts.
func (c *Cleaner) coerceDate(rec *models.UnifiedRecord, field string, stats *Stats) {
	v, ok := rec.Get(field)
	if !ok {
		return
	}
	switch d := v.(type) {
	case time.Time:
		return
	case string:
		s := strings.TrimSpace(d)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				rec.Fields[field] = t
				return
			}
		}
		c.nullField(rec, field, stats)
	default:
		c.nullField(rec, field, stats)
	}
}

func (c *Cleaner) nullIfOutOfRange(rec *models.UnifiedRecord, field string, min, max float64, stats *Stats) {
	v, ok := rec.GetFloat(field)
	if !ok {
		return
	}
	if v < min || v > max {
		c.nullField(rec, field, stats)
	}
}

func (c *Cleaner) nullIfNegative(rec *models.UnifiedRecord, field string, stats *Stats) {
	v, ok := rec.GetFloat(field)
	if !ok {
		return
	}
	if v < 0 {
		c.nullField(rec, field, stats)
	}
}

func (c *Cleaner) nullField(rec *models.UnifiedRecord, field string, stats *Stats) {
	rec.Fields[field] = nil
	stats.NulledValues++
}
