// Package marts produces the final denormalized layer: per company, the
// cleaned dimension attributes joined with metrics reduced across all
// observations for that identity.
package marts

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/companyatlas/atlas/pkg/models"
)

// Stats counts outcomes of one aggregation pass.
type Stats struct {
	Dimensions     int // dimension records received
	Observations   int // metric observations received
	Emitted        int // marts records produced
	WithoutMetrics int // dimensions with no matching observation
}

// Aggregator joins reduced metrics onto cleaned dimensions.
type Aggregator struct {
	logger *zap.Logger
}

// NewAggregator creates a marts aggregator.
func NewAggregator(logger *zap.Logger) *Aggregator {
	return &Aggregator{logger: logger.With(zap.String("component", "marts_aggregator"))}
}

// Aggregate emits one marts record per dimension record. Observations sharing
// the dimension's identity are reduced with max() over each metric column
// independently, so every metric may come from its own most-informative
// snapshot rather than a single latest row. Dimensions with no observations
// still appear, with every metric column null (left join). Output is ordered
// by identity key.
func (a *Aggregator) Aggregate(dimensions, observations []*models.UnifiedRecord) ([]*models.UnifiedRecord, *Stats) {
	stats := &Stats{Dimensions: len(dimensions), Observations: len(observations)}

	metricsByKey := make(map[models.IdentityKey]map[string]interface{})
	for _, obs := range observations {
		reduced, ok := metricsByKey[obs.IdentityKey]
		if !ok {
			reduced = make(map[string]interface{}, len(models.MetricFields))
			metricsByKey[obs.IdentityKey] = reduced
		}
		for _, field := range models.MetricFields {
			v, populated := obs.Get(field)
			if !populated {
				continue
			}
			reduced[field] = reduceMax(reduced[field], v)
		}
	}

	out := make([]*models.UnifiedRecord, 0, len(dimensions))
	for _, dim := range dimensions {
		rec := dim.Clone(models.LayerMarts)

		reduced, matched := metricsByKey[dim.IdentityKey]
		if !matched {
			stats.WithoutMetrics++
		}
		for _, field := range models.MetricFields {
			v, ok := reduced[field]
			if !ok {
				v = nil
			}
			rec.Fields[field] = v
		}

		if last := latestObservation(observations, dim.IdentityKey); last.After(rec.LastUpdatedAt) {
			rec.LastUpdatedAt = last
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].IdentityKey < out[j].IdentityKey })

	stats.Emitted = len(out)
	a.logger.Info("marts layer aggregated",
		zap.Int("dimensions", stats.Dimensions),
		zap.Int("observations", stats.Observations),
		zap.Int("emitted", stats.Emitted),
		zap.Int("without_metrics", stats.WithoutMetrics))

	return out, stats
}

// reduceMax folds a new observation value into the running maximum for one
// metric column. The first populated value always wins over nothing.
func reduceMax(current, next interface{}) interface{} {
	if current == nil {
		return next
	}
	switch cur := current.(type) {
	case int64:
		if n, ok := toInt64(next); ok && n > cur {
			return n
		}
	case float64:
		if n, ok := toFloat64(next); ok && n > cur {
			return n
		}
	case time.Time:
		if n, ok := next.(time.Time); ok && n.After(cur) {
			return n
		}
	}
	return current
}

func toInt64(v interface{}) (int64, bool) {
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

func toFloat64(v interface{}) (float64, bool) {
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

func latestObservation(observations []*models.UnifiedRecord, key models.IdentityKey) time.Time {
	var last time.Time
	for _, obs := range observations {
		if obs.IdentityKey == key && obs.LastUpdatedAt.After(last) {
			last = obs.LastUpdatedAt
		}
	}
	return last
}
