// Package raw builds the raw layer: it unions the record streams of every
// configured source, resolves each record to its canonical identity, and
// merges records sharing an identity into one unified record per company.
//
// Merging is enrichment, not replacement. Candidates in a group are ranked by
// the tie-break tuple (populated fields desc, source priority asc, received_at
// desc); each attribute is taken from the first ranked candidate that has it,
// so a value set from a higher-ranked source is never overridden by a
// lower-ranked one, however recent.
package raw

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/companyatlas/atlas/pkg/errors"
	"github.com/companyatlas/atlas/pkg/identity"
	"github.com/companyatlas/atlas/pkg/models"
)

// EnrichmentPolicy controls where enrichment-only columns may be filled from.
type EnrichmentPolicy string

const (
	// PolicyCascade lets any ranked candidate fill a gap.
	PolicyCascade EnrichmentPolicy = "cascade"
	// PolicyStrict fills enrichment columns only from the designated
	// enrichment source; absence propagates as null.
	PolicyStrict EnrichmentPolicy = "strict"
)

// EnrichmentColumns are the attributes the strict policy restricts to the
// designated enrichment source.
var EnrichmentColumns = map[string]bool{
	models.FieldFoundedYear: true,
	models.FieldIndustry:    true,
}

// Config controls merge behavior for one run.
type Config struct {
	// SourcePriority is the fixed total order over known source tags; lower
	// rank wins ties. Unknown sources sort after all configured ones.
	SourcePriority []string
	// Policy selects the enrichment fallback behavior.
	Policy EnrichmentPolicy
	// EnrichmentSource names the secondary source the strict policy allows
	// for enrichment-only columns.
	EnrichmentSource string
	// Shards is the number of identity-key partitions merged in parallel.
	// Zero or one disables partitioning. Merging is per-group, so the result
	// is identical for any shard count.
	Shards int
}

// Stats counts record-level outcomes of one build.
type Stats struct {
	Ingested      int // records received across all sources
	Dropped       int // records that failed identity resolution
	Merged        int // groups with more than one contributor
	Emitted       int // unified records produced
	DropsBySource map[string]int
}

// Builder produces the raw layer from source record streams.
type Builder struct {
	cfg    Config
	rank   map[string]int
	logger *zap.Logger
}

// NewBuilder creates a raw layer builder. Source priority comes from
// configuration, never inferred from the data.
func NewBuilder(cfg Config, logger *zap.Logger) *Builder {
	rank := make(map[string]int, len(cfg.SourcePriority))
	for i, src := range cfg.SourcePriority {
		rank[src] = i
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyCascade
	}
	return &Builder{
		cfg:    cfg,
		rank:   rank,
		logger: logger.With(zap.String("component", "raw_builder")),
	}
}

// Build resolves, groups, and merges all records into the raw layer.
// Malformed records are dropped and counted, never silently ignored.
// The output is sorted by identity key so repeated runs over identical input
// are byte-identical downstream.
func (b *Builder) Build(ctx context.Context, records []*models.SourceRecord) ([]*models.UnifiedRecord, *Stats, error) {
	stats := &Stats{DropsBySource: make(map[string]int)}

	groups := make(map[models.IdentityKey][]*models.SourceRecord)
	for _, rec := range records {
		stats.Ingested++
		key, err := identity.Resolve(rec)
		if err != nil {
			stats.Dropped++
			stats.DropsBySource[rec.SourceSystem]++
			b.logger.Warn("dropping unresolvable record",
				zap.String("source_system", rec.SourceSystem),
				zap.Error(err))
			continue
		}
		groups[key] = append(groups[key], rec)
	}

	keys := make([]models.IdentityKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	merged, err := b.mergeGroups(ctx, keys, groups, stats)
	if err != nil {
		return nil, stats, err
	}

	stats.Emitted = len(merged)
	b.logger.Info("raw layer built",
		zap.Int("ingested", stats.Ingested),
		zap.Int("dropped", stats.Dropped),
		zap.Int("merged_groups", stats.Merged),
		zap.Int("emitted", stats.Emitted))

	return merged, stats, nil
}

// mergeGroups merges each identity group, optionally sharded across workers.
// Merge is per-group and groups are disjoint, so parallel execution cannot
// change the result.
func (b *Builder) mergeGroups(ctx context.Context, keys []models.IdentityKey, groups map[models.IdentityKey][]*models.SourceRecord, stats *Stats) ([]*models.UnifiedRecord, error) {
	out := make([]*models.UnifiedRecord, len(keys))

	shards := b.cfg.Shards
	if shards <= 1 || len(keys) < 2 {
		for i, key := range keys {
			rec := b.mergeGroup(key, groups[key])
			if len(groups[key]) > 1 {
				stats.Merged++
			}
			out[i] = rec
		}
		return out, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(shards)

	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return errors.Wrap(gctx.Err(), errors.ErrorTypeTimeout, "raw merge canceled")
			default:
			}
			rec := b.mergeGroup(key, groups[key])
			out[i] = rec
			if len(groups[key]) > 1 {
				mu.Lock()
				stats.Merged++
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// mergeGroup merges all records sharing one identity into a single unified
// record. Groups of size one pass through unchanged, tagged with their source.
func (b *Builder) mergeGroup(key models.IdentityKey, group []*models.SourceRecord) *models.UnifiedRecord {
	ranked := make([]*models.SourceRecord, len(group))
	copy(ranked, group)
	sort.SliceStable(ranked, func(i, j int) bool {
		return b.less(ranked[i], ranked[j])
	})

	fields := make(map[string]interface{})
	sourceSet := make(map[string]struct{}, len(ranked))
	last := ranked[0].ReceivedAt

	for _, candidate := range ranked {
		sourceSet[candidate.SourceSystem] = struct{}{}
		if candidate.ReceivedAt.After(last) {
			last = candidate.ReceivedAt
		}
		for name, value := range candidate.Fields {
			if value == nil {
				// Keep the column present with an explicit null.
				if _, exists := fields[name]; !exists {
					fields[name] = nil
				}
				continue
			}
			if existing, exists := fields[name]; exists && existing != nil {
				continue // enrichment, not replacement
			}
			if b.cfg.Policy == PolicyStrict && EnrichmentColumns[name] && candidate.SourceSystem != b.cfg.EnrichmentSource {
				// Only the designated secondary source may fill these;
				// leave the gap as null.
				if _, exists := fields[name]; !exists {
					fields[name] = nil
				}
				continue
			}
			fields[name] = value
		}
	}

	// Provenance of the dimension fields is the top-ranked contributor.
	fields["source_system"] = ranked[0].SourceSystem

	sources := make([]string, 0, len(sourceSet))
	for src := range sourceSet {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	return &models.UnifiedRecord{
		IdentityKey:         key,
		Fields:              fields,
		ContributingSources: sources,
		Layer:               models.LayerRaw,
		LastUpdatedAt:       last,
	}
}

// less orders candidates by the tie-break tuple
// (populated fields desc, source priority asc, received_at desc).
func (b *Builder) less(x, y *models.SourceRecord) bool {
	px, py := x.PopulatedFields(), y.PopulatedFields()
	if px != py {
		return px > py
	}
	rx, ry := b.sourceRank(x.SourceSystem), b.sourceRank(y.SourceSystem)
	if rx != ry {
		return rx < ry
	}
	return x.ReceivedAt.After(y.ReceivedAt)
}

func (b *Builder) sourceRank(source string) int {
	if r, ok := b.rank[source]; ok {
		return r
	}
	return len(b.rank)
}
