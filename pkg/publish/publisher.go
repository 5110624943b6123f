// Package publish delivers the finished marts layer to query and export
// collaborators. Every publisher is replace-on-publish with atomic swap
// semantics: readers see either the previous complete table or the new
// complete table, never a partial write, and a failed publish leaves the
// previous table untouched.
package publish

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/companyatlas/atlas/pkg/models"
)

// Columns is the published table schema, in output order.
var Columns = []string{
	"company_id",
	"company_name",
	"ticker",
	"industry",
	"country",
	"headquarters_city",
	"headquarters_state",
	"ceo",
	"founded_year",
	"website",
	"employee_count",
	"revenue",
	"fortune_rank",
	"source_system",
	"last_updated_at",
}

// Publisher atomically replaces the published marts table.
type Publisher interface {
	Publish(ctx context.Context, records []*models.UnifiedRecord) error
}

// RowValues flattens one marts record into the published column order.
// company_id is the identity key; unpopulated fields come out nil.
func RowValues(rec *models.UnifiedRecord) []interface{} {
	row := make([]interface{}, len(Columns))
	for i, col := range Columns {
		switch col {
		case "company_id":
			row[i] = string(rec.IdentityKey)
		case "last_updated_at":
			row[i] = rec.LastUpdatedAt
		default:
			row[i] = rec.Fields[col]
		}
	}
	return row
}

// MemoryPublisher keeps the published table as an in-process snapshot for the
// status and query surface. The swap is a single pointer write under lock.
type MemoryPublisher struct {
	mu          sync.RWMutex
	snapshot    []*models.UnifiedRecord
	publishedAt time.Time
	logger      *zap.Logger
}

// NewMemoryPublisher creates an in-process snapshot publisher.
func NewMemoryPublisher(logger *zap.Logger) *MemoryPublisher {
	return &MemoryPublisher{
		logger: logger.With(zap.String("component", "memory_publisher")),
	}
}

// Publish swaps in the new table. The input slice is copied so later runs
// cannot reach back into a published snapshot.
func (p *MemoryPublisher) Publish(ctx context.Context, records []*models.UnifiedRecord) error {
	snapshot := make([]*models.UnifiedRecord, len(records))
	copy(snapshot, records)

	p.mu.Lock()
	p.snapshot = snapshot
	p.publishedAt = time.Now()
	p.mu.Unlock()

	p.logger.Info("marts table published", zap.Int("rows", len(snapshot)))
	return nil
}

// Snapshot returns the currently published table and its publish time. An
// empty table before the first successful run comes back as a nil slice.
func (p *MemoryPublisher) Snapshot() ([]*models.UnifiedRecord, time.Time) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot, p.publishedAt
}
