// Package source defines the ingestion surface of the pipeline. A Source is
// a thin collaborator that reads an already-landed feed file and hands its
// records to the raw layer builder. Fetching bytes from the network is out of
// scope here; feeds land on disk before a run starts.
package source

import (
	"context"

	"github.com/companyatlas/atlas/pkg/models"
)

// Source yields the records of one ingestion feed. Implementations tag every
// record with their system name and a received_at timestamp, and represent
// missing optional fields as explicit nulls, never as absent keys.
type Source interface {
	// Name is the source_system tag applied to every record.
	Name() string
	// Read materializes the full feed. Record-level problems are the raw
	// builder's concern; Read fails only when the feed itself is unreadable.
	Read(ctx context.Context) ([]*models.SourceRecord, error)
}

// ReadAll drains every source into one unioned record slice, in the order the
// sources are given. A failing source fails the union.
func ReadAll(ctx context.Context, sources []Source) ([]*models.SourceRecord, error) {
	var records []*models.SourceRecord
	for _, src := range sources {
		batch, err := src.Read(ctx)
		if err != nil {
			return nil, err
		}
		records = append(records, batch...)
	}
	return records, nil
}
