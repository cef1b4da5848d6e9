// Package store defines the persistence ports for the resolution engine.
// Interfaces live here because they are consumed by the service, the
// backfill pass, and both the in-memory and PostgreSQL implementations.
package store

import (
	"context"

	"unify/internal/resolve/models"
	id "unify/pkg/domain"
)

// StagingSource provides the complete staging snapshot, ordered by staging
// id. Order is load-bearing: every downstream tie-break assumes a stable
// input sequence.
type StagingSource interface {
	Snapshot(ctx context.Context) ([]models.StagingRecord, error)
}

// CanonicalStore persists generations of canonical entities. A generation
// is written fully before the swap makes it current; a failed write leaves
// the prior generation untouched.
type CanonicalStore interface {
	// WriteGeneration persists every row of the generation, tagged with
	// its run id. Duplicate-key collisions are skipped per-row, not
	// surfaced as failures.
	WriteGeneration(ctx context.Context, gen *models.Generation) error

	// SwapGeneration atomically marks runID current and removes rows
	// belonging to prior generations. Readers never observe a partial
	// generation.
	SwapGeneration(ctx context.Context, runID id.RunID) error

	// CurrentRun reports the generation downstream readers see, or
	// sentinel.ErrNotFound before the first successful swap.
	CurrentRun(ctx context.Context) (id.RunID, error)
}

// FactStore stamps resolved person ids onto transactional and engagement
// fact rows that carry an embedded source reference ("source:ref" form).
// The pass is idempotent: it only ever fills null person references.
type FactStore interface {
	Backfill(ctx context.Context, runID id.RunID, table models.FactTable) (int64, error)
}
