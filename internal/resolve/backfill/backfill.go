// Package backfill propagates resolved person identity onto transactional
// and engagement facts that still reference raw source records. The pass is
// idempotent and re-runnable: it fills only null person references and
// never reverses prior linkage.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"unify/internal/resolve/models"
	"unify/internal/resolve/store"
	id "unify/pkg/domain"
)

// Runner backfills a configured set of fact tables against one generation.
type Runner struct {
	facts  store.FactStore
	tables []models.FactTable
	logger *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New constructs a Runner over the given fact tables.
func New(facts store.FactStore, tables []models.FactTable, opts ...Option) (*Runner, error) {
	if facts == nil {
		return nil, fmt.Errorf("fact store is required")
	}
	r := &Runner{
		facts:  facts,
		tables: tables,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run backfills every configured table and returns updated-row counts per
// table. Tables are independent, so they run concurrently; the first
// failure cancels the rest.
func (r *Runner) Run(ctx context.Context, runID id.RunID) (map[string]int64, error) {
	counts := make(map[string]int64, len(r.tables))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for _, table := range r.tables {
		g.Go(func() error {
			updated, err := r.facts.Backfill(ctx, runID, table)
			if err != nil {
				return fmt.Errorf("backfill %s: %w", table.Name, err)
			}
			r.logger.Info("fact table backfilled",
				"table", table.Name,
				"rows_updated", updated,
			)
			mu.Lock()
			counts[table.Name] = updated
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return counts, nil
}
