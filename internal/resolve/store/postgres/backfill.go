package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"unify/internal/resolve/models"
	id "unify/pkg/domain"
	txcontext "unify/pkg/platform/tx"
)

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// execer prefers a context-carried transaction so callers can scope a
// backfill batch transactionally.
func (s *Store) execer(ctx context.Context) dbExecutor {
	if dbtx, ok := txcontext.From(ctx); ok {
		return dbtx
	}
	return s.db
}

// Backfill stamps resolved person ids onto one fact table. The exact
// crosswalk join runs first; rows it cannot reach optionally fall back to
// matching the row's embedded contact email against a primary email. Both
// statements only touch rows whose person column is NULL, so repeated
// invocations update nothing new.
func (s *Store) Backfill(ctx context.Context, runID id.RunID, table models.FactTable) (int64, error) {
	run := uuid.UUID(runID)
	tbl := pq.QuoteIdentifier(table.Name)
	refCol := pq.QuoteIdentifier(table.RefColumn)
	personCol := pq.QuoteIdentifier(table.PersonColumn)

	var total int64
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		total = 0
		res, err := s.execer(ctx).ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s f
			SET %s = sl.person_id
			FROM source_links sl
			WHERE f.%s IS NULL
			  AND sl.run_id = $1
			  AND f.%s = sl.source_id || ':' || sl.source_ref
		`, tbl, personCol, personCol, refCol), run)
		if err != nil {
			return fmt.Errorf("backfill %s by crosswalk: %w", table.Name, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("backfill %s rows affected: %w", table.Name, err)
		}
		total += n

		if table.EmailColumn == "" {
			return nil
		}
		emailCol := pq.QuoteIdentifier(table.EmailColumn)
		res, err = s.execer(ctx).ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s f
			SET %s = pe.person_id
			FROM person_emails pe
			WHERE f.%s IS NULL
			  AND pe.run_id = $1
			  AND pe.is_primary
			  AND LOWER(TRIM(f.%s)) = pe.address
		`, tbl, personCol, personCol, emailCol), run)
		if err != nil {
			return fmt.Errorf("backfill %s by primary email: %w", table.Name, err)
		}
		n, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("backfill %s rows affected: %w", table.Name, err)
		}
		total += n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
