// Package postgres persists canonical generations in PostgreSQL. Reads,
// the swap, and backfill run through database/sql; the bulk generation
// load goes through pgx CopyFrom, which is the right tool for rewriting
// every canonical row each run.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "embed"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"unify/internal/resolve/models"
	id "unify/pkg/domain"
	"unify/pkg/platform/retry"
	"unify/pkg/platform/sentinel"
)

//go:embed schema.sql
var schemaSQL string

// DefaultBatchSize bounds how many rows one COPY carries. Smaller batches
// keep a duplicate-key downgrade from re-inserting the whole entity set
// row by row.
const DefaultBatchSize = 500

// Store implements the staging source, canonical store, and fact store
// ports over PostgreSQL.
type Store struct {
	db        *sql.DB
	pool      *pgxpool.Pool
	retry     retry.Policy
	batchSize int
}

// Option configures a Store.
type Option func(*Store)

// WithRetryPolicy overrides the backoff policy for batched writes.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Store) { s.retry = p }
}

// WithBatchSize overrides the per-COPY row count. Non-positive values keep
// the default.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// New constructs a PostgreSQL-backed store. Both handles point at the same
// database: db carries reads, the swap transaction, and backfill; pool
// carries the COPY-based generation load.
func New(db *sql.DB, pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		db:        db,
		pool:      pool,
		retry:     retry.New(retry.WithRetryable(isTransient)),
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the canonical tables when absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Snapshot loads the full staging set ordered by id. The order is the
// input sequence every downstream tie-break depends on.
func (s *Store) Snapshot(ctx context.Context) ([]models.StagingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, source_ref, first_name, last_name, display_name,
		       email1, email2, email3, phone1, phone2, phone3,
		       address_line1, address_line2, city, state, zip, country,
		       company, crossref_source, crossref_value
		FROM staging_records
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("load staging snapshot: %w", err)
	}
	defer rows.Close()

	var records []models.StagingRecord
	for rows.Next() {
		var r models.StagingRecord
		err := rows.Scan(
			&r.ID, &r.SourceID, &r.SourceRef, &r.FirstName, &r.LastName, &r.DisplayName,
			&r.Emails[0], &r.Emails[1], &r.Emails[2], &r.Phones[0], &r.Phones[1], &r.Phones[2],
			&r.AddressLine1, &r.AddressLine2, &r.City, &r.State, &r.Zip, &r.Country,
			&r.Company, &r.CrossRefSource, &r.CrossRefValue,
		)
		if err != nil {
			return nil, fmt.Errorf("scan staging record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate staging snapshot: %w", err)
	}
	return records, nil
}

// WriteGeneration loads every canonical row of the generation tagged with
// its run id. The run starts uncommitted (is_current false); nothing is
// visible to readers until SwapGeneration. Each entity set is copied in
// bulk; a unique-key collision downgrades that set to per-row inserts so a
// poisoned row does not block its siblings.
func (s *Store) WriteGeneration(ctx context.Context, gen *models.Generation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resolution_runs (run_id, started_at, is_current)
		VALUES ($1, $2, FALSE)
	`, uuid.UUID(gen.RunID), time.Now())
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("run %s already written: %w", gen.RunID, sentinel.ErrDuplicate)
		}
		return fmt.Errorf("register run: %w", err)
	}

	type writer struct {
		name string
		fn   func(context.Context, *models.Generation) error
	}
	// persons and households must land before their dependents; within a
	// stage the entity sets are independent and load in parallel.
	stages := [][]writer{
		{
			{"persons", s.copyPersons},
			{"households", s.copyHouseholds},
		},
		{
			{"person_emails", s.copyEmails},
			{"person_phones", s.copyPhones},
			{"person_addresses", s.copyAddresses},
			{"source_links", s.copyLinks},
			{"household_members", s.copyMembers},
		},
	}
	for _, stage := range stages {
		g, gctx := errgroup.WithContext(ctx)
		for _, w := range stage {
			g.Go(func() error {
				err := s.retry.Do(gctx, func(ctx context.Context) error {
					return w.fn(ctx, gen)
				})
				if err != nil {
					return fmt.Errorf("write %s: %w", w.name, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) copyPersons(ctx context.Context, gen *models.Generation) error {
	rows := make([][]any, len(gen.Persons))
	for i, p := range gen.Persons {
		rows[i] = []any{uuid.UUID(p.ID), uuid.UUID(p.RunID), p.DisplayName, p.FirstName, p.LastName, p.Confidence, p.CreatedAt}
	}
	return s.copyRows(ctx, "persons",
		[]string{"id", "run_id", "display_name", "first_name", "last_name", "confidence", "created_at"}, rows)
}

func (s *Store) copyEmails(ctx context.Context, gen *models.Generation) error {
	rows := make([][]any, len(gen.Emails))
	for i, e := range gen.Emails {
		rows[i] = []any{uuid.UUID(e.PersonID), uuid.UUID(e.RunID), e.Address, e.IsPrimary}
	}
	return s.copyRows(ctx, "person_emails",
		[]string{"person_id", "run_id", "address", "is_primary"}, rows)
}

func (s *Store) copyPhones(ctx context.Context, gen *models.Generation) error {
	rows := make([][]any, len(gen.Phones))
	for i, p := range gen.Phones {
		rows[i] = []any{uuid.UUID(p.PersonID), uuid.UUID(p.RunID), p.Digits, p.IsPrimary}
	}
	return s.copyRows(ctx, "person_phones",
		[]string{"person_id", "run_id", "digits", "is_primary"}, rows)
}

func (s *Store) copyAddresses(ctx context.Context, gen *models.Generation) error {
	rows := make([][]any, len(gen.Addresses))
	for i, a := range gen.Addresses {
		rows[i] = []any{uuid.UUID(a.PersonID), uuid.UUID(a.RunID), a.Line1, a.Line2, a.City, a.State, a.Zip, a.Country, a.IsPrimary}
	}
	return s.copyRows(ctx, "person_addresses",
		[]string{"person_id", "run_id", "line1", "line2", "city", "state", "zip", "country", "is_primary"}, rows)
}

func (s *Store) copyLinks(ctx context.Context, gen *models.Generation) error {
	rows := make([][]any, len(gen.Links))
	for i, l := range gen.Links {
		rows[i] = []any{l.Key.SourceID, l.Key.SourceRef, uuid.UUID(l.PersonID), uuid.UUID(l.RunID), string(l.Method), l.Confidence}
	}
	return s.copyRows(ctx, "source_links",
		[]string{"source_id", "source_ref", "person_id", "run_id", "match_method", "confidence"}, rows)
}

func (s *Store) copyHouseholds(ctx context.Context, gen *models.Generation) error {
	rows := make([][]any, len(gen.Households))
	for i, h := range gen.Households {
		rows[i] = []any{uuid.UUID(h.ID), uuid.UUID(h.RunID), h.Name}
	}
	return s.copyRows(ctx, "households", []string{"id", "run_id", "name"}, rows)
}

func (s *Store) copyMembers(ctx context.Context, gen *models.Generation) error {
	rows := make([][]any, len(gen.Members))
	for i, m := range gen.Members {
		rows[i] = []any{uuid.UUID(m.HouseholdID), uuid.UUID(m.PersonID), uuid.UUID(m.RunID), string(m.Role)}
	}
	return s.copyRows(ctx, "household_members",
		[]string{"household_id", "person_id", "run_id", "role"}, rows)
}

// copyRows bulk-loads one entity set in batchSize chunks. COPY aborts
// wholesale on the first constraint violation, so a duplicate key downgrades
// that chunk to row-by-row inserts with ON CONFLICT DO NOTHING.
func (s *Store) copyRows(ctx context.Context, table string, columns []string, rows [][]any) error {
	for start := 0; start < len(rows); start += s.batchSize {
		batch := rows[start:min(start+s.batchSize, len(rows))]
		_, err := s.pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(batch))
		if err == nil {
			continue
		}
		if !isDuplicateKey(err) {
			return err
		}
		if err := s.insertRowByRow(ctx, table, columns, batch); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insertRowByRow(ctx context.Context, table string, columns []string, rows [][]any) error {
	query := insertOnConflictNothing(table, columns)
	for _, row := range rows {
		if _, err := s.pool.Exec(ctx, query, row...); err != nil {
			return fmt.Errorf("insert %s row: %w", table, err)
		}
	}
	return nil
}

func insertOnConflictNothing(table string, columns []string) string {
	cols := ""
	params := ""
	for i, c := range columns {
		if i > 0 {
			cols += ", "
			params += ", "
		}
		cols += c
		params += fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING", table, cols, params)
}

// SwapGeneration makes runID the current generation and purges every prior
// generation's rows in one transaction. Readers either see the old
// generation or the new one, never a mix.
func (s *Store) SwapGeneration(ctx context.Context, runID id.RunID) error {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin swap: %w", err)
	}
	defer dbtx.Rollback()

	run := uuid.UUID(runID)

	// Clear before set: flipping both flags in one statement can trip the
	// partial unique index mid-statement.
	_, err = dbtx.ExecContext(ctx, `
		UPDATE resolution_runs SET is_current = FALSE
		WHERE is_current AND run_id <> $1
	`, run)
	if err != nil {
		return fmt.Errorf("clear current run: %w", err)
	}
	res, err := dbtx.ExecContext(ctx, `
		UPDATE resolution_runs
		SET is_current = TRUE, completed_at = NOW()
		WHERE run_id = $1
	`, run)
	if err != nil {
		return fmt.Errorf("mark run current: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s was never written: %w", runID, sentinel.ErrNotFound)
	}

	// Dependents first, then owners, then stale run rows.
	purges := []string{
		"DELETE FROM household_members WHERE run_id <> $1",
		"DELETE FROM households WHERE run_id <> $1",
		"DELETE FROM source_links WHERE run_id <> $1",
		"DELETE FROM person_addresses WHERE run_id <> $1",
		"DELETE FROM person_phones WHERE run_id <> $1",
		"DELETE FROM person_emails WHERE run_id <> $1",
		"DELETE FROM persons WHERE run_id <> $1",
		"DELETE FROM resolution_runs WHERE run_id <> $1",
	}
	for _, q := range purges {
		if _, err := dbtx.ExecContext(ctx, q, run); err != nil {
			return fmt.Errorf("purge prior generations: %w", err)
		}
	}

	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("commit swap: %w", err)
	}
	return nil
}

// CurrentRun reports the generation marked current.
func (s *Store) CurrentRun(ctx context.Context) (id.RunID, error) {
	var run uuid.UUID
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id FROM resolution_runs WHERE is_current
	`).Scan(&run)
	if err == sql.ErrNoRows {
		return id.RunID{}, sentinel.ErrNotFound
	}
	if err != nil {
		return id.RunID{}, fmt.Errorf("current run: %w", err)
	}
	return id.RunID(run), nil
}
