//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"unify/internal/resolve/models"
	"unify/internal/resolve/store/postgres"
	id "unify/pkg/domain"
	"unify/pkg/platform/sentinel"
	"unify/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *postgres.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	ctx := context.Background()
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = postgres.New(s.pg.DB, s.pg.Pool)
	s.Require().NoError(s.store.EnsureSchema(ctx))

	_, err := s.pg.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id            BIGSERIAL PRIMARY KEY,
			contact_ref   TEXT NOT NULL,
			contact_email TEXT NOT NULL DEFAULT '',
			person_id     UUID
		)
	`)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.pg.TruncateTables(context.Background(),
		"orders", "staging_records", "resolution_runs")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) seedStaging(records ...models.StagingRecord) {
	ctx := context.Background()
	for _, r := range records {
		_, err := s.pg.DB.ExecContext(ctx, `
			INSERT INTO staging_records
				(source_id, source_ref, first_name, last_name, display_name,
				 email1, email2, email3, phone1, phone2, phone3,
				 address_line1, address_line2, city, state, zip, country,
				 company, crossref_source, crossref_value)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		`, r.SourceID, r.SourceRef, r.FirstName, r.LastName, r.DisplayName,
			r.Emails[0], r.Emails[1], r.Emails[2], r.Phones[0], r.Phones[1], r.Phones[2],
			r.AddressLine1, r.AddressLine2, r.City, r.State, r.Zip, r.Country,
			r.Company, r.CrossRefSource, r.CrossRefValue)
		s.Require().NoError(err)
	}
}

func (s *PostgresStoreSuite) generation(runID id.RunID) *models.Generation {
	personID := id.NewPersonID()
	householdID := id.NewHouseholdID()
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Generation{
		RunID: runID,
		Persons: []models.Person{
			{ID: personID, RunID: runID, DisplayName: "Jane Whitfield", FirstName: "Jane", LastName: "Whitfield", Confidence: 0.99, CreatedAt: now},
		},
		Emails: []models.EmailAddress{
			{PersonID: personID, RunID: runID, Address: "jane@x.com", IsPrimary: true},
		},
		Phones: []models.PhoneNumber{
			{PersonID: personID, RunID: runID, Digits: "4155550134", IsPrimary: true},
		},
		Addresses: []models.PostalAddress{
			{PersonID: personID, RunID: runID, Line1: "123 Main St", City: "Austin", State: "TX", Zip: "78701", IsPrimary: true},
		},
		Links: []models.SourceLink{
			{Key: id.SourceKey{SourceID: "crm", SourceRef: "c-1"}, PersonID: personID, RunID: runID, Method: models.MatchEmail, Confidence: 0.99},
		},
		Households: []models.Household{
			{ID: householdID, RunID: runID, Name: "Whitfield Household"},
		},
		Members: []models.Membership{
			{HouseholdID: householdID, PersonID: personID, RunID: runID, Role: models.RolePrimary},
		},
	}
}

func (s *PostgresStoreSuite) TestSnapshotOrderAndMapping() {
	ctx := context.Background()
	s.seedStaging(
		models.StagingRecord{
			SourceID: "crm", SourceRef: "c-1",
			FirstName: "Jane", LastName: "Whitfield",
			Emails: [3]string{"jane@x.com", "jane.w@work.com"},
			Phones: [3]string{"4155550134"},
			City:   "Austin", State: "TX", Zip: "78701",
			CrossRefSource: "loyalty", CrossRefValue: "L-9",
		},
		models.StagingRecord{SourceID: "pos", SourceRef: "p-1"},
	)

	records, err := s.store.Snapshot(ctx)
	s.Require().NoError(err)
	s.Require().Len(records, 2)

	s.Less(records[0].ID, records[1].ID)
	s.Equal("crm", records[0].SourceID)
	s.Equal("jane.w@work.com", records[0].Emails[1])
	s.Equal("4155550134", records[0].Phones[0])
	s.Equal("loyalty", records[0].CrossRefSource)
	s.Equal("pos", records[1].SourceID)
}

func (s *PostgresStoreSuite) TestGenerationLifecycle() {
	ctx := context.Background()
	runID := id.NewRunID()
	gen := s.generation(runID)

	s.Run("no current run before first swap", func() {
		_, err := s.store.CurrentRun(ctx)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("write then swap marks current", func() {
		s.Require().NoError(s.store.WriteGeneration(ctx, gen))
		s.Require().NoError(s.store.SwapGeneration(ctx, runID))

		current, err := s.store.CurrentRun(ctx)
		s.Require().NoError(err)
		s.Equal(runID, current)
	})

	s.Run("rewriting the same run is a duplicate", func() {
		s.ErrorIs(s.store.WriteGeneration(ctx, gen), sentinel.ErrDuplicate)
	})

	s.Run("swapping an unknown run fails", func() {
		s.ErrorIs(s.store.SwapGeneration(ctx, id.NewRunID()), sentinel.ErrNotFound)
	})

	s.Run("next swap purges the prior generation", func() {
		next := s.generation(id.NewRunID())
		s.Require().NoError(s.store.WriteGeneration(ctx, next))
		s.Require().NoError(s.store.SwapGeneration(ctx, next.RunID))

		current, err := s.store.CurrentRun(ctx)
		s.Require().NoError(err)
		s.Equal(next.RunID, current)

		var persons, links, households int
		s.Require().NoError(s.pg.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM persons").Scan(&persons))
		s.Require().NoError(s.pg.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM source_links").Scan(&links))
		s.Require().NoError(s.pg.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM households").Scan(&households))
		s.Equal(1, persons)
		s.Equal(1, links)
		s.Equal(1, households)
	})
}

func (s *PostgresStoreSuite) TestWriteGenerationPersistsAllEntitySets() {
	ctx := context.Background()
	runID := id.NewRunID()
	s.Require().NoError(s.store.WriteGeneration(ctx, s.generation(runID)))

	counts := map[string]int{}
	for _, table := range []string{"persons", "person_emails", "person_phones", "person_addresses", "source_links", "households", "household_members"} {
		var n int
		s.Require().NoError(s.pg.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n))
		counts[table] = n
	}
	for table, n := range counts {
		s.Equal(1, n, "table %s", table)
	}

	s.Run("uncommitted generation is not current", func() {
		_, err := s.store.CurrentRun(ctx)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *PostgresStoreSuite) TestWriteGenerationSurvivesDuplicateRows() {
	ctx := context.Background()
	runID := id.NewRunID()
	gen := s.generation(runID)

	// Two identical (person_id, address) rows trip the unique index during
	// COPY; the batch falls back to per-row inserts and the sibling row
	// must still land.
	personID := gen.Persons[0].ID
	gen.Emails = append(gen.Emails,
		models.EmailAddress{PersonID: personID, RunID: runID, Address: "jane@x.com"},
		models.EmailAddress{PersonID: personID, RunID: runID, Address: "jane.w@work.com"},
	)

	s.Require().NoError(s.store.WriteGeneration(ctx, gen))

	rows, err := s.pg.DB.QueryContext(ctx,
		"SELECT address FROM person_emails ORDER BY address")
	s.Require().NoError(err)
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var addr string
		s.Require().NoError(rows.Scan(&addr))
		addresses = append(addresses, addr)
	}
	s.Require().NoError(rows.Err())
	s.Equal([]string{"jane.w@work.com", "jane@x.com"}, addresses)
}

func (s *PostgresStoreSuite) TestWriteGenerationChunksLargeEntitySets() {
	ctx := context.Background()
	small := postgres.New(s.pg.DB, s.pg.Pool, postgres.WithBatchSize(2))

	runID := id.NewRunID()
	gen := s.generation(runID)
	personID := gen.Persons[0].ID
	for i := 0; i < 5; i++ {
		gen.Emails = append(gen.Emails, models.EmailAddress{
			PersonID: personID, RunID: runID,
			Address: fmt.Sprintf("alias-%d@x.com", i),
		})
	}

	s.Require().NoError(small.WriteGeneration(ctx, gen))

	var n int
	s.Require().NoError(s.pg.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM person_emails").Scan(&n))
	s.Equal(6, n)
}

func (s *PostgresStoreSuite) TestBackfill() {
	ctx := context.Background()
	runID := id.NewRunID()
	gen := s.generation(runID)
	s.Require().NoError(s.store.WriteGeneration(ctx, gen))
	s.Require().NoError(s.store.SwapGeneration(ctx, runID))

	_, err := s.pg.DB.ExecContext(ctx, `
		INSERT INTO orders (contact_ref, contact_email) VALUES
			('crm:c-1', ''),
			('unknown:z-9', ' JANE@X.COM '),
			('unknown:z-10', 'nobody@else.com')
	`)
	s.Require().NoError(err)

	table := models.FactTable{
		Name:         "orders",
		RefColumn:    "contact_ref",
		PersonColumn: "person_id",
		EmailColumn:  "contact_email",
	}

	s.Run("crosswalk and primary email link", func() {
		updated, err := s.store.Backfill(ctx, runID, table)
		s.Require().NoError(err)
		s.Equal(int64(2), updated)

		var unlinked int
		s.Require().NoError(s.pg.DB.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM orders WHERE person_id IS NULL").Scan(&unlinked))
		s.Equal(1, unlinked)
	})

	s.Run("second pass is idempotent", func() {
		updated, err := s.store.Backfill(ctx, runID, table)
		s.Require().NoError(err)
		s.Zero(updated)
	})

	s.Run("email fallback is off without an email column", func() {
		_, err := s.pg.DB.ExecContext(ctx,
			"INSERT INTO orders (contact_ref, contact_email) VALUES ('unknown:q', 'jane@x.com')")
		s.Require().NoError(err)

		updated, err := s.store.Backfill(ctx, runID, models.FactTable{
			Name: "orders", RefColumn: "contact_ref", PersonColumn: "person_id",
		})
		s.Require().NoError(err)
		s.Zero(updated)
	})
}
