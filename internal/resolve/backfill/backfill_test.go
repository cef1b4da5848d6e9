package backfill

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"unify/internal/resolve/models"
	"unify/internal/resolve/store/memory"
	id "unify/pkg/domain"
)

type BackfillSuite struct {
	suite.Suite
	store *memory.Store
	runID id.RunID
}

func TestBackfillSuite(t *testing.T) {
	suite.Run(t, new(BackfillSuite))
}

func (s *BackfillSuite) SetupTest() {
	s.store = memory.New()
	s.runID = id.NewRunID()

	personID := id.NewPersonID()
	s.Require().NoError(s.store.WriteGeneration(context.Background(), &models.Generation{
		RunID:   s.runID,
		Persons: []models.Person{{ID: personID, RunID: s.runID}},
		Links: []models.SourceLink{
			{Key: id.SourceKey{SourceID: "crm", SourceRef: "c-1"}, PersonID: personID, RunID: s.runID},
		},
	}))
}

func (s *BackfillSuite) TestNew() {
	s.Run("nil fact store fails", func() {
		_, err := New(nil, nil)
		s.Error(err)
		s.Contains(err.Error(), "fact store is required")
	})

	s.Run("no tables is a valid no-op runner", func() {
		runner, err := New(s.store, nil)
		s.Require().NoError(err)
		counts, err := runner.Run(context.Background(), s.runID)
		s.NoError(err)
		s.Empty(counts)
	})
}

func (s *BackfillSuite) TestRun() {
	ctx := context.Background()
	s.store.SeedFacts("orders", []*memory.FactRow{{Ref: "crm:c-1"}, {Ref: "x:y"}})
	s.store.SeedFacts("visits", []*memory.FactRow{{Ref: "crm:c-1"}})

	tables := []models.FactTable{
		{Name: "orders", RefColumn: "ref", PersonColumn: "person_id"},
		{Name: "visits", RefColumn: "ref", PersonColumn: "person_id"},
	}
	runner, err := New(s.store, tables)
	s.Require().NoError(err)

	counts, err := runner.Run(ctx, s.runID)
	s.Require().NoError(err)
	s.Equal(map[string]int64{"orders": 1, "visits": 1}, counts)

	s.Run("unknown run fails the whole pass", func() {
		_, err := runner.Run(ctx, id.NewRunID())
		s.Error(err)
		s.Contains(err.Error(), "backfill")
	})
}
