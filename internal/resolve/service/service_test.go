package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"unify/internal/resolve/backfill"
	"unify/internal/resolve/models"
	"unify/internal/resolve/store/memory"
	id "unify/pkg/domain"
	"unify/pkg/platform/sentinel"
)

// recordingPublisher captures swap announcements for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.RunStats
	fail   bool
}

func (p *recordingPublisher) GenerationSwapped(_ context.Context, stats *models.RunStats) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker unreachable")
	}
	p.events = append(p.events, stats)
	return nil
}

func (p *recordingPublisher) Close() {}

type ResolverSuite struct {
	suite.Suite
	store *memory.Store
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverSuite))
}

func (s *ResolverSuite) SetupTest() {
	s.store = memory.New()
}

func (s *ResolverSuite) seedHousehold() {
	s.store.SeedStaging([]models.StagingRecord{
		{
			ID: 1, SourceID: "crm", SourceRef: "c-1",
			FirstName: "Jane", LastName: "Whitfield",
			Emails:       [3]string{"jane@x.com"},
			AddressLine1: "123 Main St", City: "Austin", State: "TX", Zip: "78701",
		},
		{
			ID: 2, SourceID: "pos", SourceRef: "p-1",
			Emails: [3]string{"JANE@X.COM"},
			Phones: [3]string{"(415) 555-0134"},
		},
		{
			ID: 3, SourceID: "crm", SourceRef: "c-2",
			FirstName: "Mark", LastName: "Whitfield",
			Phones:       [3]string{"415-555-0199"},
			AddressLine1: "123 Main Street", City: "Austin", State: "TX", Zip: "78701",
		},
	})
}

func (s *ResolverSuite) newResolver(opts ...Option) *Resolver {
	r, err := New(s.store, s.store, opts...)
	s.Require().NoError(err)
	return r
}

func (s *ResolverSuite) TestNew() {
	s.Run("missing stores fail", func() {
		_, err := New(nil, s.store)
		s.Error(err)
		_, err = New(s.store, nil)
		s.Error(err)
	})

	s.Run("cluster cap below one fails", func() {
		_, err := New(s.store, s.store, WithClusterCap(0))
		s.Error(err)
		s.Contains(err.Error(), "size cap")
	})
}

func (s *ResolverSuite) TestRunProducesLiveGeneration() {
	ctx := context.Background()
	s.seedHousehold()

	stats, err := s.newResolver().Run(ctx)
	s.Require().NoError(err)

	s.Equal(3, stats.StagingRecords)
	s.Equal(2, stats.Clusters)
	s.Equal(2, stats.Persons)
	s.Equal(3, stats.SourceLinks)
	s.Equal(1, stats.Households)
	s.Zero(stats.CappedMerges)

	current, err := s.store.CurrentRun(ctx)
	s.Require().NoError(err)
	s.Equal(stats.RunID, current)

	gen, ok := s.store.Generation(stats.RunID)
	s.Require().True(ok)
	s.Len(gen.Persons, 2)
	s.Len(gen.Links, 3)

	s.Run("every staging record has exactly one source link", func() {
		seen := make(map[id.SourceKey]int)
		for _, link := range gen.Links {
			seen[link.Key]++
		}
		s.Len(seen, 3)
		for key, n := range seen {
			s.Equal(1, n, "key %s", key)
		}
	})

	s.Run("link confidence reflects the strongest cluster signal", func() {
		byKey := make(map[id.SourceKey]models.SourceLink)
		for _, link := range gen.Links {
			byKey[link.Key] = link
		}
		jane := byKey[id.SourceKey{SourceID: "crm", SourceRef: "c-1"}]
		pos := byKey[id.SourceKey{SourceID: "pos", SourceRef: "p-1"}]
		s.Equal(models.MatchEmail, jane.Method)
		s.Equal(models.MatchEmail, pos.Method)
		s.InDelta(models.ConfidenceEmail, jane.Confidence, 1e-9)
		s.InDelta(models.ConfidenceEmail, pos.Confidence, 1e-9)
	})

	s.Run("both persons share one address household", func() {
		s.Require().Len(gen.Households, 1)
		s.Equal("Whitfield Household", gen.Households[0].Name)
		s.Len(gen.Members, 2)
	})
}

func (s *ResolverSuite) TestRunReplacesPriorGeneration() {
	ctx := context.Background()
	s.seedHousehold()
	resolver := s.newResolver()

	first, err := resolver.Run(ctx)
	s.Require().NoError(err)
	second, err := resolver.Run(ctx)
	s.Require().NoError(err)
	s.NotEqual(first.RunID, second.RunID)

	_, ok := s.store.Generation(first.RunID)
	s.False(ok, "prior generation must be purged after swap")

	current, err := s.store.CurrentRun(ctx)
	s.Require().NoError(err)
	s.Equal(second.RunID, current)
}

func (s *ResolverSuite) TestEmptySnapshotFailsBeforeTouchingOutput() {
	ctx := context.Background()

	_, err := s.newResolver().Run(ctx)
	s.ErrorIs(err, sentinel.ErrEmptySnapshot)

	_, err = s.store.CurrentRun(ctx)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ResolverSuite) TestClusterCapFlowsThrough() {
	ctx := context.Background()
	s.store.SeedStaging([]models.StagingRecord{
		{ID: 1, SourceID: "a", SourceRef: "1", Emails: [3]string{"shared@x.com"}},
		{ID: 2, SourceID: "a", SourceRef: "2", Emails: [3]string{"shared@x.com"}},
		{ID: 3, SourceID: "a", SourceRef: "3", Emails: [3]string{"shared@x.com"}},
	})

	stats, err := s.newResolver(WithClusterCap(2)).Run(ctx)
	s.Require().NoError(err)
	s.Equal(2, stats.Clusters)
	s.Equal(1, stats.CappedMerges)
}

func (s *ResolverSuite) TestBackfillRunsAfterSwap() {
	ctx := context.Background()
	s.seedHousehold()
	s.store.SeedFacts("orders", []*memory.FactRow{
		{Ref: "crm:c-1"},
		{Ref: "pos:p-1"},
		{Ref: "never:linked"},
	})

	runner, err := backfill.New(s.store, []models.FactTable{
		{Name: "orders", RefColumn: "contact_ref", PersonColumn: "person_id"},
	})
	s.Require().NoError(err)

	resolver := s.newResolver(WithBackfill(runner))

	stats, err := resolver.Run(ctx)
	s.Require().NoError(err)
	s.Equal(int64(2), stats.BackfillRows["orders"])

	s.Run("second run over linked facts updates nothing", func() {
		stats, err := resolver.Run(ctx)
		s.Require().NoError(err)
		s.Zero(stats.BackfillRows["orders"])
	})
}

func (s *ResolverSuite) TestAnnouncement() {
	ctx := context.Background()

	s.Run("stats are published after a successful swap", func() {
		s.seedHousehold()
		pub := &recordingPublisher{}
		stats, err := s.newResolver(WithAnnouncer(pub)).Run(ctx)
		s.Require().NoError(err)
		s.Require().Len(pub.events, 1)
		s.Equal(stats.RunID, pub.events[0].RunID)
	})

	s.Run("publish failure does not fail the run", func() {
		pub := &recordingPublisher{fail: true}
		_, err := s.newResolver(WithAnnouncer(pub)).Run(ctx)
		s.NoError(err)
	})
}

func (s *ResolverSuite) TestRejectedSignalCountsLogAtDebug() {
	ctx := context.Background()
	s.store.SeedStaging([]models.StagingRecord{
		{ID: 1, SourceID: "pos", SourceRef: "p-1", Emails: [3]string{"null"}, Phones: [3]string{"http://x.com"}},
	})

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	_, err := s.newResolver(WithLogger(log)).Run(ctx)
	s.Require().NoError(err)

	var rejectionLine string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, "normalization rejections") {
			rejectionLine = line
			break
		}
	}
	s.Require().NotEmpty(rejectionLine, "rejection counts should be logged")
	s.Contains(rejectionLine, "level=DEBUG")
	s.Contains(rejectionLine, "rejected_emails=1")
	s.Contains(rejectionLine, "rejected_phones=1")
}

func (s *ResolverSuite) TestClockControlsTimestamps() {
	ctx := context.Background()
	s.seedHousehold()
	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	stats, err := s.newResolver(WithClock(func() time.Time { return frozen })).Run(ctx)
	s.Require().NoError(err)
	s.Zero(stats.Duration)

	gen, ok := s.store.Generation(stats.RunID)
	s.Require().True(ok)
	for _, p := range gen.Persons {
		s.Equal(frozen, p.CreatedAt)
	}
}
