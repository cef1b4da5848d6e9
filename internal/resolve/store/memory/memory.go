// Package memory provides in-memory store implementations backing unit
// tests and local development, mirroring the PostgreSQL stores' contracts.
package memory

import (
	"context"
	"sort"
	"sync"

	"unify/internal/resolve/models"
	"unify/internal/resolve/normalize"
	id "unify/pkg/domain"
	"unify/pkg/platform/sentinel"
)

// FactRow is one transactional/engagement fact for backfill tests. Ref is
// the embedded source reference in "source:ref" form; PersonID is nil until
// the backfill pass links it.
type FactRow struct {
	Ref      string
	RawEmail string
	PersonID *id.PersonID
}

// Store implements store.StagingSource, store.CanonicalStore, and
// store.FactStore over process memory.
type Store struct {
	mu          sync.RWMutex
	staging     []models.StagingRecord
	generations map[id.RunID]*models.Generation
	current     id.RunID
	facts       map[string][]*FactRow
}

func New() *Store {
	return &Store{
		generations: make(map[id.RunID]*models.Generation),
		facts:       make(map[string][]*FactRow),
	}
}

// SeedStaging loads staging records, keeping snapshot order stable by id.
func (s *Store) SeedStaging(records []models.StagingRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staging = append(s.staging, records...)
	sort.SliceStable(s.staging, func(i, j int) bool {
		return s.staging[i].ID < s.staging[j].ID
	})
}

// SeedFacts registers fact rows for a table.
func (s *Store) SeedFacts(table string, rows []*FactRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts[table] = append(s.facts[table], rows...)
}

func (s *Store) Snapshot(_ context.Context) ([]models.StagingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.StagingRecord, len(s.staging))
	copy(out, s.staging)
	return out, nil
}

func (s *Store) WriteGeneration(_ context.Context, gen *models.Generation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.generations[gen.RunID]; exists {
		return sentinel.ErrDuplicate
	}
	s.generations[gen.RunID] = gen
	return nil
}

func (s *Store) SwapGeneration(_ context.Context, runID id.RunID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.generations[runID]; !ok {
		return sentinel.ErrNotFound
	}
	for existing := range s.generations {
		if existing != runID {
			delete(s.generations, existing)
		}
	}
	s.current = runID
	return nil
}

func (s *Store) CurrentRun(_ context.Context) (id.RunID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current.IsNil() {
		return id.RunID{}, sentinel.ErrNotFound
	}
	return s.current, nil
}

// Generation returns the stored generation for a run, for test assertions.
func (s *Store) Generation(runID id.RunID) (*models.Generation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gen, ok := s.generations[runID]
	return gen, ok
}

// Facts returns the rows of a fact table, for test assertions.
func (s *Store) Facts(table string) []*FactRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.facts[table]
}

// Backfill links fact rows by exact crosswalk reference, falling back to
// primary-email match when the table exposes a raw contact email. Only
// null person references are filled; linked rows are never touched again.
func (s *Store) Backfill(_ context.Context, runID id.RunID, table models.FactTable) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen, ok := s.generations[runID]
	if !ok {
		return 0, sentinel.ErrNotFound
	}

	links := make(map[string]id.PersonID, len(gen.Links))
	for _, link := range gen.Links {
		links[link.Key.String()] = link.PersonID
	}
	primaryEmails := make(map[string]id.PersonID)
	for _, email := range gen.Emails {
		if email.IsPrimary {
			primaryEmails[email.Address] = email.PersonID
		}
	}

	var updated int64
	for _, row := range s.facts[table.Name] {
		if row.PersonID != nil {
			continue
		}
		if personID, ok := links[row.Ref]; ok {
			pid := personID
			row.PersonID = &pid
			updated++
			continue
		}
		if table.EmailColumn == "" || row.RawEmail == "" {
			continue
		}
		if email, ok := normalize.Email(row.RawEmail); ok {
			if personID, ok := primaryEmails[email]; ok {
				pid := personID
				row.PersonID = &pid
				updated++
			}
		}
	}
	return updated, nil
}
