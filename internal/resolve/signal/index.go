// Package signal builds the per-run inverted indexes mapping each normalized
// identifier to the staging records that carry it. Indexes are constructed
// fresh for every run and discarded afterward.
//
// Iteration order matters: several downstream tie-breaks depend on the order
// signals were first observed, so each index keeps an explicit key slice in
// insertion order instead of relying on map iteration.
package signal

import (
	"unify/internal/resolve/models"
	"unify/internal/resolve/normalize"
)

// Index is one inverted index from a normalized key to record ordinals
// (positions in the ordered input snapshot).
type Index struct {
	keys    []string
	records map[string][]int
}

func newIndex() *Index {
	return &Index{records: make(map[string][]int)}
}

func (ix *Index) add(key string, ordinal int) {
	existing, seen := ix.records[key]
	if !seen {
		ix.keys = append(ix.keys, key)
	}
	// Ordinals arrive in input order; the same record repeating a value
	// (say, one email in two slots) must not count as two carriers.
	if n := len(existing); n > 0 && existing[n-1] == ordinal {
		return
	}
	ix.records[key] = append(ix.records[key], ordinal)
}

// Keys returns index keys in first-insertion order.
func (ix *Index) Keys() []string { return ix.keys }

// Records returns the ordinals carrying key, in input order.
func (ix *Index) Records(key string) []int { return ix.records[key] }

// Len returns the number of distinct keys.
func (ix *Index) Len() int { return len(ix.keys) }

// Indexes holds every signal index for one snapshot, plus rejection counts
// for run stats. CrossRef keys are "source:ref" composites so an exported
// back-reference and the record it points at land on the same key.
type Indexes struct {
	Email    *Index
	Phone    *Index
	CrossRef *Index
	NameZip  *Index

	RejectedEmails int
	RejectedPhones int
}

// Build walks the ordered snapshot once and populates all four indexes.
func Build(records []models.StagingRecord) *Indexes {
	ixs := &Indexes{
		Email:    newIndex(),
		Phone:    newIndex(),
		CrossRef: newIndex(),
		NameZip:  newIndex(),
	}
	for ordinal, rec := range records {
		for _, raw := range rec.Emails {
			if raw == "" {
				continue
			}
			if email, ok := normalize.Email(raw); ok {
				ixs.Email.add(email, ordinal)
			} else {
				ixs.RejectedEmails++
			}
		}
		for _, raw := range rec.Phones {
			if raw == "" {
				continue
			}
			if phone, ok := normalize.Phone(raw); ok {
				ixs.Phone.add(phone, ordinal)
			} else {
				ixs.RejectedPhones++
			}
		}
		// A record is reachable by crossref under its own native identity,
		// and reaches out under any back-reference it exports.
		if rec.SourceID != "" && rec.SourceRef != "" {
			ixs.CrossRef.add(rec.SourceID+":"+rec.SourceRef, ordinal)
		}
		if rec.CrossRefSource != "" && rec.CrossRefValue != "" {
			ixs.CrossRef.add(rec.CrossRefSource+":"+rec.CrossRefValue, ordinal)
		}
		if key, ok := normalize.NameZipKey(rec.LastName, rec.Zip); ok {
			ixs.NameZip.add(key, ordinal)
		}
	}
	return ixs
}
