// Package models defines the staging input shape and the canonical entities
// produced by a resolution run. Canonical entities are rebuilt from scratch
// each generation; nothing here is mutated in place after a run completes.
package models

import (
	"time"

	id "unify/pkg/domain"
)

// MatchMethod records which signal pass bound a source record to its person.
type MatchMethod string

const (
	MatchCrossRef  MatchMethod = "crossref"
	MatchEmail     MatchMethod = "email"
	MatchPhone     MatchMethod = "phone"
	MatchNameZip   MatchMethod = "namezip"
	MatchSingleton MatchMethod = "singleton"
)

// Confidence assigned by each signal pass. The weakest signal used to attach
// a record to its cluster is the confidence recorded on its source link.
const (
	ConfidenceCrossRef  = 0.99
	ConfidenceEmail     = 0.99
	ConfidencePhone     = 0.95
	ConfidenceNameZip   = 0.80
	ConfidenceSingleton = 0.80
)

// StagingRecord is one raw source-system row, already flattened to the common
// attribute shape by the upstream extraction stage. Read-only for this pass.
type StagingRecord struct {
	ID           int64
	SourceID     string
	SourceRef    string
	FirstName    string
	LastName     string
	DisplayName  string
	Emails       [3]string
	Phones       [3]string
	AddressLine1 string
	AddressLine2 string
	City         string
	State        string
	Zip          string
	Country      string
	Company      string
	// CrossRefSource/CrossRefValue carry an explicit back-reference to
	// another source system's native id, when the source exports one
	// (e.g. a loyalty platform that stores the CRM contact id).
	CrossRefSource string
	CrossRefValue  string
}

// Key returns the crosswalk join key for this record.
func (r StagingRecord) Key() id.SourceKey {
	return id.SourceKey{SourceID: r.SourceID, SourceRef: r.SourceRef}
}

// Person is the canonical entity for one resolved cluster.
type Person struct {
	ID          id.PersonID
	RunID       id.RunID
	DisplayName string
	FirstName   string
	LastName    string
	// Confidence reflects the weakest signal used to assemble the cluster.
	Confidence float64
	CreatedAt  time.Time
}

// EmailAddress is one deduplicated email owned by a person.
type EmailAddress struct {
	PersonID  id.PersonID
	RunID     id.RunID
	Address   string
	IsPrimary bool
}

// PhoneNumber is one deduplicated phone owned by a person.
type PhoneNumber struct {
	PersonID  id.PersonID
	RunID     id.RunID
	Digits    string
	IsPrimary bool
}

// PostalAddress is the best-record address for a person.
type PostalAddress struct {
	PersonID  id.PersonID
	RunID     id.RunID
	Line1     string
	Line2     string
	City      string
	State     string
	Zip       string
	Country   string
	IsPrimary bool
}

// SourceLink maps one (source_id, source_ref) pair to its resolved person.
// Invariant: the pair is unique within a generation.
type SourceLink struct {
	Key        id.SourceKey
	PersonID   id.PersonID
	RunID      id.RunID
	Method     MatchMethod
	Confidence float64
}

// Household groups persons sharing an address+surname signal.
type Household struct {
	ID    id.HouseholdID
	RunID id.RunID
	Name  string
}

// MembershipRole distinguishes the anchor member of a household.
type MembershipRole string

const (
	RolePrimary MembershipRole = "primary"
	RoleMember  MembershipRole = "member"
)

// Membership links a person to exactly one household.
type Membership struct {
	HouseholdID id.HouseholdID
	PersonID    id.PersonID
	RunID       id.RunID
	Role        MembershipRole
}

// Generation bundles everything one run produces, handed to the store as a
// unit so the swap can be atomic.
type Generation struct {
	RunID      id.RunID
	Persons    []Person
	Emails     []EmailAddress
	Phones     []PhoneNumber
	Addresses  []PostalAddress
	Links      []SourceLink
	Households []Household
	Members    []Membership
}

// FactTable describes one downstream table eligible for linkage backfill.
// EmailColumn is optional; when set, unmatched rows fall back to matching
// the denormalized contact email against a person's primary email.
type FactTable struct {
	Name         string
	RefColumn    string
	PersonColumn string
	EmailColumn  string
}

// RunStats is the primary observable result of a run.
type RunStats struct {
	RunID          id.RunID
	StagingRecords int
	Clusters       int
	MergesByMethod map[MatchMethod]int
	CappedMerges   int
	RejectedEmails int
	RejectedPhones int
	Persons        int
	Emails         int
	Phones         int
	Addresses      int
	SourceLinks    int
	Households     int
	BackfillRows   map[string]int64
	Duration       time.Duration
}
