// Package domain holds typed identifiers shared across the resolution engine.
// Wrapping uuid.UUID in distinct named types keeps person, household, and run
// identifiers from being swapped at call sites; the compiler enforces it.
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// PersonID identifies a canonical person. Minted fresh each generation.
type PersonID uuid.UUID

// HouseholdID identifies a derived household group.
type HouseholdID uuid.UUID

// RunID identifies one resolution generation. Every canonical row is tagged
// with the RunID that produced it; the swap flips which RunID is current.
type RunID uuid.UUID

func NewPersonID() PersonID       { return PersonID(uuid.New()) }
func NewHouseholdID() HouseholdID { return HouseholdID(uuid.New()) }
func NewRunID() RunID             { return RunID(uuid.New()) }

func (id PersonID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id HouseholdID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id RunID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }

func (id PersonID) String() string    { return uuid.UUID(id).String() }
func (id HouseholdID) String() string { return uuid.UUID(id).String() }
func (id RunID) String() string       { return uuid.UUID(id).String() }

// ParsePersonID constructs a PersonID from external input. Construct via
// parse at trust boundaries; direct casting bypasses validation.
func ParsePersonID(raw string) (PersonID, error) {
	u, err := parseUUID(raw)
	if err != nil {
		return PersonID{}, err
	}
	return PersonID(u), nil
}

// ParseRunID constructs a RunID from external input.
func ParseRunID(raw string) (RunID, error) {
	u, err := parseUUID(raw)
	if err != nil {
		return RunID{}, err
	}
	return RunID(u), nil
}

func parseUUID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, fmt.Errorf("id is required")
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", raw, err)
	}
	if u == uuid.Nil {
		return uuid.Nil, fmt.Errorf("id must not be the nil uuid")
	}
	return u, nil
}
