package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParse_Invariants validates the parsing invariant: IDs must be valid,
// non-empty, non-nil UUIDs.
func TestParse_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseRunID("")
		require.Error(t, err)
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseRunID("not-a-uuid")
		require.Error(t, err)
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParsePersonID(uuid.Nil.String())
		require.Error(t, err)
	})

	t.Run("accepts valid UUID and round-trips", func(t *testing.T) {
		raw := uuid.New()
		id, err := ParsePersonID(raw.String())
		require.NoError(t, err)
		assert.Equal(t, PersonID(raw), id)
		assert.Equal(t, raw.String(), id.String())
	})
}

func TestIsNil(t *testing.T) {
	assert.True(t, RunID{}.IsNil())
	assert.True(t, PersonID{}.IsNil())
	assert.True(t, HouseholdID{}.IsNil())

	assert.False(t, NewRunID().IsNil())
	assert.False(t, NewPersonID().IsNil())
	assert.False(t, NewHouseholdID().IsNil())
}

func TestSourceKey(t *testing.T) {
	t.Run("string form is the crosswalk join key", func(t *testing.T) {
		key := SourceKey{SourceID: "crm", SourceRef: "c-100"}
		assert.Equal(t, "crm:c-100", key.String())
	})

	t.Run("zero detection", func(t *testing.T) {
		assert.True(t, SourceKey{}.IsZero())
		assert.True(t, SourceKey{SourceID: "crm"}.IsZero())
		assert.True(t, SourceKey{SourceRef: "c-100"}.IsZero())
		assert.False(t, SourceKey{SourceID: "crm", SourceRef: "c-100"}.IsZero())
	})
}
