package domain

// SourceKey identifies one raw record in one source system. It is the join
// key between staging records, the crosswalk, and transactional facts.
// Invariant: a SourceKey resolves to exactly one person per generation.
type SourceKey struct {
	SourceID  string
	SourceRef string
}

// IsZero reports whether the key is unusable for joining. A key missing
// either half never matches anything and must not be written to the
// crosswalk.
func (k SourceKey) IsZero() bool {
	return k.SourceID == "" || k.SourceRef == ""
}

func (k SourceKey) String() string {
	return k.SourceID + ":" + k.SourceRef
}
