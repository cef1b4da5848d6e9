package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers
// return these (optionally wrapped) so the resolver service can translate
// them into run-level decisions.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrDuplicate: insert collided with an existing unique key
// - ErrConflict: concurrent writer won (lock held, row changed underneath)
// - ErrUnavailable: storage temporarily unreachable; retryable
// - ErrEmptySnapshot: no staging records to resolve; the run must abort
var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicate     = errors.New("duplicate key")
	ErrConflict      = errors.New("conflict")
	ErrUnavailable   = errors.New("unavailable")
	ErrEmptySnapshot = errors.New("empty staging snapshot")
)
