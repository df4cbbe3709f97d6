package engagement

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrAlreadyLiked is returned by AddRecord when a record for the
// (entity, visitor) pair already exists. Callers treat it as the
// already-liked success path, never as a failure.
var ErrAlreadyLiked = errors.New("visitor already liked this pet")

// Store is the record-level capability the tracker consumes. The
// authoritative implementation is PostgreSQL-backed (PGStore); the
// client side talks to it through the REST surface (HTTPStore).
type Store interface {
	// FetchState returns the current counter value and whether a record
	// exists for the given visitor. An empty visitorToken is valid and
	// always reads as not-liked.
	FetchState(ctx context.Context, entityID uuid.UUID, visitorToken string) (State, error)

	// AddRecord creates the engagement record, returning ErrAlreadyLiked
	// on a uniqueness conflict.
	AddRecord(ctx context.Context, entityID uuid.UUID, visitorToken string) error

	// RemoveRecord deletes the engagement record. Removing an absent
	// record is not an error.
	RemoveRecord(ctx context.Context, entityID uuid.UUID, visitorToken string) error

	// SubscribeCounter delivers pushed counter values for the entity
	// until ctx is cancelled. Pushed values are authoritative
	// replacements for the displayed count, never additive deltas.
	SubscribeCounter(ctx context.Context, entityID uuid.UUID) (<-chan int64, error)
}
