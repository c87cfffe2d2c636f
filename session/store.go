package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no live record exists for an id.
	ErrNotFound = errors.New("session: not found")
	// ErrBackend wraps every failure of the persistence backend.
	ErrBackend = errors.New("session: backend failure")
)

// Store is the narrow load/save interface over the session backend.
// Implementations must return independent copies from Load.
type Store interface {
	// Load returns the live record for id or ErrNotFound.
	Load(ctx context.Context, id string) (*Record, error)
	// Save creates or replaces the record.
	Save(ctx context.Context, r *Record) error
	// Delete removes the record. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
	// Sweep removes records expired at now and reports how many went.
	Sweep(ctx context.Context, now time.Time) (int, error)
	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
	// Close releases backend resources.
	Close() error
}
