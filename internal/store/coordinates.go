package store

import (
	"context"
	"errors"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// CoordinateEntry is one row of the coordinate cache. Entries are written
// once and never updated.
type CoordinateEntry struct {
	Address string
	Lng     float64
	Lat     float64
}

// CoordinateRepository is the persistent address → coordinate cache.
type CoordinateRepository interface {
	// FindCoordinate returns the entry for an exact address match or ErrNotFound.
	FindCoordinate(ctx context.Context, address string) (CoordinateEntry, error)
	// InsertCoordinate stores entry. An existing row for the address is kept
	// as is and no error is returned.
	InsertCoordinate(ctx context.Context, entry CoordinateEntry) error
}
