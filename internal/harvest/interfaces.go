package harvest

import (
	"context"
	"io"
	"time"
)

// Browser opens exclusive rendering sessions.
type Browser interface {
	Open(ctx context.Context) (Session, error)
}

// Session is a single stateful page. Callers own it exclusively from Open
// until Close and must always Close it.
type Session interface {
	// Navigate loads rawURL. There is no navigation timeout; ctx bounds it.
	Navigate(ctx context.Context, rawURL string) error
	// Snapshot serializes the current DOM.
	Snapshot(ctx context.Context) (Snapshot, error)
	// Remove deletes every element matching selector and reports how many went.
	Remove(ctx context.Context, selector string) (int, error)
	// Activate clicks control and blocks until the resulting navigation has
	// loaded and the network has gone quiet.
	Activate(ctx context.Context, control Control) error
	Close() error
}

// Extractor turns a rendered catalog page into listings.
type Extractor interface {
	TotalPages(snapshot Snapshot) (int, error)
	Extract(ctx context.Context, snapshot Snapshot, center Coordinate, radiusMeters float64) (Page, error)
}

// Geocoder resolves free text to a coordinate using an external provider.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (Coordinate, error)
}

// Resolver resolves a cache key to a coordinate, consulting a cache first.
type Resolver interface {
	Resolve(ctx context.Context, key string) (Coordinate, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
