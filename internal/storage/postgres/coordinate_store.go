package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/listing-harvester/internal/store"
)

// DefaultCoordinateTable is used when no table name is configured.
const DefaultCoordinateTable = "coordinates"

// CoordinateStore implements store.CoordinateRepository on a single table
// keyed by address.
type CoordinateStore struct {
	db    querier
	table string
}

// NewCoordinateStore wraps db. An empty table selects DefaultCoordinateTable.
func NewCoordinateStore(db querier, table string) (*CoordinateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, DefaultCoordinateTable)
	if err != nil {
		return nil, err
	}
	return &CoordinateStore{db: db, table: table}, nil
}

// Migrate creates the cache table when missing.
func (s *CoordinateStore) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	address TEXT PRIMARY KEY,
	lng DOUBLE PRECISION NOT NULL,
	lat DOUBLE PRECISION NOT NULL
)`, s.table)
	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// FindCoordinate returns the cached coordinate for an exact address match.
func (s *CoordinateStore) FindCoordinate(ctx context.Context, address string) (store.CoordinateEntry, error) {
	query := fmt.Sprintf(`SELECT lng, lat FROM %s WHERE address = $1`, s.table)
	entry := store.CoordinateEntry{Address: address}
	if err := s.db.QueryRow(ctx, query, address).Scan(&entry.Lng, &entry.Lat); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.CoordinateEntry{}, store.ErrNotFound
		}
		return store.CoordinateEntry{}, fmt.Errorf("select coordinate: %w", err)
	}
	return entry, nil
}

// InsertCoordinate writes entry; an existing address row wins.
func (s *CoordinateStore) InsertCoordinate(ctx context.Context, entry store.CoordinateEntry) error {
	query := fmt.Sprintf(`
INSERT INTO %s (address, lng, lat)
VALUES ($1, $2, $3)
ON CONFLICT (address) DO NOTHING`, s.table)
	if _, err := s.db.Exec(ctx, query, entry.Address, entry.Lng, entry.Lat); err != nil {
		return fmt.Errorf("insert coordinate: %w", err)
	}
	return nil
}
