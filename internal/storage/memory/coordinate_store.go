// Package memory provides in-process implementations of the store
// interfaces and the snapshot archive for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/listing-harvester/internal/store"
)

// CoordinateStore is a map-backed store.CoordinateRepository.
type CoordinateStore struct {
	mu      sync.RWMutex
	entries map[string]store.CoordinateEntry
}

// NewCoordinateStore returns an empty cache.
func NewCoordinateStore() *CoordinateStore {
	return &CoordinateStore{entries: make(map[string]store.CoordinateEntry)}
}

// FindCoordinate returns the entry for address or store.ErrNotFound.
func (s *CoordinateStore) FindCoordinate(_ context.Context, address string) (store.CoordinateEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[address]
	if !ok {
		return store.CoordinateEntry{}, store.ErrNotFound
	}
	return entry, nil
}

// InsertCoordinate keeps the first entry written for an address.
func (s *CoordinateStore) InsertCoordinate(_ context.Context, entry store.CoordinateEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[entry.Address]; exists {
		return nil
	}
	s.entries[entry.Address] = entry
	return nil
}

// Len reports the number of cached addresses.
func (s *CoordinateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
