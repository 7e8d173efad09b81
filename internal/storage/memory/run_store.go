package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/listing-harvester/internal/store"
)

// RunStore provides an in-memory store.RunRepository.
type RunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]store.Run
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[uuid.UUID]store.Run)}
}

// UpsertRunStart records the run as running unless it is already known.
func (s *RunStore) UpsertRunStart(
	_ context.Context,
	runID uuid.UUID,
	channelID, catalogURL string,
	startedAt time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[runID]; exists {
		return nil
	}
	s.runs[runID] = store.Run{
		ID:         runID,
		ChannelID:  channelID,
		CatalogURL: catalogURL,
		StartedAt:  startedAt,
		Status:     store.RunRunning,
		LastUpdate: startedAt,
	}
	return nil
}

// UpdateRunProgress stores the latest checkpoint.
func (s *RunStore) UpdateRunProgress(_ context.Context, runID uuid.UUID, p store.RunProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return errors.New("run not found")
	}
	run.PagesDone = p.PagesDone
	run.TotalPages = p.TotalPages
	run.Percent = p.Percent
	run.Listings = p.Listings
	run.LastUpdate = p.At
	s.runs[runID] = run
	return nil
}

// CompleteRun marks the run finished.
func (s *RunStore) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	listings int,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return errors.New("run not found")
	}
	finished := finishedAt
	run.FinishedAt = &finished
	run.Status = status
	run.Listings = listings
	run.ErrorMessage = errMsg
	run.LastUpdate = finishedAt
	s.runs[runID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	out := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, run)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if offset >= len(out) {
		return []store.Run{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
