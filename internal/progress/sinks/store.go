package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/progress"
	"github.com/JakeFAU/listing-harvester/internal/store"
)

// StoreSink persists run lifecycle and page checkpoints via a
// store.RunRepository. Page events for the same run within a batch collapse
// to the latest one.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards the batch to the repository, returning the first error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	latest := make(map[uuid.UUID]progress.Event)
	var order []uuid.UUID

	flushPages := func() error {
		for _, runID := range order {
			evt := latest[runID]
			if err := s.repo.UpdateRunProgress(ctx, runID, store.RunProgress{
				PagesDone:  evt.Page,
				TotalPages: evt.TotalPages,
				Percent:    evt.Percent,
				Listings:   evt.Kept,
				At:         evt.TS,
			}); err != nil {
				return fmt.Errorf("update run progress: %w", err)
			}
		}
		clear(latest)
		order = order[:0]
		return nil
	}

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageHarvestStart:
			if err := s.repo.UpsertRunStart(ctx, runID, evt.ChannelID, evt.CatalogURL, evt.TS); err != nil {
				return fmt.Errorf("upsert run start: %w", err)
			}
		case progress.StagePageDone:
			if _, ok := latest[runID]; !ok {
				order = append(order, runID)
			}
			latest[runID] = evt
		case progress.StageHarvestDone, progress.StageHarvestError:
			// Checkpoints must land before the terminal update.
			if err := flushPages(); err != nil {
				return err
			}
			status := store.RunSuccess
			var note *string
			if evt.Stage == progress.StageHarvestError {
				status = store.RunError
				if evt.Note != "" {
					msg := evt.Note
					note = &msg
				}
			}
			if err := s.repo.CompleteRun(ctx, runID, evt.TS, status, evt.Kept, note); err != nil {
				return fmt.Errorf("complete run: %w", err)
			}
		}
	}
	return flushPages()
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
