package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunStatus mirrors the harvest_runs status column.
type RunStatus string

// Harvest run statuses persisted in harvest_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunRunning, RunSuccess, RunError:
		return true
	}
	return false
}

// Run models a row of harvest_runs.
type Run struct {
	ID         uuid.UUID
	ChannelID  string
	CatalogURL string
	StartedAt  time.Time
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt *time.Time
	Status     RunStatus
	PagesDone  int
	TotalPages int
	Percent    float64
	Listings   int
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
	LastUpdate   time.Time
}

// RunProgress is the latest page checkpoint for a run.
type RunProgress struct {
	PagesDone  int
	TotalPages int
	Percent    float64
	Listings   int
	At         time.Time
}

// RunRepository persists harvest run progress.
type RunRepository interface {
	// UpsertRunStart inserts the run as running; repeating it is harmless.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, channelID, catalogURL string, startedAt time.Time) error
	// UpdateRunProgress records the latest page checkpoint.
	UpdateRunProgress(ctx context.Context, runID uuid.UUID, p RunProgress) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(
		ctx context.Context,
		runID uuid.UUID,
		finishedAt time.Time,
		status RunStatus,
		listings int,
		errMsg *string,
	) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs newest first, filtered by optional status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}
