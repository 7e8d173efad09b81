package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/listing-harvester/internal/store"
)

// DefaultRunTable is used when no table name is configured.
const DefaultRunTable = "harvest_runs"

const runColumns = `id, channel_id, catalog_url, started_at, finished_at, status,
	pages_done, total_pages, percent, listings, error_message, last_update`

// RunStore implements store.RunRepository.
type RunStore struct {
	db    querier
	table string
}

// NewRunStore wraps db. An empty table selects DefaultRunTable.
func NewRunStore(db querier, table string) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, DefaultRunTable)
	if err != nil {
		return nil, err
	}
	return &RunStore{db: db, table: table}, nil
}

// Migrate creates the run table when missing.
func (s *RunStore) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id UUID PRIMARY KEY,
	channel_id TEXT NOT NULL,
	catalog_url TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status TEXT NOT NULL,
	pages_done INTEGER NOT NULL DEFAULT 0,
	total_pages INTEGER NOT NULL DEFAULT 0,
	percent DOUBLE PRECISION NOT NULL DEFAULT 0,
	listings INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	last_update TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// UpsertRunStart inserts the run as running; a repeated start is ignored.
func (s *RunStore) UpsertRunStart(
	ctx context.Context,
	runID uuid.UUID,
	channelID, catalogURL string,
	startedAt time.Time,
) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, channel_id, catalog_url, started_at, status, last_update)
VALUES ($1, $2, $3, $4, $5, $4)
ON CONFLICT (id) DO NOTHING`, s.table)
	if _, err := s.db.Exec(ctx, query, runID, channelID, catalogURL, startedAt, string(store.RunRunning)); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// UpdateRunProgress records the latest page checkpoint. Older checkpoints
// never overwrite newer ones.
func (s *RunStore) UpdateRunProgress(ctx context.Context, runID uuid.UUID, p store.RunProgress) error {
	query := fmt.Sprintf(`
UPDATE %s
SET pages_done = $1, total_pages = $2, percent = $3, listings = $4, last_update = $5
WHERE id = $6 AND last_update <= $5`, s.table)
	if _, err := s.db.Exec(ctx, query, p.PagesDone, p.TotalPages, p.Percent, p.Listings, p.At, runID); err != nil {
		return fmt.Errorf("update run progress: %w", err)
	}
	return nil
}

// CompleteRun marks the run finished.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	listings int,
	errMsg *string,
) error {
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, status = $2, listings = $3, error_message = $4, last_update = $1
WHERE id = $5`, s.table)
	if _, err := s.db.Exec(ctx, query, finishedAt, string(status), listings, errMsg, runID); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, runColumns, s.table)
	run, err := scanRun(s.db.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first with optional status filtering.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE ($1::text IS NULL OR status = $1)
ORDER BY started_at DESC
LIMIT $2 OFFSET $3`, runColumns, s.table)
	rows, err := s.db.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		status string
	)
	err := row.Scan(
		&run.ID,
		&run.ChannelID,
		&run.CatalogURL,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.PagesDone,
		&run.TotalPages,
		&run.Percent,
		&run.Listings,
		&run.ErrorMessage,
		&run.LastUpdate,
	)
	if err != nil {
		return store.Run{}, err
	}
	run.Status = store.RunStatus(status)
	return run, nil
}
