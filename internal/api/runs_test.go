package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/storage/memory"
	"github.com/JakeFAU/listing-harvester/internal/store"
)

type failingRuns struct {
	store.RunRepository
}

func (failingRuns) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return nil, errors.New("connection reset")
}

func (failingRuns) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	return store.Run{}, errors.New("connection reset")
}

func seededRuns(t *testing.T) (*memory.RunStore, []uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	repo := memory.NewRunStore()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for i, id := range ids {
		require.NoError(t, repo.UpsertRunStart(ctx, id, "sock", "https://suumo.jp/list", base.Add(time.Duration(i)*time.Minute)))
	}
	require.NoError(t, repo.UpdateRunProgress(ctx, ids[0], store.RunProgress{
		PagesDone: 2, TotalPages: 4, Percent: 50, Listings: 7, At: base.Add(30 * time.Second),
	}))
	msg := "geocoding failure"
	require.NoError(t, repo.CompleteRun(ctx, ids[1], base.Add(2*time.Minute), store.RunError, 0, &msg))
	require.NoError(t, repo.CompleteRun(ctx, ids[2], base.Add(3*time.Minute), store.RunSuccess, 12, nil))
	return repo, ids
}

func getRuns(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	repo, ids := seededRuns(t)
	s := NewServer(&fakeHarvester{}, nil, repo, Options{}, zap.NewNop())

	rec := getRuns(t, s, "/api/harvests")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Harvests []runDTO `json:"harvests"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Harvests, 3)
	require.Equal(t, ids[2].String(), body.Harvests[0].ID)
	require.Equal(t, ids[0].String(), body.Harvests[2].ID)
	require.Equal(t, 2, body.Harvests[2].PagesDone)
	require.InDelta(t, 50.0, body.Harvests[2].Progress, 1e-9)
	require.Nil(t, body.Harvests[2].FinishedAt)

	rec = getRuns(t, s, "/api/harvests?status=failed")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Harvests, 1)
	require.Equal(t, "error", body.Harvests[0].Status)
	require.NotNil(t, body.Harvests[0].Error)
	require.Equal(t, "geocoding failure", *body.Harvests[0].Error)

	rec = getRuns(t, s, "/api/harvests?limit=1&offset=1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Harvests, 1)
	require.Equal(t, ids[1].String(), body.Harvests[0].ID)
}

func TestListRunsRejectsBadFilters(t *testing.T) {
	t.Parallel()

	repo, _ := seededRuns(t)
	s := NewServer(&fakeHarvester{}, nil, repo, Options{}, zap.NewNop())
	for _, q := range []string{"?limit=0", "?limit=abc", "?offset=-1", "?status=paused"} {
		rec := getRuns(t, s, "/api/harvests"+q)
		require.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	repo, ids := seededRuns(t)
	s := NewServer(&fakeHarvester{}, nil, repo, Options{}, zap.NewNop())

	rec := getRuns(t, s, "/api/harvests/"+ids[2].String())
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Harvest runDTO `json:"harvest"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "success", body.Harvest.Status)
	require.Equal(t, 12, body.Harvest.Listings)
	require.NotNil(t, body.Harvest.FinishedAt)

	require.Equal(t, http.StatusBadRequest, getRuns(t, s, "/api/harvests/not-a-uuid").Code)
	require.Equal(t, http.StatusNotFound, getRuns(t, s, "/api/harvests/"+uuid.NewString()).Code)
}

func TestRunRoutesWithoutRepository(t *testing.T) {
	t.Parallel()

	s := NewServer(&fakeHarvester{}, nil, nil, Options{}, zap.NewNop())
	require.Equal(t, http.StatusServiceUnavailable, getRuns(t, s, "/api/harvests").Code)
	require.Equal(t, http.StatusServiceUnavailable, getRuns(t, s, "/api/harvests/"+uuid.NewString()).Code)
}

func TestRunRoutesRepositoryFailure(t *testing.T) {
	t.Parallel()

	s := NewServer(&fakeHarvester{}, nil, failingRuns{}, Options{}, zap.NewNop())
	require.Equal(t, http.StatusInternalServerError, getRuns(t, s, "/api/harvests").Code)
	require.Equal(t, http.StatusInternalServerError, getRuns(t, s, "/api/harvests/"+uuid.NewString()).Code)
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]store.RunStatus{
		"running": store.RunRunning,
		"SUCCESS": store.RunSuccess,
		"done":    store.RunSuccess,
		"error":   store.RunError,
		"failure": store.RunError,
	} {
		got, err := parseStatus(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got)
	}
	_, err := parseStatus("queued")
	require.Error(t, err)
}
