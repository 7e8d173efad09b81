package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/storage/memory"
)

// ExampleRunHandler_ListRuns shows how to serve the /api/harvests endpoint.
func ExampleRunHandler_ListRuns() {
	repo := memory.NewRunStore()
	runID := uuid.MustParse("00000000-0000-0000-0000-0000000000aa")
	if err := repo.UpsertRunStart(context.Background(), runID, "sock", "https://suumo.jp/list", time.Unix(0, 0)); err != nil {
		panic(err)
	}
	handler := NewRunHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/harvests?limit=1", nil)
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, req)

	var payload struct {
		Harvests []map[string]any `json:"harvests"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		panic(err)
	}
	fmt.Printf("returned harvests: %d, status: %v\n", len(payload.Harvests), payload.Harvests[0]["status"])
	// Output:
	// returned harvests: 1, status: running
}
