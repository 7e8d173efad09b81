package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event reports.
type Stage string

// Supported progress stages.
const (
	StageHarvestStart Stage = "HARVEST_START"
	StagePageDone     Stage = "PAGE_DONE"
	StageHarvestDone  Stage = "HARVEST_DONE"
	StageHarvestError Stage = "HARVEST_ERROR"
)

// Terminal reports whether no further events follow this stage for the run.
func (s Stage) Terminal() bool {
	return s == StageHarvestDone || s == StageHarvestError
}

// Event is a single progress notification for one harvest run.
type Event struct {
	// RunID identifies the harvest run in 16-byte UUID form.
	RunID [16]byte
	// ChannelID is the caller-supplied progress channel (the socket id).
	ChannelID string
	// TS is the UTC time the orchestrator recorded the event.
	TS    time.Time
	Stage Stage
	// CatalogURL is set on HARVEST_START.
	CatalogURL string
	// Page is the 1-based page just processed.
	Page       int
	TotalPages int
	// Percent is Page*100/TotalPages.
	Percent float64
	// Kept is the running count of listings inside the radius.
	Kept int
	// Dur is the elapsed run time on terminal events.
	Dur  time.Duration
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageHarvestStart, StageHarvestDone, StageHarvestError:
	case StagePageDone:
		if e.Page <= 0 || e.TotalPages <= 0 {
			return errors.New("page done requires page and total pages")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Percent < 0 {
		return errors.New("percent must be >= 0")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// Percent computes page*100/total. A non-positive total yields 0.
func Percent(page, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(page) * 100 / float64(total)
}

// Payload is the wire form of an Event shared by the push sinks and the SSE
// stream. Progress carries the percentage under the name clients expect.
type Payload struct {
	RunID      string    `json:"runId"`
	ChannelID  string    `json:"socketId"`
	Stage      Stage     `json:"stage"`
	Progress   float64   `json:"progress"`
	Page       int       `json:"page,omitempty"`
	TotalPages int       `json:"totalPages,omitempty"`
	Kept       int       `json:"kept"`
	TS         time.Time `json:"ts"`
	Note       string    `json:"note,omitempty"`
}

// Payload converts e to its wire form.
func (e Event) Payload() Payload {
	return Payload{
		RunID:      e.RunUUID().String(),
		ChannelID:  e.ChannelID,
		Stage:      e.Stage,
		Progress:   e.Percent,
		Page:       e.Page,
		TotalPages: e.TotalPages,
		Kept:       e.Kept,
		TS:         e.TS.UTC(),
		Note:       e.Note,
	}
}
