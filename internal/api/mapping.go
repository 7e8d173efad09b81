package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/harvest"
	"github.com/JakeFAU/listing-harvester/internal/logging"
)

const maxMappingBody = 64 << 10

// meters accepts a JSON number or a numeric string.
type meters float64

func (m *meters) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Errorf("distance %q is not a number", s)
		}
		*m = meters(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return errors.New("distance must be a number or numeric string")
	}
	*m = meters(v)
	return nil
}

type mappingRequest struct {
	URL           string `json:"url"`
	CenterAddress string `json:"centerAddress"`
	Distance      meters `json:"distance"`
	SocketID      string `json:"socketId"`
}

type mappingResponse struct {
	Data []harvest.Listing `json:"data"`
}

func (req mappingRequest) toHarvest() (harvest.Request, error) {
	u, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return harvest.Request{}, errors.New("url must be an absolute http(s) URL")
	}
	center := strings.TrimSpace(req.CenterAddress)
	if center == "" {
		return harvest.Request{}, errors.New("centerAddress is required")
	}
	d := float64(req.Distance)
	if d <= 0 || math.IsInf(d, 0) || math.IsNaN(d) {
		return harvest.Request{}, errors.New("distance must be a positive number of meters")
	}
	return harvest.Request{
		CatalogURL:    u.String(),
		CenterAddress: center,
		RadiusMeters:  d,
		ChannelID:     strings.TrimSpace(req.SocketID),
	}, nil
}

// decodeMapping returns ok=false for an empty body or an empty object.
func decodeMapping(body []byte) (mappingRequest, bool, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return mappingRequest{}, false, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return mappingRequest{}, false, errors.New("invalid JSON")
	}
	if len(fields) == 0 {
		return mappingRequest{}, false, nil
	}
	var req mappingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return mappingRequest{}, false, fmt.Errorf("invalid request: %w", err)
	}
	return req, true, nil
}

// mapping handles POST /api/mapping. It blocks until the harvest finishes and
// answers {"data": [...]}; progress goes to the socketId channel meanwhile.
func (s *Server) mapping(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context(), s.logger)
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMappingBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "request body too large")
		return
	}
	in, ok, err := decodeMapping(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, mappingResponse{Data: []harvest.Listing{}})
		return
	}
	req, err := in.toHarvest()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if s.opts.HarvestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.HarvestTimeout)
		defer cancel()
	}
	res, err := s.harvester.Run(ctx, req)
	if err != nil {
		status := harvestStatus(err)
		logger.Warn("harvest failed",
			zap.String("catalog_url", req.CatalogURL),
			zap.String("socket_id", req.ChannelID),
			zap.Int("status", status),
			zap.Error(err))
		writeError(w, status, err.Error())
		return
	}
	logger.Info("harvest served",
		zap.String("run_id", res.RunID),
		zap.Int("pages", res.Pages),
		zap.Int("listings", len(res.Listings)),
		zap.Duration("dur", res.Duration))
	w.Header().Set("X-Harvest-Run-ID", res.RunID)
	writeJSON(w, http.StatusOK, mappingResponse{Data: res.Listings})
}

func harvestStatus(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
