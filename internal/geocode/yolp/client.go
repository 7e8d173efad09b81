// Package yolp geocodes addresses with the Yahoo! Open Local Platform
// geocoder, which answers in YDF XML.
package yolp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/harvest"
)

// DefaultBaseURL is the public YOLP geocoder endpoint.
const DefaultBaseURL = "https://map.yahooapis.jp/geocode/V1/geoCoder"

// coordinatesPath selects the first feature's "lng,lat" pair regardless of
// the YDF default namespace.
const coordinatesPath = "//*[local-name()='Feature']/*[local-name()='Geometry']/*[local-name()='Coordinates']"

// Config captures the YOLP client parameters.
type Config struct {
	AppID   string
	BaseURL string
	Timeout time.Duration
}

// Client is a harvest.Geocoder backed by YOLP.
type Client struct {
	appID   string
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// New builds a Client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.AppID) == "" {
		return nil, errors.New("yolp app id is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse yolp base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		appID:   cfg.AppID,
		baseURL: cfg.BaseURL,
		http:    httpClient,
		logger:  logger.Named("yolp"),
	}, nil
}

// Geocode returns the first feature's coordinate for address.
func (c *Client) Geocode(ctx context.Context, address string) (harvest.Coordinate, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return harvest.Coordinate{}, fmt.Errorf("parse yolp base url: %w", err)
	}
	q := u.Query()
	q.Set("appid", c.appID)
	q.Set("query", address)
	q.Set("output", "xml")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return harvest.Coordinate{}, fmt.Errorf("build yolp request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return harvest.Coordinate{}, fmt.Errorf("%w: yolp request: %w", harvest.ErrGeocodingFailure, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close yolp response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return harvest.Coordinate{}, fmt.Errorf("%w: yolp status %d", harvest.ErrGeocodingFailure, resp.StatusCode)
	}

	doc, err := xmlquery.Parse(resp.Body)
	if err != nil {
		return harvest.Coordinate{}, fmt.Errorf("%w: parse yolp response: %w", harvest.ErrGeocodingFailure, err)
	}
	node := xmlquery.FindOne(doc, coordinatesPath)
	if node == nil {
		return harvest.Coordinate{}, fmt.Errorf("%w: yolp returned no feature for %q", harvest.ErrGeocodingFailure, address)
	}
	coord, err := ParseCoordinates(node.InnerText())
	if err != nil {
		return harvest.Coordinate{}, fmt.Errorf("%w: %w", harvest.ErrGeocodingFailure, err)
	}
	return coord, nil
}

// ParseCoordinates parses a YDF "lng,lat" pair.
func ParseCoordinates(raw string) (harvest.Coordinate, error) {
	lngText, latText, ok := strings.Cut(strings.TrimSpace(raw), ",")
	if !ok {
		return harvest.Coordinate{}, fmt.Errorf("malformed coordinates %q", raw)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngText), 64)
	if err != nil {
		return harvest.Coordinate{}, fmt.Errorf("parse longitude %q: %w", lngText, err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latText), 64)
	if err != nil {
		return harvest.Coordinate{}, fmt.Errorf("parse latitude %q: %w", latText, err)
	}
	return harvest.Coordinate{Lng: lng, Lat: lat}, nil
}
