// Package google geocodes addresses with the Google Maps Geocoding API.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"googlemaps.github.io/maps"

	"github.com/JakeFAU/listing-harvester/internal/harvest"
)

// Config captures the Google Maps client parameters.
type Config struct {
	APIKey string
	// BaseURL overrides the API host; tests point it at httptest servers.
	BaseURL string
	// Language requests localized results, e.g. "ja".
	Language string
}

// Client is a harvest.Geocoder backed by the Google Geocoding API.
type Client struct {
	maps     *maps.Client
	language string
	logger   *zap.Logger
}

// New builds a Client. A nil httpClient uses the library default.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("google maps api key is required")
	}
	opts := []maps.ClientOption{maps.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, maps.WithBaseURL(cfg.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, maps.WithHTTPClient(httpClient))
	}
	mc, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create maps client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{maps: mc, language: cfg.Language, logger: logger.Named("google")}, nil
}

// Geocode returns the first result's location for address.
func (c *Client) Geocode(ctx context.Context, address string) (harvest.Coordinate, error) {
	results, err := c.maps.Geocode(ctx, &maps.GeocodingRequest{
		Address:  address,
		Language: c.language,
	})
	if err != nil {
		return harvest.Coordinate{}, fmt.Errorf("%w: google geocode: %w", harvest.ErrGeocodingFailure, err)
	}
	if len(results) == 0 {
		return harvest.Coordinate{}, fmt.Errorf("%w: google returned no result for %q", harvest.ErrGeocodingFailure, address)
	}
	loc := results[0].Geometry.Location
	c.logger.Debug("geocoded",
		zap.String("address", address),
		zap.String("formatted", results[0].FormattedAddress),
		zap.Float64("lat", loc.Lat),
		zap.Float64("lng", loc.Lng))
	return harvest.Coordinate{Lng: loc.Lng, Lat: loc.Lat}, nil
}
