package geocode

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/listing-harvester/internal/harvest"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
	"github.com/JakeFAU/listing-harvester/internal/store"
)

// Resolver resolves cache keys to coordinates. Hits never reach the provider;
// misses call it once per key even under concurrency and store the result
// before returning.
type Resolver struct {
	repo     store.CoordinateRepository
	provider harvest.Geocoder
	name     string
	group    singleflight.Group
	logger   *zap.Logger
}

// NewResolver builds a Resolver. name labels metrics and logs with the
// provider in use.
func NewResolver(repo store.CoordinateRepository, provider harvest.Geocoder, name string, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		repo:     repo,
		provider: provider,
		name:     name,
		logger:   logger.Named("resolver"),
	}
}

// Resolve returns the coordinate for key.
func (r *Resolver) Resolve(ctx context.Context, key string) (harvest.Coordinate, error) {
	entry, err := r.repo.FindCoordinate(ctx, key)
	switch {
	case err == nil:
		metrics.ObserveGeocode(r.name, metrics.SourceCache)
		return harvest.Coordinate{Lng: entry.Lng, Lat: entry.Lat}, nil
	case !errors.Is(err, store.ErrNotFound):
		return harvest.Coordinate{}, fmt.Errorf("lookup cached coordinate: %w", err)
	}

	// The flight outlives any one caller: other harvests may be waiting on it.
	flight := r.group.DoChan(key, func() (any, error) {
		return r.resolveMiss(context.WithoutCancel(ctx), key)
	})
	select {
	case <-ctx.Done():
		return harvest.Coordinate{}, fmt.Errorf("resolve %q: %w", key, ctx.Err())
	case res := <-flight:
		if res.Err != nil {
			return harvest.Coordinate{}, res.Err
		}
		if res.Shared {
			metrics.ObserveGeocode(r.name, metrics.SourceShared)
		}
		return res.Val.(harvest.Coordinate), nil
	}
}

func (r *Resolver) resolveMiss(ctx context.Context, key string) (harvest.Coordinate, error) {
	coord, err := r.provider.Geocode(ctx, key)
	if err != nil {
		if !errors.Is(err, harvest.ErrGeocodingFailure) {
			err = fmt.Errorf("%w: %w", harvest.ErrGeocodingFailure, err)
		}
		return harvest.Coordinate{}, err
	}
	metrics.ObserveGeocode(r.name, metrics.SourceProvider)

	if err := r.repo.InsertCoordinate(ctx, store.CoordinateEntry{
		Address: key,
		Lng:     coord.Lng,
		Lat:     coord.Lat,
	}); err != nil {
		return harvest.Coordinate{}, fmt.Errorf("cache coordinate: %w", err)
	}
	r.logger.Debug("coordinate cached",
		zap.String("provider", r.name),
		zap.String("address", key),
		zap.Float64("lng", coord.Lng),
		zap.Float64("lat", coord.Lat))
	return coord, nil
}
