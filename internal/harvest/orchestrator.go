package harvest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/metrics"
	"github.com/JakeFAU/listing-harvester/internal/progress"
)

// Config controls Orchestrator behavior.
type Config struct {
	// SettleDelay is waited after the first navigation before reading the page.
	SettleDelay time.Duration
	// BannerSelector is removed before each pagination click.
	BannerSelector string
	// ArchivePrefix prefixes snapshot paths written on extraction faults.
	ArchivePrefix string
}

var tracer = otel.Tracer("github.com/JakeFAU/listing-harvester/internal/harvest")

// DefaultSettleDelay gives client-side scripts time to render the listings.
const DefaultSettleDelay = 3 * time.Second

// Orchestrator drives one harvest: it resolves the center address, walks the
// catalog page by page through a Session, accumulates filtered listings and
// reports progress.
type Orchestrator struct {
	browser   Browser
	extractor Extractor
	center    Geocoder
	archive   BlobStore
	emitter   progress.Emitter
	clock     Clock
	ids       IDGenerator
	cfg       Config
	logger    *zap.Logger

	sleep func(context.Context, time.Duration) error
}

// New constructs an Orchestrator. archive may be nil to skip snapshot
// archiving; a nil emitter discards progress.
func New(
	browser Browser,
	extractor Extractor,
	center Geocoder,
	archive BlobStore,
	emitter progress.Emitter,
	clock Clock,
	ids IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.Discard
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	return &Orchestrator{
		browser:   browser,
		extractor: extractor,
		center:    center,
		archive:   archive,
		emitter:   emitter,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		logger:    logger.Named("orchestrator"),
		sleep:     sleepContext,
	}
}

// run is the per-harvest state.
type run struct {
	id       uuid.UUID
	req      Request
	started  time.Time
	total    int
	pages    int
	listings []Listing
	logger   *zap.Logger
}

// Run executes req to completion. On failure no listings are returned and a
// HARVEST_ERROR event is emitted.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	r, err := o.newRun(req)
	if err != nil {
		return Result{}, err
	}
	ctx, span := tracer.Start(ctx, "harvest.run", trace.WithAttributes(
		attribute.String("harvest.run_id", r.id.String()),
		attribute.String("harvest.catalog_url", req.CatalogURL),
		attribute.Float64("harvest.radius_meters", req.RadiusMeters),
	))
	defer span.End()

	r.logger.Info("harvest started")
	o.emit(r, progress.StageHarvestStart, func(evt *progress.Event) {
		evt.CatalogURL = req.CatalogURL
	})

	if err := o.harvest(ctx, r); err != nil {
		metrics.ObserveHarvest("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "harvest failed")
		r.logger.Warn("harvest failed", zap.Int("page", r.pages+1), zap.Error(err))
		o.emit(r, progress.StageHarvestError, func(evt *progress.Event) {
			evt.Page = r.pages
			evt.TotalPages = r.total
			evt.Percent = progress.Percent(r.pages, r.total)
			evt.Dur = o.clock.Now().Sub(r.started)
			evt.Note = err.Error()
		})
		return Result{}, err
	}

	dur := o.clock.Now().Sub(r.started)
	metrics.ObserveHarvest("success")
	span.SetAttributes(
		attribute.Int("harvest.pages", r.pages),
		attribute.Int("harvest.listings", len(r.listings)),
	)
	r.logger.Info("harvest finished",
		zap.Int("pages", r.pages),
		zap.Int("listings", len(r.listings)),
		zap.Duration("dur", dur))
	o.emit(r, progress.StageHarvestDone, func(evt *progress.Event) {
		evt.Page = r.pages
		evt.TotalPages = r.total
		evt.Percent = progress.Percent(r.pages, r.total)
		evt.Dur = dur
	})
	listings := r.listings
	if listings == nil {
		listings = []Listing{}
	}
	return Result{
		RunID:      r.id.String(),
		Listings:   listings,
		Pages:      r.pages,
		TotalPages: r.total,
		Duration:   dur,
	}, nil
}

func (o *Orchestrator) newRun(req Request) (*run, error) {
	raw, err := o.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse run id %q: %w", raw, err)
	}
	return &run{
		id:      id,
		req:     req,
		started: o.clock.Now(),
		logger: o.logger.With(
			zap.Stringer("run_id", id),
			zap.String("channel_id", req.ChannelID),
			zap.String("catalog_url", req.CatalogURL),
		),
	}, nil
}

func (o *Orchestrator) harvest(ctx context.Context, r *run) error {
	center, err := o.center.Geocode(ctx, r.req.CenterAddress)
	if err != nil {
		if !errors.Is(err, ErrGeocodingFailure) {
			err = fmt.Errorf("%w: %w", ErrGeocodingFailure, err)
		}
		return fmt.Errorf("resolve center address: %w", err)
	}
	r.logger.Debug("center resolved", zap.Float64("lng", center.Lng), zap.Float64("lat", center.Lat))

	session, err := o.browser.Open(ctx)
	if err != nil {
		return fmt.Errorf("%w: open session: %w", ErrNavigationFault, err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			r.logger.Warn("close session", zap.Error(cerr))
		}
	}()

	if err := session.Navigate(ctx, r.req.CatalogURL); err != nil {
		return fmt.Errorf("%w: navigate: %w", ErrNavigationFault, err)
	}
	if err := o.sleep(ctx, o.cfg.SettleDelay); err != nil {
		return fmt.Errorf("settle: %w", err)
	}
	snap, err := session.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("%w: snapshot page 1: %w", ErrNavigationFault, err)
	}
	if r.total, err = o.extractor.TotalPages(snap); err != nil {
		o.archiveSnapshot(ctx, r, 1, snap)
		return fmt.Errorf("read page count: %w", err)
	}

	for {
		page := r.pages + 1
		result, err := o.extractor.Extract(ctx, snap, center, r.req.RadiusMeters)
		if err != nil {
			if errors.Is(err, ErrExtractionFault) {
				o.archiveSnapshot(ctx, r, page, snap)
			}
			return fmt.Errorf("extract page %d: %w", page, err)
		}
		r.pages = page
		r.listings = append(r.listings, result.Listings...)
		trace.SpanFromContext(ctx).AddEvent("page done", trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("seen", result.Seen),
			attribute.Int("kept", len(result.Listings)),
		))
		r.logger.Debug("page done",
			zap.Int("page", page),
			zap.Int("total_pages", r.total),
			zap.Int("seen", result.Seen),
			zap.Int("kept", len(result.Listings)))
		o.emit(r, progress.StagePageDone, func(evt *progress.Event) {
			evt.Page = page
			evt.TotalPages = r.total
			evt.Percent = progress.Percent(page, r.total)
		})

		if result.Next == nil {
			return nil
		}
		if err := o.advance(ctx, session, *result.Next); err != nil {
			return fmt.Errorf("advance to page %d: %w", page+1, err)
		}
		if snap, err = session.Snapshot(ctx); err != nil {
			return fmt.Errorf("%w: snapshot page %d: %w", ErrNavigationFault, page+1, err)
		}
	}
}

func (o *Orchestrator) advance(ctx context.Context, session Session, next Control) error {
	if o.cfg.BannerSelector != "" {
		if _, err := session.Remove(ctx, o.cfg.BannerSelector); err != nil {
			return fmt.Errorf("%w: remove banner: %w", ErrNavigationFault, err)
		}
	}
	if err := session.Activate(ctx, next); err != nil {
		return fmt.Errorf("%w: activate %q: %w", ErrNavigationFault, next.Label, err)
	}
	return nil
}

// archiveSnapshot stores the page that failed extraction. Archive failures
// are logged and never mask the extraction error.
func (o *Orchestrator) archiveSnapshot(ctx context.Context, r *run, page int, snap Snapshot) {
	if o.archive == nil {
		return
	}
	path := fmt.Sprintf("%s/page-%04d.html", r.id, page)
	if prefix := strings.Trim(o.cfg.ArchivePrefix, "/"); prefix != "" {
		path = prefix + "/" + path
	}
	uri, err := o.archive.PutObject(ctx, path, "text/html; charset=utf-8", bytes.NewReader(snap.HTML))
	if err != nil {
		r.logger.Warn("archive faulty page", zap.Int("page", page), zap.Error(err))
		return
	}
	r.logger.Info("archived faulty page", zap.Int("page", page), zap.String("uri", uri), zap.String("page_url", snap.URL))
}

func (o *Orchestrator) emit(r *run, stage progress.Stage, fill func(*progress.Event)) {
	evt := progress.Event{
		RunID:     progress.UUIDToBytes(r.id),
		ChannelID: r.req.ChannelID,
		TS:        o.clock.Now().UTC(),
		Stage:     stage,
		Kept:      len(r.listings),
	}
	if fill != nil {
		fill(&evt)
	}
	o.emitter.Emit(evt)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
