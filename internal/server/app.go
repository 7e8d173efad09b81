// Package server builds the harvester's dependency graph and runs the HTTP
// server until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/api"
	chromedpbrowser "github.com/JakeFAU/listing-harvester/internal/browser/chromedp"
	"github.com/JakeFAU/listing-harvester/internal/browser/static"
	"github.com/JakeFAU/listing-harvester/internal/clock/system"
	"github.com/JakeFAU/listing-harvester/internal/config"
	"github.com/JakeFAU/listing-harvester/internal/extract"
	"github.com/JakeFAU/listing-harvester/internal/geocode"
	"github.com/JakeFAU/listing-harvester/internal/geocode/google"
	"github.com/JakeFAU/listing-harvester/internal/geocode/yolp"
	"github.com/JakeFAU/listing-harvester/internal/harvest"
	"github.com/JakeFAU/listing-harvester/internal/id/uuid"
	"github.com/JakeFAU/listing-harvester/internal/logging"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
	"github.com/JakeFAU/listing-harvester/internal/progress"
	progresssinks "github.com/JakeFAU/listing-harvester/internal/progress/sinks"
	gcsstorage "github.com/JakeFAU/listing-harvester/internal/storage/gcs"
	localstorage "github.com/JakeFAU/listing-harvester/internal/storage/local"
	memorystorage "github.com/JakeFAU/listing-harvester/internal/storage/memory"
	pgstore "github.com/JakeFAU/listing-harvester/internal/storage/postgres"
	s3storage "github.com/JakeFAU/listing-harvester/internal/storage/s3"
	"github.com/JakeFAU/listing-harvester/internal/store"
	"github.com/JakeFAU/listing-harvester/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	apiServer    *api.Server
	orchestrator *harvest.Orchestrator
	progressHub  *progress.Hub
	broker       *progresssinks.Broker
	chrome       *chromedpbrowser.Browser
	pool         *pgxpool.Pool
	coordinates  store.CoordinateRepository
	runs         store.RunRepository
	pubsubClient *pubsub.Client
	storage      *storage.Client
	tracer       *sdktrace.TracerProvider

	// registerer receives the progress collectors.
	registerer prometheus.Registerer
}

// Option customizes Build.
type Option func(*App)

// WithRegisterer registers progress collectors on reg instead of the
// default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// WithLogger replaces the logger built from config.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	app := &App{cfg: cfg, registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		logger, err := logging.New(cfg.Logging.Development)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
		app.logger = logger
	}
	metrics.Init()

	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("browser", cfg.Browser.Kind),
		zap.String("store", cfg.Store.Driver),
		zap.String("archive", cfg.Archive.Driver))

	ok := false
	defer func() {
		if !ok {
			app.closeInfrastructure(context.Background())
		}
	}()

	if err := app.setupTracing(ctx); err != nil {
		return nil, err
	}
	if err := app.setupStore(ctx); err != nil {
		return nil, err
	}
	center, resolver, err := app.setupGeocoders()
	if err != nil {
		return nil, err
	}
	browser, err := app.setupBrowser()
	if err != nil {
		return nil, err
	}
	archive, err := app.setupArchive(ctx)
	if err != nil {
		return nil, err
	}
	if err := app.setupProgress(ctx); err != nil {
		return nil, err
	}

	extractor := extract.New(resolver, extract.Config{Parallelism: cfg.Harvest.Parallelism}, app.logger)
	app.orchestrator = harvest.New(
		browser,
		extractor,
		center,
		archive,
		app.progressHub,
		system.New(),
		uuid.NewUUIDGenerator(),
		harvest.Config{
			SettleDelay:    cfg.SettleDelay(),
			BannerSelector: cfg.Harvest.BannerSelector,
			ArchivePrefix:  cfg.Archive.Prefix,
		},
		app.logger,
	)

	app.apiServer = api.NewServer(
		app.orchestrator,
		app.broker,
		app.runs,
		api.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			HarvestTimeout: cfg.HarvestTimeout(),
			Keepalive:      time.Duration(cfg.Progress.KeepaliveSeconds) * time.Second,
			Ready:          app.ready,
		},
		app.logger.Named("api"),
	)
	ok = true
	return app, nil
}

// Handler is the traced HTTP surface.
func (a *App) Handler() http.Handler {
	return otelhttp.NewHandler(a.apiServer.Handler(), "harvester")
}

// Run listens on the configured port and blocks until the context is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln, then shuts everything down.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	// Progress streams are long-lived; end them so Shutdown can drain.
	srv.RegisterOnShutdown(func() {
		if err := a.broker.Close(context.Background()); err != nil {
			a.logger.Warn("progress broker close failed", zap.Error(err))
		}
	})

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := a.Close(shutdownCtx); err != nil {
		return err
	}
	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	default:
		return nil
	}
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.chrome != nil {
		a.chrome.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Syncing stderr fails with EINVAL on some platforms; nothing to report.
	_ = a.logger.Sync()
}

func (a *App) ready(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (a *App) setupTracing(ctx context.Context) error {
	var exporter sdktrace.SpanExporter
	if a.cfg.Tracing.Exporter == config.ExporterStdout {
		var err error
		if exporter, err = telemetry.NewStdoutExporter(os.Stdout); err != nil {
			return err
		}
	}
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: a.cfg.Tracing.ServiceName,
		Version:     a.cfg.Tracing.Version,
		SampleRatio: a.cfg.Tracing.SampleRatio,
	}, exporter)
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracer = tp
	a.logger.Debug("tracing initialized", zap.String("exporter", a.cfg.Tracing.Exporter))
	return nil
}

func (a *App) setupStore(ctx context.Context) error {
	sc := a.cfg.Store
	if sc.Driver != config.DriverPostgres {
		a.logger.Info("using in-memory coordinate cache and run store")
		a.coordinates = memorystorage.NewCoordinateStore()
		a.runs = memorystorage.NewRunStore()
		return nil
	}
	pool, err := pgstore.Connect(ctx, pgstore.Config{
		DSN:      sc.DSN,
		MaxConns: int32(sc.MaxConns),
		MinConns: int32(sc.MinConns),
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	a.pool = pool
	coords, err := pgstore.NewCoordinateStore(pool, sc.CoordinatesTable)
	if err != nil {
		return fmt.Errorf("coordinate store init failed: %w", err)
	}
	runs, err := pgstore.NewRunStore(pool, sc.RunsTable)
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	if sc.Migrate {
		if err := coords.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate coordinates: %w", err)
		}
		if err := runs.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate runs: %w", err)
		}
	}
	a.coordinates = coords
	a.runs = runs
	a.logger.Info("postgres store initialized",
		zap.String("coordinates_table", sc.CoordinatesTable),
		zap.String("runs_table", sc.RunsTable))
	return nil
}

// setupGeocoders returns the uncached center geocoder and the cached
// listing resolver.
func (a *App) setupGeocoders() (harvest.Geocoder, harvest.Resolver, error) {
	center, err := a.newGeocoder(a.cfg.Geocode.Center)
	if err != nil {
		return nil, nil, fmt.Errorf("center geocoder init failed: %w", err)
	}
	listings, err := a.newGeocoder(a.cfg.Geocode.Listings)
	if err != nil {
		return nil, nil, fmt.Errorf("listing geocoder init failed: %w", err)
	}
	resolver := geocode.NewResolver(a.coordinates, listings, a.cfg.Geocode.Listings, a.logger)
	a.logger.Info("geocoders initialized",
		zap.String("center", a.cfg.Geocode.Center),
		zap.String("listings", a.cfg.Geocode.Listings))
	return center, resolver, nil
}

func (a *App) newGeocoder(provider string) (harvest.Geocoder, error) {
	gc := a.cfg.Geocode
	switch provider {
	case config.ProviderYOLP:
		return yolp.New(yolp.Config{
			AppID:   gc.YOLP.AppID,
			BaseURL: gc.YOLP.BaseURL,
			Timeout: time.Duration(gc.YOLP.TimeoutSeconds) * time.Second,
		}, nil, a.logger)
	case config.ProviderGoogle:
		return google.New(google.Config{
			APIKey:   gc.Google.APIKey,
			BaseURL:  gc.Google.BaseURL,
			Language: gc.Google.Language,
		}, nil, a.logger)
	default:
		return nil, fmt.Errorf("unknown geocoding provider %q", provider)
	}
}

func (a *App) setupBrowser() (harvest.Browser, error) {
	bc := a.cfg.Browser
	if bc.Kind == config.BrowserStatic {
		a.logger.Info("using static browser", zap.Bool("respect_robots", bc.RespectRobots))
		return static.New(static.Config{
			UserAgent:     bc.UserAgent,
			RespectRobots: bc.RespectRobots,
			Timeout:       time.Duration(bc.TimeoutSeconds) * time.Second,
		}, a.logger), nil
	}
	chrome, err := chromedpbrowser.New(chromedpbrowser.Config{
		UserAgent:   bc.UserAgent,
		ExecPath:    bc.ExecPath,
		Headless:    bc.Headless,
		NoSandbox:   bc.NoSandbox,
		MaxSessions: bc.MaxSessions,
		IdleWindow:  time.Duration(bc.IdleWindowMs) * time.Millisecond,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("chromedp browser init failed: %w", err)
	}
	a.chrome = chrome
	a.logger.Info("using chromedp browser",
		zap.Bool("headless", bc.Headless),
		zap.Int("max_sessions", bc.MaxSessions))
	return chrome, nil
}

// setupArchive returns nil when archiving is disabled.
func (a *App) setupArchive(ctx context.Context) (harvest.BlobStore, error) {
	ac := a.cfg.Archive
	switch ac.Driver {
	case config.ArchiveMemory:
		a.logger.Info("archiving faulty pages in memory")
		return memorystorage.NewBlobStore(), nil
	case config.ArchiveLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: ac.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("archiving faulty pages locally", zap.String("dir", ac.LocalDir))
		return blobs, nil
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: ac.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.logger.Info("archiving faulty pages to GCS", zap.String("bucket", ac.GCSBucket))
		return blobs, nil
	case config.ArchiveS3:
		s3cfg := s3storage.Config{
			Endpoint:  ac.S3.Endpoint,
			AccessKey: ac.S3.AccessKey,
			SecretKey: ac.S3.SecretKey,
			Bucket:    ac.S3.Bucket,
			Region:    ac.S3.Region,
			UseSSL:    ac.S3.UseSSL,
		}
		client, err := s3storage.NewClient(s3cfg)
		if err != nil {
			return nil, fmt.Errorf("s3 client init failed: %w", err)
		}
		blobs, err := s3storage.New(client, s3cfg)
		if err != nil {
			return nil, fmt.Errorf("s3 archive init failed: %w", err)
		}
		a.logger.Info("archiving faulty pages to S3",
			zap.String("endpoint", ac.S3.Endpoint),
			zap.String("bucket", ac.S3.Bucket))
		return blobs, nil
	default:
		a.logger.Info("faulty page archiving disabled")
		return nil, nil
	}
}

func (a *App) setupProgress(ctx context.Context) error {
	pc := a.cfg.Progress
	a.broker = progresssinks.NewBroker(pc.StreamBuffer, a.logger.Named("progress_broker"))
	sinkList := []progress.Sink{a.broker}

	if pc.Log {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
		a.logger.Debug("added progress log sink")
	}
	if pc.Prometheus {
		promSink, err := progresssinks.NewPrometheusSink(a.registerer)
		if err != nil {
			return fmt.Errorf("prometheus progress sink init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
		a.logger.Debug("added progress prometheus sink")
	}
	if pc.Store && a.runs != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.runs, a.logger.Named("progress_store")))
		a.logger.Debug("added progress store sink")
	}
	if pc.PubSub.TopicName != "" {
		client, err := pubsub.NewClient(ctx, pc.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		sinkList = append(sinkList, progresssinks.NewPubSubSink(
			client.Topic(pc.PubSub.TopicName),
			a.logger.Named("progress_pubsub"),
		))
		a.logger.Info("Pub/Sub progress sink initialized",
			zap.String("project", pc.PubSub.ProjectID),
			zap.String("topic", pc.PubSub.TopicName))
	}
	if len(pc.Kafka.Brokers) > 0 {
		sinkList = append(sinkList, progresssinks.NewKafkaSink(
			progresssinks.NewKafkaWriter(pc.Kafka.Brokers, pc.Kafka.Topic),
			a.logger.Named("progress_kafka"),
		))
		a.logger.Info("Kafka progress sink initialized",
			zap.Strings("brokers", pc.Kafka.Brokers),
			zap.String("topic", pc.Kafka.Topic))
	}

	hubCfg := progress.Config{
		BufferSize:     pc.BufferSize,
		MaxBatchEvents: pc.BatchSize,
		MaxBatchWait:   time.Duration(pc.BatchWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(pc.SinkTimeoutSeconds) * time.Second,
		BaseContext:    ctx,
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout))
	return nil
}
