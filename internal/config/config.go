// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Harvest  HarvestConfig  `mapstructure:"harvest"`
	Geocode  GeocodeConfig  `mapstructure:"geocode"`
	Store    StoreConfig    `mapstructure:"store"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int      `mapstructure:"port"`
	AllowedOrigins         []string `mapstructure:"allowed_origins"`
	ShutdownTimeoutSeconds int      `mapstructure:"shutdown_timeout_seconds"`
	// HarvestTimeoutSeconds bounds one mapping request. Zero means the
	// request context alone bounds it.
	HarvestTimeoutSeconds int `mapstructure:"harvest_timeout_seconds"`
}

// Browser kinds.
const (
	BrowserChromedp = "chromedp"
	BrowserStatic   = "static"
)

// BrowserConfig selects and tunes the rendering surface.
type BrowserConfig struct {
	Kind           string `mapstructure:"kind"`
	UserAgent      string `mapstructure:"user_agent"`
	ExecPath       string `mapstructure:"exec_path"`
	Headless       bool   `mapstructure:"headless"`
	NoSandbox      bool   `mapstructure:"no_sandbox"`
	MaxSessions    int    `mapstructure:"max_sessions"`
	IdleWindowMs   int    `mapstructure:"idle_window_ms"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
}

// HarvestConfig tunes the page loop.
type HarvestConfig struct {
	SettleDelayMs  int    `mapstructure:"settle_delay_ms"`
	Parallelism    int    `mapstructure:"parallelism"`
	BannerSelector string `mapstructure:"banner_selector"`
}

// Geocoding providers.
const (
	ProviderYOLP   = "yolp"
	ProviderGoogle = "google"
)

// GeocodeConfig selects the provider for the center address and for
// listings, and carries credentials for both.
type GeocodeConfig struct {
	Center   string       `mapstructure:"center"`
	Listings string       `mapstructure:"listings"`
	YOLP     YOLPConfig   `mapstructure:"yolp"`
	Google   GoogleConfig `mapstructure:"google"`
}

// YOLPConfig configures the Yahoo! Open Local Platform geocoder.
type YOLPConfig struct {
	AppID          string `mapstructure:"app_id"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// GoogleConfig configures the Google Maps geocoder.
type GoogleConfig struct {
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	Language string `mapstructure:"language"`
}

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// StoreConfig controls the coordinate cache and run repository.
type StoreConfig struct {
	Driver           string `mapstructure:"driver"`
	DSN              string `mapstructure:"dsn"`
	MaxConns         int    `mapstructure:"max_conns"`
	MinConns         int    `mapstructure:"min_conns"`
	CoordinatesTable string `mapstructure:"coordinates_table"`
	RunsTable        string `mapstructure:"runs_table"`
	Migrate          bool   `mapstructure:"migrate"`
}

// Archive drivers.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
	ArchiveS3     = "s3"
)

// ArchiveConfig selects where faulty page snapshots are written.
type ArchiveConfig struct {
	Driver    string   `mapstructure:"driver"`
	Prefix    string   `mapstructure:"prefix"`
	LocalDir  string   `mapstructure:"local_dir"`
	GCSBucket string   `mapstructure:"gcs_bucket"`
	S3        S3Config `mapstructure:"s3"`
}

// S3Config holds S3-compatible endpoint settings.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// ProgressConfig tunes the progress hub and enables its sinks.
type ProgressConfig struct {
	BufferSize         int          `mapstructure:"buffer_size"`
	BatchSize          int          `mapstructure:"batch_size"`
	BatchWaitMs        int          `mapstructure:"batch_wait_ms"`
	SinkTimeoutSeconds int          `mapstructure:"sink_timeout_seconds"`
	StreamBuffer       int          `mapstructure:"stream_buffer"`
	KeepaliveSeconds   int          `mapstructure:"keepalive_seconds"`
	Log                bool         `mapstructure:"log"`
	Prometheus         bool         `mapstructure:"prometheus"`
	Store              bool         `mapstructure:"store"`
	PubSub             PubSubConfig `mapstructure:"pubsub"`
	Kafka              KafkaConfig  `mapstructure:"kafka"`
}

// PubSubConfig holds metadata for publish-subscribe notifications. An empty
// topic disables the sink.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// KafkaConfig enables the Kafka sink when brokers and topic are set.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Trace exporters.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// TracingConfig configures the OpenTelemetry tracer provider.
type TracingConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	Version     string  `mapstructure:"version"`
	Exporter    string  `mapstructure:"exporter"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("server.harvest_timeout_seconds", 0)

	v.SetDefault("browser.kind", BrowserChromedp)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.max_sessions", 1)
	v.SetDefault("browser.idle_window_ms", 500)
	v.SetDefault("browser.timeout_seconds", 30)
	v.SetDefault("browser.respect_robots", false)

	v.SetDefault("harvest.settle_delay_ms", 3000)
	v.SetDefault("harvest.parallelism", 0)
	v.SetDefault("harvest.banner_selector", "#js-bannerPanel")

	v.SetDefault("geocode.center", ProviderYOLP)
	v.SetDefault("geocode.listings", ProviderGoogle)
	v.SetDefault("geocode.yolp.app_id", "")
	v.SetDefault("geocode.yolp.base_url", "")
	v.SetDefault("geocode.yolp.timeout_seconds", 10)
	v.SetDefault("geocode.google.api_key", "")
	v.SetDefault("geocode.google.base_url", "")
	v.SetDefault("geocode.google.language", "ja")

	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("store.coordinates_table", "coordinates")
	v.SetDefault("store.runs_table", "harvest_runs")
	v.SetDefault("store.migrate", true)

	v.SetDefault("archive.driver", ArchiveNone)
	v.SetDefault("archive.prefix", "faults")
	v.SetDefault("archive.local_dir", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.s3.endpoint", "")
	v.SetDefault("archive.s3.access_key", "")
	v.SetDefault("archive.s3.secret_key", "")
	v.SetDefault("archive.s3.bucket", "")
	v.SetDefault("archive.s3.region", "")
	v.SetDefault("archive.s3.use_ssl", true)

	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch_size", 256)
	v.SetDefault("progress.batch_wait_ms", 200)
	v.SetDefault("progress.sink_timeout_seconds", 10)
	v.SetDefault("progress.stream_buffer", 64)
	v.SetDefault("progress.keepalive_seconds", 15)
	v.SetDefault("progress.log", true)
	v.SetDefault("progress.prometheus", true)
	v.SetDefault("progress.store", true)
	v.SetDefault("progress.pubsub.project_id", "")
	v.SetDefault("progress.pubsub.topic_name", "")
	v.SetDefault("progress.kafka.brokers", []string{})
	v.SetDefault("progress.kafka.topic", "")

	v.SetDefault("logging.development", true)

	v.SetDefault("tracing.service_name", "listing-harvester")
	v.SetDefault("tracing.version", "dev")
	v.SetDefault("tracing.exporter", ExporterNone)
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Server.HarvestTimeoutSeconds < 0 {
		return errors.New("server.harvest_timeout_seconds must be >= 0")
	}
	switch c.Browser.Kind {
	case BrowserChromedp:
		if c.Browser.MaxSessions <= 0 {
			return errors.New("browser.max_sessions must be > 0")
		}
	case BrowserStatic:
	default:
		return fmt.Errorf("browser.kind %q is not supported", c.Browser.Kind)
	}
	if c.Harvest.SettleDelayMs < 0 {
		return errors.New("harvest.settle_delay_ms must be >= 0")
	}
	if c.Harvest.Parallelism < 0 {
		return errors.New("harvest.parallelism must be >= 0")
	}
	if err := c.Geocode.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Archive.validate(); err != nil {
		return err
	}
	if c.Progress.PubSub.TopicName != "" && c.Progress.PubSub.ProjectID == "" {
		return errors.New("progress.pubsub.project_id must be set when a topic is configured")
	}
	if len(c.Progress.Kafka.Brokers) > 0 && c.Progress.Kafka.Topic == "" {
		return errors.New("progress.kafka.topic must be set when brokers are configured")
	}
	switch c.Tracing.Exporter {
	case ExporterNone, ExporterStdout:
	default:
		return fmt.Errorf("tracing.exporter %q is not supported", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return errors.New("tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}

func (g GeocodeConfig) validate() error {
	for _, sel := range []struct{ key, provider string }{
		{"geocode.center", g.Center},
		{"geocode.listings", g.Listings},
	} {
		switch sel.provider {
		case ProviderYOLP:
			if g.YOLP.AppID == "" {
				return fmt.Errorf("geocode.yolp.app_id must be set when %s is %s", sel.key, ProviderYOLP)
			}
		case ProviderGoogle:
			if g.Google.APIKey == "" {
				return fmt.Errorf("geocode.google.api_key must be set when %s is %s", sel.key, ProviderGoogle)
			}
		default:
			return fmt.Errorf("%s %q is not supported", sel.key, sel.provider)
		}
	}
	return nil
}

func (s StoreConfig) validate() error {
	switch s.Driver {
	case DriverMemory:
	case DriverPostgres:
		if s.DSN == "" {
			return errors.New("store.dsn must be set for the postgres driver")
		}
		if s.MaxConns <= 0 {
			return errors.New("store.max_conns must be > 0")
		}
	default:
		return fmt.Errorf("store.driver %q is not supported", s.Driver)
	}
	return nil
}

func (a ArchiveConfig) validate() error {
	switch a.Driver {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if a.LocalDir == "" {
			return errors.New("archive.local_dir must be set for the local driver")
		}
	case ArchiveGCS:
		if a.GCSBucket == "" {
			return errors.New("archive.gcs_bucket must be set for the gcs driver")
		}
	case ArchiveS3:
		if a.S3.Endpoint == "" || a.S3.Bucket == "" {
			return errors.New("archive.s3.endpoint and archive.s3.bucket must be set for the s3 driver")
		}
	default:
		return fmt.Errorf("archive.driver %q is not supported", a.Driver)
	}
	return nil
}

// SettleDelay is the wait after the first navigation.
func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Harvest.SettleDelayMs) * time.Millisecond
}

// HarvestTimeout bounds one mapping request; zero disables the bound.
func (c Config) HarvestTimeout() time.Duration {
	return time.Duration(c.Server.HarvestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
