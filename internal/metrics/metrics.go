// Package metrics exposes Prometheus collectors for the harvester service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Listing outcomes for ObserveListing.
const (
	OutcomeKept        = "kept"
	OutcomeOutOfRadius = "out_of_radius"
	OutcomeMalformed   = "malformed"
)

// Coordinate sources for ObserveGeocode.
const (
	SourceCache    = "cache"
	SourceProvider = "provider"
	SourceShared   = "shared"
)

var (
	harvestPagesTotal          *prometheus.CounterVec
	harvestListingsTotal       *prometheus.CounterVec
	harvestsTotal              *prometheus.CounterVec
	geocodeLookupsTotal        *prometheus.CounterVec
	robotsFallbackTotal        prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvestPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_pages_total",
				Help: "Total number of catalog pages extracted, labeled by site.",
			},
			[]string{"site"},
		)

		harvestListingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_listings_total",
				Help: "Listings seen on catalog pages, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		harvestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvests_total",
				Help: "Total number of harvest requests processed, labeled by status.",
			},
			[]string{"status"},
		)

		geocodeLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geocode_lookups_total",
				Help: "Coordinate resolutions, labeled by provider and source.",
			},
			[]string{"provider", "source"},
		)

		robotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "static_robots_fallback_total",
				Help: "robots.txt probes that timed out and fell back to allow-all.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage counts one extracted catalog page for the page's host.
func ObservePage(pageURL string) {
	Init()
	harvestPagesTotal.WithLabelValues(SanitizeSite(pageURL)).Inc()
}

// ObserveListing counts one listing container with its outcome.
func ObserveListing(outcome string) {
	Init()
	harvestListingsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHarvest counts a finished harvest request by status.
func ObserveHarvest(status string) {
	Init()
	harvestsTotal.WithLabelValues(status).Inc()
}

// ObserveGeocode counts a coordinate resolution.
func ObserveGeocode(provider, source string) {
	Init()
	geocodeLookupsTotal.WithLabelValues(provider, source).Inc()
}

// ObserveRobotsFallback records a robots.txt probe that fell back to allow-all.
func ObserveRobotsFallback() {
	Init()
	robotsFallbackTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
