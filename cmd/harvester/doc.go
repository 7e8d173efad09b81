// Package main hosts the harvester service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes POST /api/mapping, which runs one harvest synchronously and answers
//     with the listings found inside the requested radius. GET /api/progress/{socket_id} streams progress for the
//     socketId a client passed with its mapping request; /api/harvests exposes recorded runs.
//   - Harvest loop: internal/harvest.Orchestrator geocodes the center address, opens a browser session (chromedp
//     or the Colly-backed static session), and walks the catalog page by page. internal/extract reads each page
//     with goquery and resolves every listing through the coordinate cache.
//   - Geocoding: the center address goes to YOLP uncached; listings go to Google through internal/geocode.Resolver,
//     which consults the coordinate cache (memory or Postgres) first and deduplicates concurrent misses.
//   - Progress: events are buffered by the progress Hub and fanned out to the SSE broker, logs, Prometheus, the run
//     store, and optionally Pub/Sub and Kafka. A slow sink never blocks a harvest.
//   - Configuration & plumbing: Viper populates config from env/files (prefix HARVESTER_, optional .env via
//     godotenv); zap provides structured logging; Prometheus metrics live on /metrics; OpenTelemetry spans wrap
//     HTTP requests and harvest runs.
//
// Quick checklist:
//   - Set HARVESTER_GEOCODE_YOLP_APP_ID and HARVESTER_GEOCODE_GOOGLE_API_KEY.
//   - Run locally: go run ./cmd/harvester -config config.yaml (or rely solely on env overrides).
//   - Use HARVESTER_BROWSER_KIND=static where no Chrome binary is available; a next control without an href
//     then fails the harvest with a navigation fault.
package main
