// Package api hosts the HTTP server, middleware, and handlers. Notable routes:
//   - POST /api/mapping runs a harvest and returns the filtered listings.
//   - GET /api/progress/{socket_id} streams progress events (Server-Sent Events).
//   - GET /api/harvests and /api/harvests/{run_id} read recorded runs through
//     the store.RunRepository interface.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
