// Package progress carries harvest progress from the orchestrator to the
// outside world. Events are queued without blocking the harvest, batched on a
// background goroutine and handed to pluggable sinks (logs, Prometheus, the
// run store, Pub/Sub, Kafka, and the SSE broker).
package progress
