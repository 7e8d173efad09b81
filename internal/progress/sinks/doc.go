// Package sinks implements concrete progress consumers: structured logging,
// Prometheus, the run repository, Google Cloud Pub/Sub, Kafka and an
// in-process Broker that feeds Server-Sent Event streams. Each sink satisfies
// progress.Sink.
package sinks
