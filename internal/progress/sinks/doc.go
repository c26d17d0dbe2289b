// Package sinks contains progress.Sink implementations: structured logs,
// Prometheus collectors and an in-memory snapshot served over HTTP.
package sinks
