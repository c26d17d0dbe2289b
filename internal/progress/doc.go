// Package progress carries run, key and page milestones from the scrape
// engine to pluggable sinks (logs, Prometheus, the HTTP snapshot). Events are
// batched on a background goroutine so the engine never blocks on a sink.
package progress
