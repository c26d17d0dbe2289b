// Package api hosts the status server that runs alongside a scrape. Routes:
//   - GET /healthz and /readyz for process probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for the live run snapshot.
//   - GET /v1/store and /v1/keys/{key} for read-only store inspection.
package api
