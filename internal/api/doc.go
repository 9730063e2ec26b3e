// Package api hosts the HTTP surface of the sync service. Notable routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/sync to trigger a run, GET /v1/sync/runs[/latest] for summaries.
//   - GET /v1/disciplines[/{id}[/classes/{number}]] to read the catalog, with an
//     optional student status overlay.
//   - PUT /v1/disciplines/{id}/classes/{number}/whatsapp to curate group links.
package api
