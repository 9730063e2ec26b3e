// Package main hosts the discipline sync service entrypoint.
//
// Architecture overview:
//   - Portal client: internal/portal logs in with the institutional account, walks the paginated discipline
//     listing, and fetches each class page through a shared per-host rate limiter with bounded retries.
//   - Engine: internal/engine runs one synchronization at a time. References are queued and fanned out to a fixed
//     worker pool; each discipline is parsed and reconciled on its own, so one bad page never blocks the rest.
//   - Catalog: internal/reconcile merges fresh data into the store while preserving curated WhatsApp links, and
//     removes disciplines only after a complete enumeration. Postgres backs the catalog when db.dsn is set.
//   - Surfaces: internal/api serves health, metrics, run summaries, and catalog reads; internal/scheduler fires runs
//     from a cron expression. Failed pages may be archived to local disk or GCS, and run events go to Pub/Sub.
//
// Commands:
//   - serve: HTTP API plus optional scheduler, drained on SIGTERM.
//   - sync: one blocking run; exits non-zero when the run fails.
//   - migrate up|down: apply or roll back the Postgres schema.
//
// Configuration comes from an optional YAML file, a .env file, and DISCIPLINES_* environment variables, for example
// DISCIPLINES_PORTAL_BASE_URL, DISCIPLINES_CREDENTIALS_USERNAME, DISCIPLINES_CREDENTIALS_PASSWORD, and
// DISCIPLINES_DB_DSN.
package main
