// Package portal talks to the academic portal: it logs in with the
// institutional credentials, keeps the resulting cookie session, and fetches
// the discipline listing and per-discipline class pages through colly.
//
// Every request is rate limited per host and retried with exponential
// backoff for transient failures. Session expiry is surfaced as
// ErrSessionExpired so SessionManager can re-authenticate once.
package portal
