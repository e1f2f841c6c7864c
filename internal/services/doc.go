// Package services defines shared utilities consumed by the enrichment
// pipeline and its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run identifiers, batch numbers, and provider
//     job handles for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     (submission, job failure, timeout, transient) so the job watcher and the
//     pipeline driver can decide between retrying and moving on.
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// (error handling, observability, retries) stays uniform across components.
package services
