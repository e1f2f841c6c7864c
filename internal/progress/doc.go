// Package progress persists which catalog entries an enrichment run has
// already handled, the cumulative run counters, and the journal of provider
// jobs that were submitted but not yet imported.
//
// # Storage
//
// State lives in a single JSON file (default
// ~/.local/share/gravekeeper/progress.json) that is read fully on open and
// rewritten atomically after every batch, so a crash at any point leaves a
// readable file. A sibling ".lock" file held with flock keeps two runs from
// writing the same progress file.
//
// # Statuses
//
// Every processed slug carries a status: "success" when its batch completed,
// "error" when the batch failed terminally. Both statuses exclude the slug from
// later runs; Reset with errorsOnly clears just the error subset so a failed
// provider window can be retried without redoing successful work.
package progress
