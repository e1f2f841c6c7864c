// Package pipeline drives an enrichment run end to end.
//
// A Driver selects catalog listings that still need enrichment, splits them
// into fixed-size batches, and processes the batches strictly one after
// another: wait on the rate limiter, submit the job, wait for it to finish,
// then match each result row to a listing, download its photo, and import
// its reviews. Progress is flushed to disk after every batch so that an
// interrupted or halted run can be resumed by simply running again.
//
// Runs move through idle, running, and one of completed, halted (too many
// consecutive batch failures), or interrupted (context cancelled between
// batches). A batch already submitted is always finished and flushed before
// the driver honours cancellation.
package pipeline
