package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"gravekeeper/internal/catalog"
	"gravekeeper/internal/importer"
	"gravekeeper/internal/logging"
	"gravekeeper/internal/matcher"
	"gravekeeper/internal/progress"
	"gravekeeper/internal/provider"
	"gravekeeper/internal/services"
	"gravekeeper/internal/textutil"
)

// Run executes one enrichment run. It returns an error only for setup
// failures; batch failures are recorded in progress and the summary.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	summary := Summary{
		RunID:     d.newRunID(),
		DryRun:    d.opts.DryRun,
		StartedAt: d.now(),
	}
	ctx = services.WithRunID(ctx, summary.RunID)
	logger := logging.WithContext(ctx, d.logger)

	if d.opts.DryRun {
		return d.dryRun(summary, logger), nil
	}

	release, err := d.acquire()
	if err != nil {
		return summary, err
	}
	defer release()

	d.setState(StateRunning)
	summary.State = StateRunning

	before := d.deps.Progress.Counters()
	d.handlePending(ctx, &summary, logger)

	candidates := d.SelectCandidates(nil)
	batches := Plan(candidates, d.opts.BatchSize)
	summary.Candidates = len(candidates)
	summary.Batches = len(batches)
	logger.Info("run started",
		logging.String(logging.FieldEventType, "run_started"),
		logging.Int("candidates", len(candidates)),
		logging.Int("batches", len(batches)),
		logging.Int("batch_size", d.opts.BatchSize))

	final := StateCompleted
	if summary.State == StateHalted {
		final = StateHalted
	}
	for _, batch := range batches {
		if final != StateCompleted {
			break
		}
		if ctx.Err() != nil {
			final = StateInterrupted
			break
		}
		if d.deps.Limiter.ShouldStop() {
			final = StateHalted
			break
		}
		if err := d.deps.Limiter.Wait(ctx); err != nil {
			final = StateInterrupted
			break
		}
		// A submitted batch always completes and is flushed.
		bctx := services.WithBatch(context.WithoutCancel(ctx), batch.Number)
		if ok := d.runBatch(bctx, batch); !ok {
			summary.BatchesFailed++
		}
		summary.BatchesRun++
	}

	d.deps.Progress.Touch(d.now())
	if err := d.deps.Progress.Save(); err != nil {
		logging.ErrorWithContext(logger, "final progress save failed", "progress_save_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the progress file directory is writable"))
	}

	summary.Counters = counterDelta(before, d.deps.Progress.Counters())
	summary.State = final
	summary.FinishedAt = d.now()
	d.setState(final)
	d.logSummary(logger, summary)
	return summary, nil
}

func (d *Driver) dryRun(summary Summary, logger *slog.Logger) Summary {
	skip := make(map[string]bool)
	if d.opts.Resume {
		for _, job := range d.deps.Progress.PendingJobs() {
			for _, slug := range job.Keys {
				skip[slug] = true
			}
		}
	}
	candidates := d.SelectCandidates(skip)
	summary.Planned = Plan(candidates, d.opts.BatchSize)
	summary.Candidates = len(candidates)
	summary.Batches = len(summary.Planned)
	summary.State = StateCompleted
	summary.FinishedAt = d.now()
	logger.Info("dry run",
		logging.String(logging.FieldEventType, "dry_run"),
		logging.Int("candidates", summary.Candidates),
		logging.Int("batches", summary.Batches),
		logging.Int("pending_jobs", len(d.deps.Progress.PendingJobs())))
	return summary
}

// handlePending either resumes journaled jobs or abandons them.
func (d *Driver) handlePending(ctx context.Context, summary *Summary, logger *slog.Logger) {
	pending := d.deps.Progress.PendingJobs()
	if len(pending) == 0 {
		return
	}
	if !d.opts.Resume {
		for _, job := range pending {
			logging.WarnWithContext(logger, "abandoning pending job from earlier run", "pending_job_abandoned",
				logging.String(logging.FieldJobID, job.Handle),
				logging.Int("listings", len(job.Keys)),
				logging.String(logging.FieldErrorHint, "use --resume or 'gravekeeper import <job>' to keep its results"),
				logging.String(logging.FieldImpact, "listings will be submitted again"))
			d.deps.Progress.ClearPending(job.Handle)
		}
		d.saveProgress(logger)
		return
	}
	for _, pj := range pending {
		if ctx.Err() != nil {
			return
		}
		job := provider.NewJob(pj.Handle, pj.SubmittedAt, pj.Keys)
		batch := Batch{Number: pj.Batch, Candidates: d.candidatesFor(pj.Keys)}
		bctx := services.WithBatch(context.WithoutCancel(ctx), batch.Number)
		logger.Info("resuming pending job",
			logging.String(logging.FieldEventType, "job_resumed"),
			logging.String(logging.FieldJobID, job.Handle),
			logging.Int("listings", len(batch.Candidates)))
		rows, err := d.deps.Watcher.Wait(services.WithJobID(bctx, job.Handle), job)
		d.finishBatch(bctx, batch, job, rows, err)
		summary.Resumed++
		if d.deps.Limiter.ShouldStop() {
			summary.State = StateHalted
			return
		}
	}
}

// runBatch submits and processes one batch. It reports whether the batch
// succeeded.
func (d *Driver) runBatch(ctx context.Context, batch Batch) bool {
	queries := make([]provider.Query, 0, len(batch.Candidates))
	for _, cand := range batch.Candidates {
		queries = append(queries, provider.Query{Key: cand.LookupKey, Slug: cand.Slug})
	}

	job, err := d.deps.Jobs.Submit(ctx, queries)
	if err != nil {
		return d.finishBatch(ctx, batch, nil, nil, err)
	}
	ctx = services.WithJobID(ctx, job.Handle)
	logger := logging.WithContext(ctx, d.logger)
	logger.Info("batch submitted",
		logging.String(logging.FieldEventType, "batch_submitted"),
		logging.Int("listings", len(batch.Candidates)))

	d.deps.Progress.RecordPending(progress.PendingJob{
		Handle:      job.Handle,
		SubmittedAt: job.SubmittedAt,
		Batch:       batch.Number,
		Keys:        job.Keys,
	})
	d.saveProgress(logger)

	rows, err := d.deps.Watcher.Wait(ctx, job)
	return d.finishBatch(ctx, batch, job, rows, err)
}

// finishBatch applies the outcome of a batch to the limiter, progress, and
// catalog, then flushes both files.
func (d *Driver) finishBatch(ctx context.Context, batch Batch, job *provider.Job, rows []provider.ResultRow, waitErr error) bool {
	if job != nil {
		ctx = services.WithJobID(ctx, job.Handle)
	}
	logger := logging.WithContext(ctx, d.logger)
	slugs := batch.Slugs()

	var delta progress.Counters
	ok := waitErr == nil
	if ok {
		d.deps.Limiter.OnSuccess()
		delta, _ = d.processRows(ctx, batch.Candidates, job, rows)
		d.deps.Progress.MarkProcessed(progress.StatusSuccess, slugs...)
	} else {
		d.deps.Limiter.OnError()
		delta.Errors = len(slugs)
		d.deps.Progress.MarkProcessed(progress.StatusError, slugs...)
		logging.WarnWithContext(logger, "batch failed", "batch_failed",
			logging.Error(waitErr),
			logging.String("failure", services.FailureKind(waitErr)),
			logging.Int("listings", len(slugs)),
			logging.Int("consecutive_errors", d.deps.Limiter.ConsecutiveErrors()),
			logging.String(logging.FieldErrorHint, batchFailureHint(waitErr)),
			logging.String(logging.FieldImpact, "listings in this batch marked as failed"))
	}
	if job != nil {
		d.deps.Progress.ClearPending(job.Handle)
	}
	d.deps.Progress.AddCounters(delta)

	if d.deps.Catalog.Dirty() {
		if err := d.deps.Catalog.Save(); err != nil {
			logging.ErrorWithContext(logger, "catalog save failed", "catalog_save_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the catalog file is writable"),
				logging.String(logging.FieldImpact, "photo references from this batch are only in memory"))
		} else {
			logger.Debug("catalog saved", logging.String("path", d.deps.Catalog.Path()))
		}
	}
	d.saveProgress(logger)

	if ok {
		logger.Info("batch complete",
			logging.String(logging.FieldEventType, "batch_complete"),
			logging.Int("rows", len(rows)),
			logging.Int("found", delta.Found),
			logging.Int("not_found", delta.NotFound),
			logging.Int("downloaded", delta.Downloaded),
			logging.Int("reviews_imported", delta.ReviewsImported),
			logging.Int("unmatched", delta.Unmatched),
			logging.Duration("next_delay", d.deps.Limiter.Delay()))
	}
	return ok
}

func batchFailureHint(err error) string {
	if provider.IsAuthError(err) {
		return "provider rejected the token; check provider.api_token or PROVIDER_API_TOKEN, then 'gravekeeper reset --errors-only'"
	}
	return "rerun with 'gravekeeper reset --errors-only' to retry these listings"
}

// processRows routes each row through match, download, and import.
// It returns the batch counters and the set of slugs that matched a row.
func (d *Driver) processRows(ctx context.Context, pool []catalog.Candidate, job *provider.Job, rows []provider.ResultRow) (progress.Counters, map[string]bool) {
	var delta progress.Counters
	var imported importer.Outcome
	logger := logging.WithContext(ctx, d.logger)
	m := matcher.New(d.opts.Matching, pool)
	found := make(map[string]bool, len(pool))

	for _, row := range rows {
		result := m.Match(row, job)
		if !result.Matched() {
			delta.Unmatched++
			logger.Debug("row unmatched",
				logging.String(logging.FieldEventType, "row_unmatched"),
				logging.String("name", row.Name),
				logging.String("lookup_key", row.LookupKey))
			continue
		}
		rowCtx := services.WithSlug(ctx, result.Slug)
		logging.WithContext(rowCtx, d.logger).Debug("row matched",
			logging.String(logging.FieldEventType, "row_matched"),
			logging.String("matched_by", string(result.By)),
			logging.Float64("distance", result.Distance))

		photoPath := ""
		if !found[result.Slug] && !d.hasPhoto(result.Slug) && d.deps.Downloads != nil && len(row.PhotoURLs) > 0 {
			dest := d.photoDest(result.Slug)
			if source, ok := d.deps.Downloads.DownloadFirst(rowCtx, row.PhotoURLs, dest); ok {
				photoPath = dest
				delta.Downloaded++
				logging.WithContext(rowCtx, d.logger).Debug("photo stored",
					logging.String("source", source),
					logging.String("path", dest))
			}
		}
		found[result.Slug] = true
		imported.Add(d.deps.Importer.ImportRow(rowCtx, row, result.Slug, photoPath))
	}

	delta.Found = len(found)
	delta.NotFound = len(pool) - len(found)
	if delta.NotFound < 0 {
		delta.NotFound = 0
	}
	delta.ReviewsImported = imported.Inserted
	delta.ReviewsDuplicate = imported.Duplicates
	delta.ReviewsSkipped = imported.Skipped
	delta.ReviewsFailed = imported.Failed
	return delta, found
}

func (d *Driver) hasPhoto(slug string) bool {
	entry, ok := d.deps.Catalog.Get(slug)
	return ok && entry.HasPhoto()
}

func (d *Driver) photoDest(slug string) string {
	return filepath.Join(d.opts.PhotoDir, textutil.SanitizeToken(slug)+".jpg")
}

func (d *Driver) saveProgress(logger *slog.Logger) {
	if err := d.deps.Progress.Save(); err != nil {
		logging.ErrorWithContext(logger, "progress save failed", "progress_save_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the progress file directory is writable"),
			logging.String(logging.FieldImpact, "an interrupted run may resubmit this batch"))
	}
}

func (d *Driver) logSummary(logger *slog.Logger, s Summary) {
	attrs := []logging.Attr{
		logging.String("state", string(s.State)),
		logging.Int("batches_run", s.BatchesRun),
		logging.Int("batches_failed", s.BatchesFailed),
		logging.Int("found", s.Counters.Found),
		logging.Int("not_found", s.Counters.NotFound),
		logging.Int("downloaded", s.Counters.Downloaded),
		logging.Int("errors", s.Counters.Errors),
		logging.Duration("duration", s.Duration()),
	}
	switch s.State {
	case StateHalted:
		logging.WarnWithContext(logger, fmt.Sprintf("run halted after %d consecutive batch failures", d.deps.Limiter.ConsecutiveErrors()),
			"run_halted",
			append(attrs,
				logging.String(logging.FieldErrorHint, "check provider credentials and availability, then run again"),
				logging.String(logging.FieldImpact, "remaining batches not submitted; progress saved"))...)
	case StateInterrupted:
		attrs = append(attrs, logging.String(logging.FieldEventType, "run_interrupted"))
		logger.Info("run interrupted; progress saved", logging.Args(attrs...)...)
	default:
		attrs = append(attrs, logging.String(logging.FieldEventType, "run_complete"))
		logger.Info("run complete", logging.Args(attrs...)...)
	}
}

func counterDelta(before, after progress.Counters) progress.Counters {
	return progress.Counters{
		Found:            after.Found - before.Found,
		NotFound:         after.NotFound - before.NotFound,
		Errors:           after.Errors - before.Errors,
		Downloaded:       after.Downloaded - before.Downloaded,
		ReviewsImported:  after.ReviewsImported - before.ReviewsImported,
		ReviewsDuplicate: after.ReviewsDuplicate - before.ReviewsDuplicate,
		ReviewsSkipped:   after.ReviewsSkipped - before.ReviewsSkipped,
		ReviewsFailed:    after.ReviewsFailed - before.ReviewsFailed,
		Unmatched:        after.Unmatched - before.Unmatched,
	}
}
