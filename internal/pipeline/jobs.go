package pipeline

import (
	"context"
	"sort"
	"strings"

	"gravekeeper/internal/logging"
	"gravekeeper/internal/progress"
	"gravekeeper/internal/provider"
	"gravekeeper/internal/services"
)

// ImportJob fetches the results of a finished job and imports them.
func (d *Driver) ImportJob(ctx context.Context, handle string) (progress.Counters, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return progress.Counters{}, services.Wrap(services.ErrValidation, "pipeline", "import", "job handle required", nil)
	}
	if d.deps.Jobs == nil {
		return progress.Counters{}, services.Wrap(services.ErrConfiguration, "pipeline", "import", "job client unavailable", nil)
	}
	job := d.jobFor(handle)
	rows, err := d.deps.Jobs.FetchResults(services.WithJobID(ctx, handle), job)
	if err != nil {
		return progress.Counters{}, err
	}
	return d.ImportResults(ctx, handle, rows)
}

// ImportResults imports rows already fetched for handle. A job still in the
// pending journal is finished as its original batch. Any other handle is
// matched against the whole catalog, and only listings that matched a row
// are marked processed.
func (d *Driver) ImportResults(ctx context.Context, handle string, rows []provider.ResultRow) (progress.Counters, error) {
	release, err := d.acquire()
	if err != nil {
		return progress.Counters{}, err
	}
	defer release()

	ctx = services.WithJobID(ctx, handle)
	logger := logging.WithContext(ctx, d.logger)
	before := d.deps.Progress.Counters()

	if pj, ok := d.deps.Progress.Pending(handle); ok {
		job := provider.NewJob(pj.Handle, pj.SubmittedAt, pj.Keys)
		batch := Batch{Number: pj.Batch, Candidates: d.candidatesFor(pj.Keys)}
		d.finishBatch(services.WithBatch(ctx, batch.Number), batch, job, rows, nil)
		d.deps.Progress.Touch(d.now())
		d.saveProgress(logger)
		return counterDelta(before, d.deps.Progress.Counters()), nil
	}

	pool := d.deps.Catalog.All()
	job := provider.NewJob(handle, d.now(), nil)
	delta, found := d.processRows(ctx, pool, job, rows)
	delta.NotFound = 0
	slugs := make([]string, 0, len(found))
	for slug := range found {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	d.deps.Progress.MarkProcessed(progress.StatusSuccess, slugs...)
	d.deps.Progress.AddCounters(delta)
	d.deps.Progress.Touch(d.now())

	if err := d.deps.Catalog.Save(); err != nil {
		return counterDelta(before, d.deps.Progress.Counters()), err
	}
	if err := d.deps.Progress.Save(); err != nil {
		return counterDelta(before, d.deps.Progress.Counters()), err
	}
	logger.Info("job imported",
		logging.String(logging.FieldEventType, "job_imported"),
		logging.Int("rows", len(rows)),
		logging.Int("found", delta.Found),
		logging.Int("downloaded", delta.Downloaded),
		logging.Int("reviews_imported", delta.ReviewsImported),
		logging.Int("unmatched", delta.Unmatched))
	return counterDelta(before, d.deps.Progress.Counters()), nil
}

// jobFor returns the journaled job for handle, or a bare job when the handle
// is unknown.
func (d *Driver) jobFor(handle string) *provider.Job {
	if pj, ok := d.deps.Progress.Pending(handle); ok {
		return provider.NewJob(pj.Handle, pj.SubmittedAt, pj.Keys)
	}
	return provider.NewJob(handle, d.now(), nil)
}
