// Package jobwatch waits for submitted provider jobs to reach a terminal
// status.
//
// Each attempt polls at a fixed interval until the job is ready, failed, or
// the per-attempt timeout expires. Failed and timed-out attempts are retried
// by waiting on the same job again (never by resubmitting) with a linear
// backoff between attempts. Exhausting the attempts returns the last error,
// which the pipeline records against the batch before moving on.
package jobwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gravekeeper/internal/config"
	"gravekeeper/internal/logging"
	"gravekeeper/internal/provider"
	"gravekeeper/internal/ratelimit"
	"gravekeeper/internal/services"
)

// JobAPI is the subset of the provider client the watcher needs.
type JobAPI interface {
	Poll(ctx context.Context, job *provider.Job) (provider.StatusReport, error)
	FetchResults(ctx context.Context, job *provider.Job) ([]provider.ResultRow, error)
}

// Options control polling and retry behaviour.
type Options struct {
	PollInterval time.Duration
	JobTimeout   time.Duration
	MaxAttempts  int
	RetryBase    time.Duration
}

// OptionsFromConfig converts the [watch] section.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PollInterval: cfg.PollInterval(),
		JobTimeout:   cfg.JobTimeout(),
		MaxAttempts:  cfg.Watch.MaxAttempts,
		RetryBase:    cfg.RetryBaseDelay(),
	}
}

// Progress is one observation of a job while waiting.
type Progress struct {
	Handle  string
	Attempt int
	Elapsed time.Duration
	Status  provider.Status
	Records int
	Errors  int
	// PollErr is set when the status check failed and the job is assumed running.
	PollErr error
}

// Watcher polls jobs through a JobAPI.
type Watcher struct {
	api        JobAPI
	opts       Options
	logger     *slog.Logger
	sleep      ratelimit.Sleeper
	now        func() time.Time
	onProgress func(Progress)
}

// Option customizes a Watcher.
type Option func(*Watcher)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logging.NewComponentLogger(logger, "jobwatch")
		}
	}
}

// WithSleeper overrides how the watcher waits between polls and attempts.
func WithSleeper(sleep ratelimit.Sleeper) Option {
	return func(w *Watcher) {
		if sleep != nil {
			w.sleep = sleep
		}
	}
}

// WithClock overrides the time source used for elapsed and timeout checks.
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) {
		if now != nil {
			w.now = now
		}
	}
}

// WithProgress registers a callback invoked after every poll.
func WithProgress(fn func(Progress)) Option {
	return func(w *Watcher) {
		w.onProgress = fn
	}
}

// New constructs a Watcher.
func New(api JobAPI, opts Options, options ...Option) *Watcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 240 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBase < 0 {
		opts.RetryBase = 0
	}
	w := &Watcher{
		api:    api,
		opts:   opts,
		logger: logging.NewComponentLogger(nil, "jobwatch"),
		sleep:  ratelimit.SleepWithContext,
		now:    time.Now,
	}
	for _, opt := range options {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Wait blocks until job is ready and returns its rows. Job failures and
// timeouts are retried up to MaxAttempts, sleeping attempt × RetryBase before
// each retry. The job's Status is updated to its terminal value.
func (w *Watcher) Wait(ctx context.Context, job *provider.Job) ([]provider.ResultRow, error) {
	if job == nil || job.Handle == "" {
		return nil, services.Wrap(services.ErrValidation, "jobwatch", "wait", "job handle required", nil)
	}
	logger := logging.WithContext(services.WithJobID(ctx, job.Handle), w.logger)

	var lastErr error
	for attempt := 1; attempt <= w.opts.MaxAttempts; attempt++ {
		rows, err := w.waitOnce(ctx, job, attempt, logger)
		if err == nil {
			job.Status = provider.StatusReady
			return rows, nil
		}
		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !services.Retryable(err) || attempt == w.opts.MaxAttempts {
			break
		}
		backoff := time.Duration(attempt) * w.opts.RetryBase
		logging.WarnWithContext(logger, "job wait failed; retrying",
			"job_wait_retry",
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", w.opts.MaxAttempts),
			logging.Duration("backoff", backoff),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "provider may be overloaded; the same job is polled again"),
			logging.String(logging.FieldImpact, "batch is delayed"))
		if err := w.sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}

	switch {
	case errors.Is(lastErr, services.ErrJobTimeout):
		job.Status = provider.StatusTimedOut
	default:
		job.Status = provider.StatusFailed
	}
	return nil, lastErr
}

func (w *Watcher) waitOnce(ctx context.Context, job *provider.Job, attempt int, logger *slog.Logger) ([]provider.ResultRow, error) {
	start := w.now()
	sampler := logging.NewProgressSampler(0)
	for {
		report, pollErr := w.api.Poll(ctx, job)
		if pollErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Debug("status check failed; treating job as running", logging.Error(pollErr))
			report = provider.StatusReport{Status: provider.StatusRunning, Records: -1}
		}
		elapsed := w.now().Sub(start)
		w.emit(Progress{
			Handle:  job.Handle,
			Attempt: attempt,
			Elapsed: elapsed,
			Status:  report.Status,
			Records: report.Records,
			Errors:  report.Errors,
			PollErr: pollErr,
		})
		if sampler.ShouldLog(string(report.Status), report.Records) {
			logger.Info("job status",
				logging.String(logging.FieldEventType, "job_status"),
				logging.String("status", string(report.Status)),
				logging.Int("attempt", attempt),
				logging.Duration("elapsed", elapsed),
				logging.Int("records", report.Records),
				logging.Int("errors", report.Errors))
		}

		switch report.Status {
		case provider.StatusReady:
			rows, err := w.api.FetchResults(ctx, job)
			if err != nil {
				return nil, err
			}
			return rows, nil
		case provider.StatusFailed:
			return nil, services.Wrap(services.ErrJobFailed, "jobwatch", "wait", fmt.Sprintf("job %s reported failure", job.Handle), nil)
		}

		if elapsed >= w.opts.JobTimeout {
			return nil, services.Wrap(services.ErrJobTimeout, "jobwatch", "wait",
				fmt.Sprintf("job %s still running after %s", job.Handle, w.opts.JobTimeout), nil)
		}
		if err := w.sleep(ctx, w.opts.PollInterval); err != nil {
			return nil, err
		}
	}
}

// Watch polls a job without a timeout until it is terminal or ctx is done,
// reporting every observation to render. It returns the rows when the job
// becomes ready.
func (w *Watcher) Watch(ctx context.Context, job *provider.Job, render func(Progress)) ([]provider.ResultRow, error) {
	if job == nil || job.Handle == "" {
		return nil, services.Wrap(services.ErrValidation, "jobwatch", "watch", "job handle required", nil)
	}
	start := w.now()
	for {
		report, pollErr := w.api.Poll(ctx, job)
		if pollErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			report = provider.StatusReport{Status: provider.StatusRunning, Records: -1}
		}
		if render != nil {
			render(Progress{
				Handle:  job.Handle,
				Attempt: 1,
				Elapsed: w.now().Sub(start),
				Status:  report.Status,
				Records: report.Records,
				Errors:  report.Errors,
				PollErr: pollErr,
			})
		}
		if report.Status.Terminal() {
			job.Status = report.Status
			switch report.Status {
			case provider.StatusReady:
				return w.api.FetchResults(ctx, job)
			case provider.StatusTimedOut:
				return nil, services.Wrap(services.ErrJobTimeout, "jobwatch", "watch", fmt.Sprintf("job %s timed out at the provider", job.Handle), nil)
			default:
				return nil, services.Wrap(services.ErrJobFailed, "jobwatch", "watch", fmt.Sprintf("job %s reported failure", job.Handle), nil)
			}
		}
		if err := w.sleep(ctx, w.opts.PollInterval); err != nil {
			return nil, err
		}
	}
}

func (w *Watcher) emit(p Progress) {
	if w.onProgress != nil {
		w.onProgress(p)
	}
}
