package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"gravekeeper/internal/catalog"
	"gravekeeper/internal/importer"
	"gravekeeper/internal/logging"
	"gravekeeper/internal/matcher"
	"gravekeeper/internal/progress"
	"gravekeeper/internal/provider"
	"gravekeeper/internal/ratelimit"
	"gravekeeper/internal/services"
)

// RunState is the lifecycle position of a run.
type RunState string

const (
	StateIdle        RunState = "idle"
	StateRunning     RunState = "running"
	StateCompleted   RunState = "completed"
	StateHalted      RunState = "halted"
	StateInterrupted RunState = "interrupted"
)

// JobClient submits batches and fetches finished job results.
type JobClient interface {
	Submit(ctx context.Context, queries []provider.Query) (*provider.Job, error)
	FetchResults(ctx context.Context, job *provider.Job) ([]provider.ResultRow, error)
}

// JobWaiter blocks until a submitted job is ready.
type JobWaiter interface {
	Wait(ctx context.Context, job *provider.Job) ([]provider.ResultRow, error)
}

// PhotoDownloader fetches the first usable photo of a row.
type PhotoDownloader interface {
	DownloadFirst(ctx context.Context, urls []string, dest string) (string, bool)
}

// RowImporter persists one matched row.
type RowImporter interface {
	ImportRow(ctx context.Context, row provider.ResultRow, slug, photoPath string) importer.Outcome
}

// Deps are the collaborators a Driver owns for the duration of a run.
// Jobs, Watcher, Downloads, and Importer may be nil for dry runs.
type Deps struct {
	Catalog   *catalog.Catalog
	Progress  *progress.Store
	Limiter   *ratelimit.Limiter
	Jobs      JobClient
	Watcher   JobWaiter
	Downloads PhotoDownloader
	Importer  RowImporter
	Logger    *slog.Logger
}

// Options control batch selection and processing.
type Options struct {
	BatchSize int
	PhotoDir  string
	Matching  matcher.Options
	DryRun    bool
	// Resume re-watches jobs left pending by an earlier run before selecting
	// new candidates. Without it, pending jobs are abandoned and their
	// listings are selected again.
	Resume bool
}

// Batch is one ordered group of candidates submitted as a single job.
type Batch struct {
	Number     int
	Candidates []catalog.Candidate
}

// Slugs returns the slugs of the batch in order.
func (b Batch) Slugs() []string {
	out := make([]string, 0, len(b.Candidates))
	for _, c := range b.Candidates {
		out = append(out, c.Slug)
	}
	return out
}

// Summary reports what a run did.
type Summary struct {
	RunID         string
	State         RunState
	DryRun        bool
	Candidates    int
	Batches       int
	BatchesRun    int
	BatchesFailed int
	Resumed       int
	Planned       []Batch
	Counters      progress.Counters
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Duration returns the wall time of the run.
func (s Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() || s.StartedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Option customises a Driver.
type Option func(*Driver)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		if now != nil {
			d.now = now
		}
	}
}

// WithRunIDs overrides run ID generation.
func WithRunIDs(next func() string) Option {
	return func(d *Driver) {
		if next != nil {
			d.newRunID = next
		}
	}
}

// Driver runs the enrichment loop.
type Driver struct {
	deps   Deps
	opts   Options
	logger *slog.Logger

	now      func() time.Time
	newRunID func() string

	mu    sync.Mutex
	state RunState
}

// New validates deps and builds a Driver.
func New(deps Deps, opts Options, options ...Option) (*Driver, error) {
	if deps.Catalog == nil || deps.Progress == nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "new", "catalog and progress store are required", nil)
	}
	if opts.BatchSize <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "new", "batch size must be positive", nil)
	}
	if !opts.DryRun {
		if deps.Jobs == nil || deps.Watcher == nil || deps.Importer == nil || deps.Limiter == nil {
			return nil, services.Wrap(services.ErrConfiguration, "pipeline", "new", "job client, watcher, limiter, and importer are required", nil)
		}
	}
	d := &Driver{
		deps:     deps,
		opts:     opts,
		logger:   logging.NewComponentLogger(deps.Logger, "pipeline"),
		now:      time.Now,
		newRunID: func() string { return uuid.NewString() },
		state:    StateIdle,
	}
	for _, opt := range options {
		if opt != nil {
			opt(d)
		}
	}
	return d, nil
}

// State returns the current run state.
func (d *Driver) State() RunState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) setState(state RunState) {
	d.mu.Lock()
	d.state = state
	d.mu.Unlock()
}

// Reset clears recorded progress; with errorsOnly only failed listings are
// released. It returns the number of listings cleared.
func (d *Driver) Reset(errorsOnly bool) (int, error) {
	release, err := d.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	cleared := d.deps.Progress.Reset(errorsOnly)
	if err := d.deps.Progress.Save(); err != nil {
		return 0, err
	}
	d.logger.Info("progress reset",
		logging.String(logging.FieldEventType, "progress_reset"),
		logging.Bool("errors_only", errorsOnly),
		logging.Int("cleared", cleared))
	return cleared, nil
}

func (d *Driver) acquire() (func(), error) {
	if err := d.deps.Progress.Lock(); err != nil {
		if errors.Is(err, progress.ErrLocked) {
			return nil, services.Wrap(services.ErrConfiguration, "pipeline", "lock",
				"another gravekeeper process is using "+d.deps.Progress.Path(), err)
		}
		return nil, err
	}
	return func() {
		if err := d.deps.Progress.Unlock(); err != nil {
			d.logger.Debug("progress unlock failed", logging.Error(err))
		}
	}, nil
}
