package pipeline

import (
	"errors"
	"log/slog"

	"gravekeeper/internal/assets"
	"gravekeeper/internal/catalog"
	"gravekeeper/internal/config"
	"gravekeeper/internal/importer"
	"gravekeeper/internal/jobwatch"
	"gravekeeper/internal/matcher"
	"gravekeeper/internal/progress"
	"gravekeeper/internal/provider"
	"gravekeeper/internal/ratelimit"
	"gravekeeper/internal/reviews"
)

// Runtime bundles a Driver with the stores it owns.
type Runtime struct {
	Driver   *Driver
	Catalog  *catalog.Catalog
	Progress *progress.Store
	Reviews  *reviews.Store
	Client   *provider.Client
	Watcher  *jobwatch.Watcher
}

// RuntimeOptions adjusts how Open assembles a Runtime.
type RuntimeOptions struct {
	DryRun    bool
	Resume    bool
	BatchSize int
	// ProviderOptions are appended to the client built from config.
	ProviderOptions []provider.Option
	WatchOptions    []jobwatch.Option
	DriverOptions   []Option
}

// Open loads the catalog and progress file and wires every collaborator from
// cfg. Dry runs open neither the provider client nor the review database.
func Open(cfg *config.Config, logger *slog.Logger, ro RuntimeOptions) (*Runtime, error) {
	cat, err := catalog.Load(cfg.Paths.CatalogFile)
	if err != nil {
		return nil, err
	}
	prog, err := progress.Open(cfg.Paths.ProgressFile, logger)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Catalog: cat, Progress: prog}

	batchSize := cfg.Pipeline.BatchSize
	if ro.BatchSize > 0 {
		batchSize = ro.BatchSize
	}
	opts := Options{
		BatchSize: batchSize,
		PhotoDir:  cfg.Paths.PhotoDir,
		Matching:  matcher.OptionsFromConfig(cfg),
		DryRun:    ro.DryRun,
		Resume:    ro.Resume,
	}
	deps := Deps{
		Catalog:  cat,
		Progress: prog,
		Limiter:  ratelimit.New(ratelimit.OptionsFromConfig(cfg)),
		Logger:   logger,
	}

	if !ro.DryRun {
		client, err := provider.NewFromConfig(cfg, logger, ro.ProviderOptions...)
		if err != nil {
			return nil, err
		}
		store, err := reviews.Open(cfg.Paths.ReviewsDB)
		if err != nil {
			return nil, err
		}
		watchOpts := append([]jobwatch.Option{jobwatch.WithLogger(logger)}, ro.WatchOptions...)
		rt.Client = client
		rt.Reviews = store
		rt.Watcher = jobwatch.New(client, jobwatch.OptionsFromConfig(cfg), watchOpts...)
		deps.Jobs = client
		deps.Watcher = rt.Watcher
		deps.Downloads = assets.New(assets.OptionsFromConfig(cfg), assets.WithLogger(logger))
		deps.Importer = importer.New(store, cat, cfg.Paths.PhotoURLPrefix, logger)
	}

	driver, err := New(deps, opts, ro.DriverOptions...)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Driver = driver
	return rt, nil
}

// Close releases the review database.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.Reviews != nil {
		errs = append(errs, r.Reviews.Close())
	}
	return errors.Join(errs...)
}
