// Package testsupport holds helpers shared by package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"gravekeeper/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp paths per test and
// delays short enough for tests. It applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.CatalogFile = filepath.Join(base, "cemeteries.json")
	cfgVal.Paths.ProgressFile = filepath.Join(base, "state", "progress.json")
	cfgVal.Paths.ReviewsDB = filepath.Join(base, "state", "reviews.db")
	cfgVal.Paths.PhotoDir = filepath.Join(base, "photos")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Provider.APIToken = "test"
	cfgVal.RateLimit.MinDelayMillis = 0
	cfgVal.RateLimit.InitialMillis = 0
	cfgVal.RateLimit.MaxDelayMillis = 10
	cfgVal.Watch.RetryBaseDelay = 0
	cfgVal.Download.PauseMillis = 0
	cfgVal.Logging.Level = "error"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithProvider points the config at a provider endpoint.
func WithProvider(baseURL, token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Provider.BaseURL = baseURL
		b.cfg.Provider.APIToken = token
	}
}

// WithBatchSize overrides pipeline.batch_size.
func WithBatchSize(size int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.BatchSize = size
	}
}

// BaseDir returns the parent directory of every path in cfg, derived from
// the catalog location NewConfig chose.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.CatalogFile)
}
