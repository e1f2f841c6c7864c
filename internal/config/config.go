package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains file and directory locations.
type Paths struct {
	CatalogFile  string `toml:"catalog_file"`
	ProgressFile string `toml:"progress_file"`
	ReviewsDB    string `toml:"reviews_db"`
	PhotoDir     string `toml:"photo_dir"`
	// PhotoURLPrefix is prepended to the photo file name when the catalog
	// entry is updated (e.g. "/images/cemeteries").
	PhotoURLPrefix string `toml:"photo_url_prefix"`
	LogDir         string `toml:"log_dir"`
}

// Provider contains connection settings for the remote job API.
type Provider struct {
	BaseURL        string `toml:"base_url"`
	APIToken       string `toml:"api_token"`
	RequestTimeout int    `toml:"request_timeout"`
	// Language and Region are forwarded to the provider with each job.
	Language string `toml:"language"`
	Region   string `toml:"region"`
	// ReviewsLimit caps the number of reviews requested per place.
	ReviewsLimit int `toml:"reviews_limit"`
}

// RateLimit bounds the adaptive delay between provider submissions.
type RateLimit struct {
	MinDelayMillis int     `toml:"min_delay_ms"`
	MaxDelayMillis int     `toml:"max_delay_ms"`
	InitialMillis  int     `toml:"initial_delay_ms"`
	SuccessFactor  float64 `toml:"success_factor"`
	ErrorFactor    float64 `toml:"error_factor"`
	MaxErrors      int     `toml:"max_consecutive_errors"`
}

// Watch controls how submitted jobs are polled.
type Watch struct {
	PollInterval   int `toml:"poll_interval"`
	JobTimeout     int `toml:"job_timeout"`
	MaxAttempts    int `toml:"max_attempts"`
	RetryBaseDelay int `toml:"retry_base_delay"`
}

// Matching contains the geographic fallback parameters.
type Matching struct {
	Tolerance float64 `toml:"tolerance"`
	MinLat    float64 `toml:"min_lat"`
	MaxLat    float64 `toml:"max_lat"`
	MinLng    float64 `toml:"min_lng"`
	MaxLng    float64 `toml:"max_lng"`
}

// Download contains asset validation settings.
type Download struct {
	Timeout      int `toml:"timeout"`
	MinBytes     int `toml:"min_bytes"`
	MaxRedirects int `toml:"max_redirects"`
	PauseMillis  int `toml:"pause_ms"`
}

// Pipeline contains batch-level settings.
type Pipeline struct {
	BatchSize int `toml:"batch_size"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for gravekeeper.
//
// Configuration sections by subsystem:
//   - Paths: catalog, progress, reviews database, photos, logs
//   - Provider: job API endpoint and bearer token
//   - RateLimit: adaptive submission delay bounds
//   - Watch: job polling interval, timeout, and retry policy
//   - Matching: geographic fallback tolerance and bounding box
//   - Download: photo download timeout and size validation
//   - Pipeline: batch size
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Provider  Provider  `toml:"provider"`
	RateLimit RateLimit `toml:"rate_limit"`
	Watch     Watch     `toml:"watch"`
	Matching  Matching  `toml:"matching"`
	Download  Download  `toml:"download"`
	Pipeline  Pipeline  `toml:"pipeline"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("gravekeeper.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories a run writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.PhotoDir,
		c.Paths.LogDir,
		filepath.Dir(c.Paths.ProgressFile),
		filepath.Dir(c.Paths.ReviewsDB),
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath returns the single-instance lock file guarding the progress file.
func (c *Config) LockPath() string {
	return c.Paths.ProgressFile + ".lock"
}

// ProviderTimeout returns the per-request provider timeout.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Provider.RequestTimeout) * time.Second
}

// PollInterval returns the delay between job status checks.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Watch.PollInterval) * time.Second
}

// JobTimeout returns the per-attempt job wait budget.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Watch.JobTimeout) * time.Second
}

// RetryBaseDelay returns the linear backoff unit between watch attempts.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Watch.RetryBaseDelay) * time.Second
}

// DownloadTimeout returns the per-photo request timeout.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Download.Timeout) * time.Second
}

// DownloadPause returns the fixed pause between photo downloads.
func (c *Config) DownloadPause() time.Duration {
	return time.Duration(c.Download.PauseMillis) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
