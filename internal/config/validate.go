package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable. The provider token is not
// required here: dry runs and progress inspection work without it, and the
// commands that talk to the provider call RequireProviderToken.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateProvider(); err != nil {
		return err
	}
	if err := c.validateRateLimit(); err != nil {
		return err
	}
	if err := c.validateWatch(); err != nil {
		return err
	}
	if err := c.validateMatching(); err != nil {
		return err
	}
	if err := c.validateDownload(); err != nil {
		return err
	}
	if c.Pipeline.BatchSize <= 0 {
		return errors.New("pipeline.batch_size must be positive")
	}
	return nil
}

// RequireProviderToken reports a configuration error when no bearer token is available.
func (c *Config) RequireProviderToken() error {
	if strings.TrimSpace(c.Provider.APIToken) != "" {
		return nil
	}
	defaultPath, err := DefaultConfigPath()
	if err != nil {
		defaultPath = defaultConfigPath
	}
	return fmt.Errorf("provider.api_token is required. Set PROVIDER_API_TOKEN env var or edit %s (create with 'gravekeeper config init')", defaultPath)
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.CatalogFile) == "" {
		return errors.New("paths.catalog_file must be set")
	}
	if strings.TrimSpace(c.Paths.PhotoDir) == "" {
		return errors.New("paths.photo_dir must be set")
	}
	return nil
}

func (c *Config) validateProvider() error {
	parsed, err := url.Parse(c.Provider.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("provider.base_url %q must be an absolute URL", c.Provider.BaseURL)
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	rl := c.RateLimit
	if rl.MinDelayMillis < 0 {
		return errors.New("rate_limit.min_delay_ms must not be negative")
	}
	if rl.MaxDelayMillis < rl.MinDelayMillis {
		return errors.New("rate_limit.max_delay_ms must be >= rate_limit.min_delay_ms")
	}
	if rl.InitialMillis < rl.MinDelayMillis || rl.InitialMillis > rl.MaxDelayMillis {
		return errors.New("rate_limit.initial_delay_ms must lie between min_delay_ms and max_delay_ms")
	}
	if rl.SuccessFactor <= 0 || rl.SuccessFactor > 1 {
		return errors.New("rate_limit.success_factor must be in (0, 1]")
	}
	if rl.ErrorFactor < 1 {
		return errors.New("rate_limit.error_factor must be >= 1")
	}
	if rl.MaxErrors <= 0 {
		return errors.New("rate_limit.max_consecutive_errors must be positive")
	}
	return nil
}

func (c *Config) validateWatch() error {
	if err := ensurePositiveMap(map[string]int{
		"watch.poll_interval":      c.Watch.PollInterval,
		"watch.job_timeout":        c.Watch.JobTimeout,
		"watch.max_attempts":       c.Watch.MaxAttempts,
		"provider.request_timeout": c.Provider.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.Watch.JobTimeout < c.Watch.PollInterval {
		return errors.New("watch.job_timeout must be >= watch.poll_interval")
	}
	return nil
}

func (c *Config) validateMatching() error {
	m := c.Matching
	if m.Tolerance <= 0 {
		return errors.New("matching.tolerance must be positive")
	}
	if m.MinLat >= m.MaxLat || m.MinLng >= m.MaxLng {
		return errors.New("matching bounding box must have min < max for both lat and lng")
	}
	return nil
}

func (c *Config) validateDownload() error {
	if err := ensurePositiveMap(map[string]int{
		"download.timeout":   c.Download.Timeout,
		"download.min_bytes": c.Download.MinBytes,
	}); err != nil {
		return err
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
