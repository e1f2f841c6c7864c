package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeProvider()
	c.normalizeRateLimit()
	c.normalizeWatch()
	c.normalizeDownload()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.CatalogFile, err = expandPath(strings.TrimSpace(c.Paths.CatalogFile)); err != nil {
		return fmt.Errorf("paths.catalog_file: %w", err)
	}
	if strings.TrimSpace(c.Paths.ProgressFile) == "" {
		c.Paths.ProgressFile = defaultProgressFile
	}
	if c.Paths.ProgressFile, err = expandPath(c.Paths.ProgressFile); err != nil {
		return fmt.Errorf("paths.progress_file: %w", err)
	}
	if strings.TrimSpace(c.Paths.ReviewsDB) == "" {
		c.Paths.ReviewsDB = defaultReviewsDB
	}
	if c.Paths.ReviewsDB, err = expandPath(c.Paths.ReviewsDB); err != nil {
		return fmt.Errorf("paths.reviews_db: %w", err)
	}
	if c.Paths.PhotoDir, err = expandPath(strings.TrimSpace(c.Paths.PhotoDir)); err != nil {
		return fmt.Errorf("paths.photo_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.PhotoURLPrefix = strings.TrimRight(strings.TrimSpace(c.Paths.PhotoURLPrefix), "/")
	return nil
}

func (c *Config) normalizeProvider() {
	c.Provider.APIToken = strings.TrimSpace(c.Provider.APIToken)
	if c.Provider.APIToken == "" {
		if value, ok := os.LookupEnv("PROVIDER_API_TOKEN"); ok {
			c.Provider.APIToken = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("OUTSCRAPER_API_KEY"); ok {
			c.Provider.APIToken = strings.TrimSpace(value)
		}
	}
	if value, ok := os.LookupEnv("PROVIDER_BASE_URL"); ok && strings.TrimSpace(value) != "" {
		c.Provider.BaseURL = value
	}
	c.Provider.BaseURL = strings.TrimRight(strings.TrimSpace(c.Provider.BaseURL), "/")
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = defaultProviderBaseURL
	}
	if c.Provider.RequestTimeout <= 0 {
		c.Provider.RequestTimeout = defaultProviderTimeout
	}
	c.Provider.Language = strings.TrimSpace(c.Provider.Language)
	c.Provider.Region = strings.ToUpper(strings.TrimSpace(c.Provider.Region))
	if c.Provider.ReviewsLimit < 0 {
		c.Provider.ReviewsLimit = 0
	}
}

func (c *Config) normalizeRateLimit() {
	if c.RateLimit.InitialMillis <= 0 {
		c.RateLimit.InitialMillis = c.RateLimit.MinDelayMillis
	}
	if c.RateLimit.SuccessFactor == 0 {
		c.RateLimit.SuccessFactor = defaultSuccessFactor
	}
	if c.RateLimit.ErrorFactor == 0 {
		c.RateLimit.ErrorFactor = defaultErrorFactor
	}
	if c.RateLimit.MaxErrors == 0 {
		c.RateLimit.MaxErrors = defaultMaxConsecutiveError
	}
}

func (c *Config) normalizeWatch() {
	if c.Watch.MaxAttempts == 0 {
		c.Watch.MaxAttempts = defaultMaxAttempts
	}
	if c.Watch.RetryBaseDelay < 0 {
		c.Watch.RetryBaseDelay = 0
	}
}

func (c *Config) normalizeDownload() {
	if c.Download.MaxRedirects < 0 {
		c.Download.MaxRedirects = 0
	}
	if c.Download.PauseMillis < 0 {
		c.Download.PauseMillis = 0
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
