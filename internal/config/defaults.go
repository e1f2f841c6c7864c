package config

const (
	defaultConfigPath          = "~/.config/gravekeeper/config.toml"
	defaultCatalogFile         = "data/cemeteries.json"
	defaultProgressFile        = "~/.local/share/gravekeeper/progress.json"
	defaultReviewsDB           = "~/.local/share/gravekeeper/reviews.db"
	defaultPhotoDir            = "public/images/cemeteries"
	defaultPhotoURLPrefix      = "/images/cemeteries"
	defaultLogDir              = "~/.local/share/gravekeeper/logs"
	defaultProviderBaseURL     = "https://api.app.outscraper.com"
	defaultProviderTimeout     = 30
	defaultProviderLanguage    = "nl"
	defaultProviderRegion      = "NL"
	defaultReviewsLimit        = 20
	defaultMinDelayMillis      = 1000
	defaultMaxDelayMillis      = 60000
	defaultInitialDelayMillis  = 2000
	defaultSuccessFactor       = 0.9
	defaultErrorFactor         = 1.5
	defaultMaxConsecutiveError = 5
	defaultPollInterval        = 5
	defaultJobTimeout          = 240
	defaultMaxAttempts         = 3
	defaultRetryBaseDelay      = 10
	defaultTolerance           = 0.003
	defaultDownloadTimeout     = 20
	defaultDownloadMinBytes    = 2048
	defaultDownloadRedirects   = 5
	defaultDownloadPauseMillis = 500
	defaultBatchSize           = 5
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults. The matching
// bounding box covers the Netherlands.
func Default() Config {
	return Config{
		Paths: Paths{
			CatalogFile:    defaultCatalogFile,
			ProgressFile:   defaultProgressFile,
			ReviewsDB:      defaultReviewsDB,
			PhotoDir:       defaultPhotoDir,
			PhotoURLPrefix: defaultPhotoURLPrefix,
			LogDir:         defaultLogDir,
		},
		Provider: Provider{
			BaseURL:        defaultProviderBaseURL,
			RequestTimeout: defaultProviderTimeout,
			Language:       defaultProviderLanguage,
			Region:         defaultProviderRegion,
			ReviewsLimit:   defaultReviewsLimit,
		},
		RateLimit: RateLimit{
			MinDelayMillis: defaultMinDelayMillis,
			MaxDelayMillis: defaultMaxDelayMillis,
			InitialMillis:  defaultInitialDelayMillis,
			SuccessFactor:  defaultSuccessFactor,
			ErrorFactor:    defaultErrorFactor,
			MaxErrors:      defaultMaxConsecutiveError,
		},
		Watch: Watch{
			PollInterval:   defaultPollInterval,
			JobTimeout:     defaultJobTimeout,
			MaxAttempts:    defaultMaxAttempts,
			RetryBaseDelay: defaultRetryBaseDelay,
		},
		Matching: Matching{
			Tolerance: defaultTolerance,
			MinLat:    50.7,
			MaxLat:    53.7,
			MinLng:    3.2,
			MaxLng:    7.3,
		},
		Download: Download{
			Timeout:      defaultDownloadTimeout,
			MinBytes:     defaultDownloadMinBytes,
			MaxRedirects: defaultDownloadRedirects,
			PauseMillis:  defaultDownloadPauseMillis,
		},
		Pipeline: Pipeline{
			BatchSize: defaultBatchSize,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
