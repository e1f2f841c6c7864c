package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"gravekeeper/internal/config"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PROVIDER_API_TOKEN", "")
	t.Setenv("OUTSCRAPER_API_KEY", "")
	t.Setenv("PROVIDER_BASE_URL", "")
}

func TestLoadDefaultConfigUsesEnvTokenAndExpandsPaths(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("PROVIDER_API_TOKEN", "test-token")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantProgress := filepath.Join(tempHome, ".local", "share", "gravekeeper", "progress.json")
	if cfg.Paths.ProgressFile != wantProgress {
		t.Fatalf("unexpected progress file: got %q want %q", cfg.Paths.ProgressFile, wantProgress)
	}
	if !filepath.IsAbs(cfg.Paths.CatalogFile) {
		t.Fatalf("expected absolute catalog path, got %q", cfg.Paths.CatalogFile)
	}
	if cfg.Provider.APIToken != "test-token" {
		t.Fatalf("expected provider token from env, got %q", cfg.Provider.APIToken)
	}
	if cfg.Provider.BaseURL != config.Default().Provider.BaseURL {
		t.Fatalf("unexpected provider base url: %q", cfg.Provider.BaseURL)
	}
	if cfg.Pipeline.BatchSize != 5 {
		t.Fatalf("unexpected batch size: %d", cfg.Pipeline.BatchSize)
	}
	if cfg.JobTimeout().Seconds() != 240 {
		t.Fatalf("unexpected job timeout: %s", cfg.JobTimeout())
	}
	if cfg.LockPath() != wantProgress+".lock" {
		t.Fatalf("unexpected lock path: %q", cfg.LockPath())
	}

	cfg.Paths.PhotoDir = filepath.Join(tempHome, "photos")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.PhotoDir, cfg.Paths.LogDir, filepath.Dir(cfg.Paths.ProgressFile)} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	clearProviderEnv(t)
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "gravekeeper.toml")

	type payload struct {
		Provider struct {
			APIToken string `toml:"api_token"`
			BaseURL  string `toml:"base_url"`
		} `toml:"provider"`
		Pipeline struct {
			BatchSize int `toml:"batch_size"`
		} `toml:"pipeline"`
		Watch struct {
			PollInterval int `toml:"poll_interval"`
			JobTimeout   int `toml:"job_timeout"`
		} `toml:"watch"`
	}
	custom := payload{}
	custom.Provider.APIToken = "abc123"
	custom.Provider.BaseURL = "https://example.com/api/"
	custom.Pipeline.BatchSize = 8
	custom.Watch.PollInterval = 2
	custom.Watch.JobTimeout = 60
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Provider.APIToken != "abc123" {
		t.Fatalf("expected token from file, got %q", cfg.Provider.APIToken)
	}
	if cfg.Provider.BaseURL != "https://example.com/api" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Provider.BaseURL)
	}
	if cfg.Pipeline.BatchSize != 8 {
		t.Fatalf("expected batch size 8, got %d", cfg.Pipeline.BatchSize)
	}
	if cfg.PollInterval().Seconds() != 2 {
		t.Fatalf("expected poll interval 2s, got %s", cfg.PollInterval())
	}
}

func TestEnvBaseURLOverridesFile(t *testing.T) {
	clearProviderEnv(t)
	configPath := filepath.Join(t.TempDir(), "gravekeeper.toml")
	if err := os.WriteFile(configPath, []byte("[provider]\nbase_url = \"https://file.example.com\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PROVIDER_BASE_URL", "http://127.0.0.1:9999")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Provider.BaseURL != "http://127.0.0.1:9999" {
		t.Fatalf("expected env base url, got %q", cfg.Provider.BaseURL)
	}
}

func TestRequireProviderToken(t *testing.T) {
	cfg := config.Default()
	if err := cfg.RequireProviderToken(); err == nil {
		t.Fatal("expected error without token")
	}
	cfg.Provider.APIToken = "tok"
	if err := cfg.RequireProviderToken(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "PROVIDER_API_TOKEN") {
		t.Fatalf("sample config missing token hint: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if cfg.Pipeline.BatchSize != config.Default().Pipeline.BatchSize {
		t.Fatalf("sample batch size diverges from defaults: %d", cfg.Pipeline.BatchSize)
	}
	if cfg.Matching.Tolerance != config.Default().Matching.Tolerance {
		t.Fatalf("sample tolerance diverges from defaults: %v", cfg.Matching.Tolerance)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"batch size", func(c *config.Config) { c.Pipeline.BatchSize = 0 }},
		{"max below min", func(c *config.Config) { c.RateLimit.MaxDelayMillis = c.RateLimit.MinDelayMillis - 1 }},
		{"success factor", func(c *config.Config) { c.RateLimit.SuccessFactor = 1.2 }},
		{"error factor", func(c *config.Config) { c.RateLimit.ErrorFactor = 0.5 }},
		{"poll interval", func(c *config.Config) { c.Watch.PollInterval = 0 }},
		{"timeout below poll", func(c *config.Config) { c.Watch.JobTimeout = 1; c.Watch.PollInterval = 5 }},
		{"tolerance", func(c *config.Config) { c.Matching.Tolerance = 0 }},
		{"bounding box", func(c *config.Config) { c.Matching.MinLat = c.Matching.MaxLat }},
		{"min bytes", func(c *config.Config) { c.Download.MinBytes = 0 }},
		{"base url", func(c *config.Config) { c.Provider.BaseURL = "not a url" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
