package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gravekeeper/internal/config"
	"gravekeeper/internal/logging"
	"gravekeeper/internal/services"
)

const maxErrorBody = 512

// Client talks to the provider job API.
type Client struct {
	baseURL      string
	token        string
	language     string
	region       string
	reviewsLimit int
	httpClient   *http.Client
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logging.NewComponentLogger(logger, "provider")
		}
	}
}

// WithClock overrides the submission timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLocale sets the language, region, and per-place review cap sent with each job.
func WithLocale(language, region string, reviewsLimit int) Option {
	return func(c *Client) {
		c.language = strings.TrimSpace(language)
		c.region = strings.TrimSpace(region)
		c.reviewsLimit = reviewsLimit
	}
}

// New creates a provider client.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "provider", "new", "base url required", nil)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, services.Wrap(services.ErrConfiguration, "provider", "new", "api token required", nil)
	}
	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logging.NewComponentLogger(nil, "provider"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// NewFromConfig creates a client from the [provider] section.
func NewFromConfig(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	if err := cfg.RequireProviderToken(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "provider", "new", "", err)
	}
	base := []Option{
		WithHTTPClient(&http.Client{Timeout: cfg.ProviderTimeout()}),
		WithLogger(logger),
		WithLocale(cfg.Provider.Language, cfg.Provider.Region, cfg.Provider.ReviewsLimit),
	}
	return New(cfg.Provider.BaseURL, cfg.Provider.APIToken, append(base, opts...)...)
}

type submitRequest struct {
	Queries      []string `json:"queries"`
	Language     string   `json:"language,omitempty"`
	Region       string   `json:"region,omitempty"`
	ReviewsLimit int      `json:"reviews_limit,omitempty"`
}

type submitResponse struct {
	ID string `json:"id"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Records int    `json:"records"`
	Errors  int    `json:"errors"`
}

// Submit creates one job for the batch. Failures are ErrSubmission and are
// not retried here.
func (c *Client) Submit(ctx context.Context, queries []Query) (*Job, error) {
	if len(queries) == 0 {
		return nil, services.Wrap(services.ErrValidation, "provider", "submit", "empty batch", nil)
	}
	keys := make(map[string]string, len(queries))
	body := submitRequest{
		Queries:      make([]string, 0, len(queries)),
		Language:     c.language,
		Region:       c.region,
		ReviewsLimit: c.reviewsLimit,
	}
	for _, q := range queries {
		key := strings.TrimSpace(q.Key)
		if key == "" {
			continue
		}
		if _, dup := keys[key]; !dup {
			body.Queries = append(body.Queries, key)
		}
		keys[key] = q.Slug
	}
	if len(body.Queries) == 0 {
		return nil, services.Wrap(services.ErrValidation, "provider", "submit", "no usable lookup keys", nil)
	}

	var resp submitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/jobs", body, &resp); err != nil {
		return nil, services.Wrap(services.ErrSubmission, "provider", "submit", fmt.Sprintf("%d queries", len(body.Queries)), err)
	}
	handle := strings.TrimSpace(resp.ID)
	if handle == "" {
		return nil, services.Wrap(services.ErrSubmission, "provider", "submit", "response carried no job id", nil)
	}
	job := NewJob(handle, c.now(), keys)
	c.logger.Debug("job submitted",
		logging.String(logging.FieldJobID, handle),
		logging.Int("queries", len(body.Queries)))
	return job, nil
}

// Poll performs one status check.
func (c *Client) Poll(ctx context.Context, job *Job) (StatusReport, error) {
	if job == nil || job.Handle == "" {
		return StatusReport{}, services.Wrap(services.ErrValidation, "provider", "status", "job handle required", nil)
	}
	var resp statusResponse
	if err := c.doJSON(ctx, http.MethodGet, "/jobs/"+url.PathEscape(job.Handle), nil, &resp); err != nil {
		return StatusReport{Status: StatusRunning}, services.Wrap(services.ErrTransient, "provider", "status", job.Handle, err)
	}
	return StatusReport{Status: ParseStatus(resp.Status), Records: resp.Records, Errors: resp.Errors}, nil
}

// PollOnce performs one status check and never fails: errors are logged at
// debug level and reported as StatusRunning.
func (c *Client) PollOnce(ctx context.Context, job *Job) Status {
	report, err := c.Poll(ctx, job)
	if err != nil {
		c.logger.Debug("status check failed; treating job as running",
			logging.String(logging.FieldJobID, jobHandle(job)),
			logging.Error(err))
		return StatusRunning
	}
	return report.Status
}

// FetchResults downloads the result rows of a ready job. Providers that group
// rows per query return nested arrays; those are flattened in order.
func (c *Client) FetchResults(ctx context.Context, job *Job) ([]ResultRow, error) {
	if job == nil || job.Handle == "" {
		return nil, services.Wrap(services.ErrValidation, "provider", "results", "job handle required", nil)
	}
	var raw []json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/jobs/"+url.PathEscape(job.Handle)+"/results", nil, &raw); err != nil {
		return nil, services.Wrap(services.ErrTransient, "provider", "results", job.Handle, err)
	}
	rows := make([]ResultRow, 0, len(raw))
	for idx, item := range raw {
		item = bytes.TrimSpace(item)
		if len(item) == 0 || bytes.Equal(item, []byte("null")) {
			continue
		}
		if item[0] == '[' {
			var group []ResultRow
			if err := json.Unmarshal(item, &group); err != nil {
				return nil, services.Wrap(services.ErrTransient, "provider", "results", fmt.Sprintf("decode group %d", idx), err)
			}
			rows = append(rows, group...)
			continue
		}
		var row ResultRow
		if err := json.Unmarshal(item, &row); err != nil {
			return nil, services.Wrap(services.ErrTransient, "provider", "results", fmt.Sprintf("decode row %d", idx), err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return fmt.Errorf("execute request (latency=%v): %w", latency, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet)), Latency: latency}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response (latency=%v): %w", latency, err)
	}
	return nil
}

// HTTPError is a non-2xx provider response.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	Latency    time.Duration
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("%s %s returned %d (latency=%v)", e.Method, e.Path, e.StatusCode, e.Latency)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// IsAuthError reports whether err carries a 401 or 403 response.
func IsAuthError(err error) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	return httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden
}

func jobHandle(job *Job) string {
	if job == nil {
		return ""
	}
	return job.Handle
}
