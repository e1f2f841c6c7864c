// Package assets downloads and validates photos referenced by provider rows.
//
// A download either leaves exactly one complete file at the destination or
// nothing at all: bodies are streamed to a temp file beside the destination,
// checked against a minimum size that rejects placeholder images, and only
// then renamed into place. Redirects are followed by hand, up to a fixed
// number of hops, so each hop gets its own timeout. Downloads are paced with a
// token bucket so a batch never bursts the image host.
package assets

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"gravekeeper/internal/config"
	"gravekeeper/internal/fileutil"
	"gravekeeper/internal/logging"
)

var (
	// ErrTooSmall marks a body below the minimum size.
	ErrTooSmall = errors.New("downloaded file below minimum size")
	// ErrTooManyRedirects marks a redirect chain longer than allowed.
	ErrTooManyRedirects = errors.New("too many redirects")
)

// Options control download validation and pacing.
type Options struct {
	Timeout      time.Duration
	MinBytes     int64
	MaxRedirects int
	// Pause is the minimum gap between consecutive downloads.
	Pause time.Duration
}

// OptionsFromConfig converts the [download] section.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Timeout:      cfg.DownloadTimeout(),
		MinBytes:     int64(cfg.Download.MinBytes),
		MaxRedirects: cfg.Download.MaxRedirects,
		Pause:        cfg.DownloadPause(),
	}
}

// Downloader fetches photos one at a time.
type Downloader struct {
	opts   Options
	client *http.Client
	pacer  *rate.Limiter
	logger *slog.Logger
}

// Option customizes a Downloader.
type Option func(*Downloader)

// WithHTTPClient uses client's transport. Redirect handling is always done by
// the Downloader itself.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Downloader) {
		if client != nil {
			clone := *client
			clone.CheckRedirect = noFollow
			d.client = &clone
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Downloader) {
		if logger != nil {
			d.logger = logging.NewComponentLogger(logger, "assets")
		}
	}
}

// New constructs a Downloader.
func New(opts Options, options ...Option) *Downloader {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MinBytes <= 0 {
		opts.MinBytes = 2048
	}
	if opts.MaxRedirects < 0 {
		opts.MaxRedirects = 0
	}
	limit := rate.Inf
	if opts.Pause > 0 {
		limit = rate.Every(opts.Pause)
	}
	d := &Downloader{
		opts:   opts,
		client: &http.Client{CheckRedirect: noFollow},
		pacer:  rate.NewLimiter(limit, 1),
		logger: logging.NewComponentLogger(nil, "assets"),
	}
	for _, opt := range options {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

func noFollow(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

// Download fetches rawURL into dest and reports success. Failures are logged
// and leave no file behind.
func (d *Downloader) Download(ctx context.Context, rawURL, dest string) bool {
	if err := d.Fetch(ctx, rawURL, dest); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, d.logger), "photo download failed", "photo_download_failed",
			logging.String("url", rawURL),
			logging.String("dest", dest),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, downloadHint(err)),
			logging.String(logging.FieldImpact, "entry keeps no photo"))
		return false
	}
	return true
}

// DownloadFirst tries each URL in order and returns the first one that
// produced a valid file.
func (d *Downloader) DownloadFirst(ctx context.Context, urls []string, dest string) (string, bool) {
	for _, u := range urls {
		if strings.TrimSpace(u) == "" {
			continue
		}
		if d.Download(ctx, u, dest) {
			return u, true
		}
		if ctx.Err() != nil {
			break
		}
	}
	return "", false
}

// Fetch is Download with the failure reason.
func (d *Downloader) Fetch(ctx context.Context, rawURL, dest string) error {
	if err := d.pacer.Wait(ctx); err != nil {
		return err
	}
	target := strings.TrimSpace(html.UnescapeString(rawURL))
	if target == "" {
		return errors.New("empty url")
	}
	return d.fetch(ctx, target, dest, 0)
}

func (d *Downloader) fetch(ctx context.Context, target, dest string, hops int) error {
	reqCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", target, err)
	}
	defer resp.Body.Close()

	if isRedirect(resp.StatusCode) {
		location := strings.TrimSpace(resp.Header.Get("Location"))
		if location == "" {
			return fmt.Errorf("redirect %d without location", resp.StatusCode)
		}
		if hops >= d.opts.MaxRedirects {
			return fmt.Errorf("%w: more than %d hops", ErrTooManyRedirects, d.opts.MaxRedirects)
		}
		next, err := resolve(target, html.UnescapeString(location))
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		d.logger.Debug("following photo redirect", logging.String("from", target), logging.String("to", next), logging.Int("hop", hops+1))
		return d.fetch(ctx, next, dest, hops+1)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("get %s: status %d", target, resp.StatusCode)
	}

	return fileutil.WriteAtomic(dest, 0o644, func(w io.Writer) error {
		n, err := io.Copy(w, resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		if n < d.opts.MinBytes {
			return fmt.Errorf("%w: %d < %d bytes", ErrTooSmall, n, d.opts.MinBytes)
		}
		return nil
	})
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse redirect location: %w", err)
	}
	return b.ResolveReference(r).String(), nil
}

func downloadHint(err error) string {
	switch {
	case errors.Is(err, ErrTooSmall):
		return "provider returned a placeholder image"
	case errors.Is(err, ErrTooManyRedirects):
		return "photo URL redirects in a loop"
	case errors.Is(err, context.DeadlineExceeded):
		return "image host is slow; raise download.timeout"
	default:
		return "check the photo URL and network connectivity"
	}
}
