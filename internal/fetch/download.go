package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
)

const (
	// ToolHTTP selects the built-in HTTP client.
	ToolHTTP = "http"

	// ToolExternal selects an external download program (curl, else wget).
	ToolExternal = "external"

	defaultConnectTimeout = 10 * time.Second
	defaultRequestTimeout = 5 * time.Minute
	defaultAttempts       = 4
	defaultRetryDelay     = time.Second
	defaultMaxRetryDelay  = 8 * time.Second
)

// ErrNoDownloader is returned when no external download program is on PATH.
var ErrNoDownloader = errors.New("fetch: neither curl nor wget found on PATH")

// externalTools lists the external download programs in preference order.
var externalTools = []string{"curl", "wget"}

// Downloader retrieves url into the file at dst.
type Downloader interface {
	Download(ctx context.Context, url, dst string) error
	Name() string
}

// LookPathFunc matches exec.LookPath.
type LookPathFunc func(file string) (string, error)

// SelectDownloader picks the downloader for tool. It never touches the
// network, so an unusable tool is reported before any fetch is attempted.
func SelectDownloader(tool string, lookPath LookPathFunc, logger *slog.Logger) (Downloader, error) {
	switch tool {
	case "", ToolHTTP:
		return NewHTTPDownloader(HTTPConfig{}, logger), nil
	case ToolExternal:
		for _, name := range externalTools {
			path, err := lookPath(name)
			if err == nil {
				return &CommandDownloader{tool: name, path: path}, nil
			}
		}
		return nil, ErrNoDownloader
	default:
		return nil, fmt.Errorf("fetch: unknown fetch tool %q (want %q or %q)", tool, ToolHTTP, ToolExternal)
	}
}

// HTTPConfig tunes the built-in HTTP downloader.
type HTTPConfig struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	// Attempts is the total number of tries for transient failures.
	Attempts      int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	Clock clock.Clock
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *HTTPConfig) ApplyDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.Attempts == 0 {
		c.Attempts = defaultAttempts
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.MaxRetryDelay == 0 {
		c.MaxRetryDelay = defaultMaxRetryDelay
	}
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
}

// StatusError reports a non-2xx archive response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: GET %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Transient reports whether retrying the request may succeed.
func (e *StatusError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// HTTPDownloader downloads with net/http, retrying transient failures.
type HTTPDownloader struct {
	cfg    HTTPConfig
	client *http.Client
	logger *slog.Logger
}

// NewHTTPDownloader creates an HTTPDownloader with defaults applied.
func NewHTTPDownloader(cfg HTTPConfig, logger *slog.Logger) *HTTPDownloader {
	cfg.ApplyDefaults()
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
	}
	return &HTTPDownloader{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
		logger: logger.With("component", "fetch"),
	}
}

// Name implements Downloader.
func (d *HTTPDownloader) Name() string { return ToolHTTP }

// Download implements Downloader.
func (d *HTTPDownloader) Download(ctx context.Context, url, dst string) error {
	defer d.client.CloseIdleConnections()

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			return d.get(ctx, url, dst)
		},
		IsFatalError: func(err error) bool {
			if ctx.Err() != nil {
				return true
			}
			var se *StatusError
			if errors.As(err, &se) {
				return !se.Transient()
			}
			return false
		},
		NotifyFunc: func(err error, attempt int) {
			d.logger.Warn("download attempt failed", "url", url, "attempt", attempt, "error", err)
		},
		Attempts:    d.cfg.Attempts,
		Delay:       d.cfg.RetryDelay,
		MaxDelay:    d.cfg.MaxRetryDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       d.cfg.Clock,
		Stop:        ctx.Done(),
	})
	if err == nil {
		return nil
	}
	// LastError only understands the retry package's own terminal errors;
	// fatal errors come back as the function's error.
	if retry.IsAttemptsExceeded(err) || retry.IsDurationExceeded(err) || retry.IsRetryStopped(err) {
		err = retry.LastError(err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}

func (d *HTTPDownloader) get(ctx context.Context, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("fetch: create request: %w", err)
	}
	req.Header.Set("User-Agent", "ollama-lan-installer")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("fetch: create %s: %w", dst, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("fetch: read body from %s: %w", url, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("fetch: close %s: %w", dst, err)
	}
	return nil
}

// CommandDownloader shells out to curl or wget.
type CommandDownloader struct {
	tool string
	path string
}

// Name implements Downloader.
func (d *CommandDownloader) Name() string { return d.tool }

// Args returns the argument vector used to download url into dst.
func (d *CommandDownloader) Args(url, dst string) []string {
	if d.tool == "wget" {
		return []string{"-q", "-O", dst, url}
	}
	return []string{"-fsSL", "--retry", "3", "-o", dst, url}
}

// Download implements Downloader.
func (d *CommandDownloader) Download(ctx context.Context, url, dst string) error {
	cmd := exec.CommandContext(ctx, d.path, d.Args(url, dst)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("fetch: %s %s: %s: %w", d.tool, url, strings.TrimSpace(string(output)), err)
	}
	return nil
}
