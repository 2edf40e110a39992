// Package httpclient fetches remote source videos. Requests are retried with
// exponential backoff, guarded by a per-host circuit breaker and transparently
// decompressed.
package httpclient

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/jmylchreest/segmentarr/internal/config"
	"github.com/jmylchreest/segmentarr/internal/observability"
)

// Common errors returned by the client.
var (
	ErrCircuitOpen      = errors.New("circuit breaker is open")
	ErrMaxRetries       = errors.New("max retries exceeded")
	ErrUnexpectedStatus = errors.New("unexpected status code")
)

// Default configuration values.
const (
	DefaultHeaderTimeout     = 30 * time.Second
	DefaultRetryAttempts     = 3
	DefaultRetryDelay        = time.Second
	DefaultRetryMaxDelay     = 30 * time.Second
	DefaultCircuitThreshold  = 5
	DefaultCircuitCooldown   = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultUserAgent         = "segmentarr/1.0"
	acceptEncoding           = "gzip, deflate, br"
)

// Config holds the configuration for the HTTP client.
type Config struct {
	// HeaderTimeout bounds the wait for response headers. Bodies of large
	// downloads are not bounded.
	HeaderTimeout     time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
	RetryMaxDelay     time.Duration
	BackoffMultiplier float64
	CircuitThreshold  int
	CircuitCooldown   time.Duration
	UserAgent         string
	Logger            *slog.Logger

	// Transport overrides the underlying round tripper.
	Transport http.RoundTripper
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HeaderTimeout:     DefaultHeaderTimeout,
		RetryAttempts:     DefaultRetryAttempts,
		RetryDelay:        DefaultRetryDelay,
		RetryMaxDelay:     DefaultRetryMaxDelay,
		BackoffMultiplier: DefaultBackoffMultiplier,
		CircuitThreshold:  DefaultCircuitThreshold,
		CircuitCooldown:   DefaultCircuitCooldown,
		UserAgent:         DefaultUserAgent,
	}
}

// FromDownloadConfig derives a client config from the download settings.
func FromDownloadConfig(cfg config.DownloadConfig, logger *slog.Logger) Config {
	c := DefaultConfig()
	if cfg.Timeout > 0 {
		c.HeaderTimeout = cfg.Timeout
	}
	if cfg.RetryAttempts >= 0 {
		c.RetryAttempts = cfg.RetryAttempts
	}
	if cfg.RetryDelay > 0 {
		c.RetryDelay = cfg.RetryDelay
	}
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.Logger = logger
	return c
}

// Response is an open download.
type Response struct {
	Body io.ReadCloser
	// Filename comes from Content-Disposition, else the last URL path element.
	Filename string
	// ContentLength of the encoded body, -1 when unknown.
	ContentLength int64
	ContentType   string
	StatusCode    int
}

// Client is a resilient HTTP client.
type Client struct {
	config Config
	client *http.Client
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// New creates a client.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = DefaultBackoffMultiplier
	}

	transport := cfg.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.ResponseHeaderTimeout = cfg.HeaderTimeout
		// Decompression is handled here so brotli is covered too.
		t.DisableCompression = true
		transport = t
	}

	return &Client{
		config:   cfg,
		client:   &http.Client{Transport: transport},
		logger:   observability.WithComponent(cfg.Logger, "httpclient"),
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Breaker returns the circuit breaker guarding host.
func (c *Client) Breaker(host string) *CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.breakers[host]
	if !ok {
		cb = NewCircuitBreaker(c.config.CircuitThreshold, c.config.CircuitCooldown)
		c.breakers[host] = cb
	}
	return cb
}

// Open issues a GET for rawURL and returns the decoded body. Transport errors,
// 429 and 5xx answers are retried; any other non-2xx answer fails at once.
func (c *Client) Open(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept-Encoding", acceptEncoding)

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}

	return &Response{
		Body:          decompress(resp, c.logger),
		Filename:      filename(resp),
		ContentLength: resp.ContentLength,
		ContentType:   resp.Header.Get("Content-Type"),
		StatusCode:    resp.StatusCode,
	}, nil
}

func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	breaker := c.Breaker(req.URL.Host)
	target := obfuscateURL(req.URL)

	var lastErr error
	delay := c.config.RetryDelay

	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			c.logger.DebugContext(ctx, "retrying request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("url", target),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = min(time.Duration(float64(delay)*c.config.BackoffMultiplier), c.config.RetryMaxDelay)
		}

		if !breaker.Allow() {
			lastErr = ErrCircuitOpen
			c.logger.WarnContext(ctx, "circuit breaker open, skipping request",
				slog.String("url", target),
				slog.String("state", breaker.State().String()),
			)
			continue
		}

		start := time.Now()
		resp, err := c.client.Do(req)
		if err != nil {
			breaker.RecordFailure()
			lastErr = err
			c.logger.WarnContext(ctx, "request failed",
				slog.String("url", target),
				slog.Duration("duration", time.Since(start)),
				slog.String("error", err.Error()),
				slog.Int("attempt", attempt),
			)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			continue
		}

		switch {
		case isRetryableStatus(resp.StatusCode):
			breaker.RecordFailure()
			lastErr = fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
			if wait := retryAfter(resp); wait > delay {
				delay = min(wait, c.config.RetryMaxDelay)
			}
			drain(resp)
			c.logger.WarnContext(ctx, "retryable status code",
				slog.String("url", target),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt),
			)
			continue
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			// The host answered; the breaker only tracks availability.
			breaker.RecordSuccess()
			drain(resp)
			return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
		}

		breaker.RecordSuccess()
		c.logger.DebugContext(ctx, "response received",
			slog.String("url", target),
			slog.Int("status", resp.StatusCode),
			slog.Int64("content_length", resp.ContentLength),
			slog.Duration("duration", time.Since(start)),
		)
		return resp, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrMaxRetries, lastErr)
	}
	return nil, ErrMaxRetries
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(resp *http.Response) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After")))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// filename picks the name the server suggests, falling back to the URL path.
func filename(resp *http.Response) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := path.Base(strings.ReplaceAll(params["filename"], `\`, "/")); name != "" && name != "." && name != "/" {
				return name
			}
		}
	}
	if resp.Request != nil && resp.Request.URL != nil {
		if name := path.Base(resp.Request.URL.Path); name != "" && name != "." && name != "/" {
			return name
		}
	}
	return ""
}

// decompress wraps the body according to Content-Encoding.
func decompress(resp *http.Response, logger *slog.Logger) io.ReadCloser {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "":
		return resp.Body
	case "gzip":
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			logger.Warn("failed to create gzip reader, returning raw body", slog.String("error", err.Error()))
			return resp.Body
		}
		return &decompressReader{reader: reader, closer: resp.Body}
	case "deflate":
		return &decompressReader{reader: flate.NewReader(resp.Body), closer: resp.Body}
	case "br":
		return &decompressReader{reader: brotli.NewReader(resp.Body), closer: resp.Body}
	default:
		return resp.Body
	}
}

type decompressReader struct {
	reader io.Reader
	closer io.Closer
}

func (d *decompressReader) Read(p []byte) (int, error) {
	return d.reader.Read(p)
}

func (d *decompressReader) Close() error {
	if closer, ok := d.reader.(io.Closer); ok {
		_ = closer.Close()
	}
	return d.closer.Close()
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// sensitiveParams are query parameters masked in logs. Signed download
// links carry their credentials here.
var sensitiveParams = []string{
	"password", "passwd", "pass", "pwd",
	"token", "api_key", "apikey", "key",
	"secret", "auth", "signature", "sig",
	"x-amz-signature", "x-amz-credential", "x-goog-signature",
}

// obfuscateURL returns u with sensitive query parameters masked.
func obfuscateURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	sanitized := *u
	sanitized.User = nil
	query := sanitized.Query()
	for name := range query {
		for _, s := range sensitiveParams {
			if strings.EqualFold(name, s) {
				query.Set(name, "***")
			}
		}
	}
	sanitized.RawQuery = query.Encode()
	return sanitized.String()
}
