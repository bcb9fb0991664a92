// Package client provides the shared HTTP client used for collection pages
// and image resources, with rate limiting, error classification and
// opt-in retries.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/artic-gallery/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for HTTP operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_http_requests_total",
		Help: "Total outbound requests by host and status",
	}, []string{"host", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gallery_http_request_duration_seconds",
		Help:    "Outbound request duration in seconds by host",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"host"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_http_errors_total",
		Help: "Total outbound request errors by class",
	}, []string{"class"})
)

// DefaultMaxBodyBytes caps bodies read by GetBytes (32 MiB).
const DefaultMaxBodyBytes int64 = 32 * 1024 * 1024

// Client is the shared outbound HTTP client.
type Client struct {
	httpClient  *http.Client
	rateLimiter *ratelimit.Tracker
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// User-Agent header sent with every request
	// Format: "AppName/Version (contact@example.com)"
	UserAgent string

	// Timeout per request attempt
	Timeout time.Duration

	// RateLimitStore holds the rate limit window (default: in-memory)
	RateLimitStore ratelimit.Store

	// MaxRetries is the number of automatic retries for retriable failures.
	// 0 disables automatic retries; callers retry by repeating the operation.
	MaxRetries     int
	InitialBackoff time.Duration

	// MaxBodyBytes caps bodies read by GetBytes
	MaxBodyBytes int64
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent:      userAgent,
		Timeout:        15 * time.Second,
		MaxRetries:     0,
		InitialBackoff: 500 * time.Millisecond,
		MaxBodyBytes:   DefaultMaxBodyBytes,
	}
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.MaxRetries)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	logger := log.With().Str("component", "http-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: ratelimit.NewTracker(cfg.RateLimitStore, logger),
		config:      cfg,
		logger:      logger,
	}, nil
}

// Do performs an HTTP request with rate limiting, classification and retries.
// A nil error guarantees a 2xx response whose body the caller must close;
// every other outcome is returned as an error and the body is already closed.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	host := req.URL.Host

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(host).Observe(time.Since(startTime).Seconds())
	}()

	allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Rate limit check failed")
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		c.logger.Warn().
			Str("url", req.URL.String()).
			Msg("Request blocked by rate limiter")
		requestsTotal.WithLabelValues(host, "rate_limited").Inc()
		errorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
		return nil, ErrRateLimited
	}

	req.Header.Set("User-Agent", c.config.UserAgent)

	c.logger.Debug().
		Str("url", req.URL.String()).
		Str("method", req.Method).
		Msg("Executing request")

	var resp *http.Response
	retryErr := retryWithBackoff(ctx, c.config.MaxRetries+1, c.config.InitialBackoff, func() (ErrorClass, error) {
		var reqErr error
		resp, reqErr = c.httpClient.Do(req)

		if reqErr != nil {
			resp = nil
			errClass := c.classifyError(nil, reqErr)
			errorsTotal.WithLabelValues(string(errClass)).Inc()
			requestsTotal.WithLabelValues(host, "network_error").Inc()
			c.logger.Warn().Err(reqErr).Str("url", req.URL.String()).Msg("HTTP request failed")
			return errClass, &FetchError{
				ErrorClass: errClass,
				URL:        req.URL.String(),
				Message:    "request failed",
				Err:        reqErr,
			}
		}

		if err := c.rateLimiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}

		requestsTotal.WithLabelValues(host, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			errClass := c.classifyError(resp, nil)
			errorsTotal.WithLabelValues(string(errClass)).Inc()

			c.logger.Warn().
				Str("url", req.URL.String()).
				Int("status", resp.StatusCode).
				Str("error_class", string(errClass)).
				Msg("Request returned error status")

			fetchErr := &FetchError{
				StatusCode: resp.StatusCode,
				ErrorClass: errClass,
				URL:        req.URL.String(),
				Message:    resp.Status,
			}
			drainAndClose(resp.Body)
			resp = nil
			return errClass, fetchErr
		}

		return "", nil
	})

	if retryErr != nil {
		if resp != nil {
			drainAndClose(resp.Body)
		}
		return nil, retryErr
	}

	return resp, nil
}

// classifyError categorizes a failure for observability and retry decisions.
func (c *Client) classifyError(resp *http.Response, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return ErrorClassClient
	case resp.StatusCode >= 500:
		return ErrorClassServer
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		// 1xx/3xx that were not followed
		return ErrorClassClient
	default:
		return ""
	}
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return c.Do(req)
}

// GetBytes performs a GET request and reads the whole body.
func (c *Client) GetBytes(ctx context.Context, rawURL string) ([]byte, http.Header, error) {
	resp, err := c.Get(ctx, rawURL)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodyBytes+1))
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, nil, &FetchError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			URL:        rawURL,
			Message:    "read body",
			Err:        err,
		}
	}

	if int64(len(body)) > c.config.MaxBodyBytes {
		errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, nil, &FetchError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassDecode,
			URL:        rawURL,
			Message:    fmt.Sprintf("body exceeds %d bytes", c.config.MaxBodyBytes),
		}
	}

	return body, resp.Header, nil
}

// RateLimiter returns the rate limit tracker.
func (c *Client) RateLimiter() *ratelimit.Tracker {
	return c.rateLimiter
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// drainAndClose discards a bounded amount of the body so the connection can be reused.
func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, body, 64*1024)
	body.Close()
}
