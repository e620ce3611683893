// Package client provides the outgoing HTTP transport used for payload
// downloads and enrichment calls, with rate limiting, retries and error
// classification.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/transfix-export/pkg/ratelimit"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrorClass represents a classification of HTTP errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 rate limit errors.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// Client is the outgoing HTTP client.
type Client struct {
	httpClient  *http.Client
	rateLimiter *ratelimit.Tracker
	config      Config
	policy      retryPolicy
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// User-Agent header (REQUIRED)
	UserAgent string

	// AuthCookie is sent as Cookie header to CookieHosts (all hosts if empty).
	AuthCookie  string
	CookieHosts []string

	// Timeout per request attempt
	Timeout time.Duration

	// RateLimiter gates every attempt (optional)
	RateLimiter *ratelimit.Tracker

	// Retry overrides the per-class retry configuration when set
	Retry *RetryConfig

	// MaxPayloadBytes bounds a single payload download
	MaxPayloadBytes int64

	// RewriteCDN maps storage bucket locators to the CDN host
	RewriteCDN bool
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent:       userAgent,
		Timeout:         60 * time.Second,
		MaxPayloadBytes: 64 << 20,
		RewriteCDN:      true,
	}
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = 64 << 20
	}

	policy := RetryConfigForErrorClass
	if cfg.Retry != nil {
		override := *cfg.Retry
		policy = func(ErrorClass) RetryConfig { return override }
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: cfg.RateLimiter,
		config:      cfg,
		policy:      policy,
		logger:      log.With().Str("component", "http-client").Logger(),
	}, nil
}

// Do performs an HTTP request with rate limiting, retries and error
// classification. operation labels metrics and logs.
//
// Retriable failures (network, 5xx, 429) are retried with backoff; a request
// with a body is retried only if req.GetBody is set. Client errors are not
// retried: the response is returned and the caller handles the status.
func (c *Client) Do(req *http.Request, operation string) (*http.Response, error) {
	ctx := req.Context()

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(operation).Observe(time.Since(startTime).Seconds())
	}()

	req.Header.Set("User-Agent", c.config.UserAgent)
	if c.config.AuthCookie != "" && c.cookieHost(req.URL.Hostname()) {
		req.Header.Set("Cookie", c.config.AuthCookie)
	}

	c.logger.Debug().
		Str("operation", operation).
		Str("method", req.Method).
		Str("url", req.URL.Redacted()).
		Msg("Executing request")

	var resp *http.Response
	attempt := 0

	retryErr := retryWithBackoff(ctx, c.policy, func() (ErrorClass, error) {
		attempt++
		if c.rateLimiter != nil {
			if err := c.rateLimiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("rate limit wait: %w", err)
			}
		}

		r := req
		if attempt > 1 && req.Body != nil {
			if req.GetBody == nil {
				return "", fmt.Errorf("request body cannot be replayed")
			}
			body, err := req.GetBody()
			if err != nil {
				return "", fmt.Errorf("replay request body: %w", err)
			}
			r = req.Clone(ctx)
			r.Body = body
		}

		var reqErr error
		resp, reqErr = c.httpClient.Do(r)
		if reqErr != nil {
			class := c.classifyError(nil, reqErr)
			errorsTotal.WithLabelValues(string(class)).Inc()
			requestsTotal.WithLabelValues(operation, "network_error").Inc()
			c.logger.Warn().Err(reqErr).Str("operation", operation).Msg("HTTP request failed")
			return class, reqErr
		}

		if c.rateLimiter != nil {
			if err := c.rateLimiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
			}
		}

		requestsTotal.WithLabelValues(operation, strconv.Itoa(resp.StatusCode)).Inc()
		if resp.StatusCode < 400 {
			return "", nil
		}

		class := c.classifyError(resp, nil)
		errorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Str("operation", operation).
			Int("status_code", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Request error")

		if !shouldRetry(class) {
			return "", nil
		}
		httpErr := &HTTPError{
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    resp.Status,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
		resp.Body.Close()
		resp = nil
		return class, httpErr
	})

	if retryErr != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, retryErr
	}
	return resp, nil
}

// classifyError categorizes an error for observability and handling.
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
	default:
		return ""
	}
}

func (c *Client) cookieHost(host string) bool {
	if len(c.config.CookieHosts) == 0 {
		return true
	}
	for _, h := range c.config.CookieHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, url, operation string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.Do(req, operation)
}

// PostJSON posts in as JSON and decodes the JSON response into out.
// Any status >= 400 is returned as *HTTPError.
func (c *Client) PostJSON(ctx context.Context, url, operation string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req, operation)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return responseError(resp, c.classifyError(resp, nil))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func responseError(resp *http.Response, class ErrorClass) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := resp.Status
	if s := strings.TrimSpace(string(snippet)); s != "" {
		msg = msg + ": " + s
	}
	return &HTTPError{
		StatusCode: resp.StatusCode,
		ErrorClass: class,
		Message:    msg,
	}
}
