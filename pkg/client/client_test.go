package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/transfix-export/internal/testutil"
	"github.com/Sternrassler/transfix-export/pkg/ratelimit"
	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, mutate func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig("TestApp/1.0.0 (test@example.com)")
	cfg.Retry = &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    5 * time.Millisecond,
		MaxBackoff:        20 * time.Millisecond,
		BackoffMultiplier: 2,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid config",
			config: DefaultConfig("TestApp/1.0.0"),
		},
		{
			name:        "empty user agent",
			config:      Config{},
			expectError: true,
			errorMsg:    "user-agent is required",
		},
		{
			name:   "zero timeout falls back to default",
			config: Config{UserAgent: "TestApp/1.0.0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)
			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got nil")
				}
				if err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if c.httpClient.Timeout <= 0 {
				t.Error("timeout must be set")
			}
			if c.config.MaxPayloadBytes <= 0 {
				t.Error("payload limit must be set")
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("TestApp/1.0.0")

	if cfg.UserAgent != "TestApp/1.0.0" {
		t.Errorf("UserAgent = %q", cfg.UserAgent)
	}
	if cfg.Timeout != 60*time.Second {
		t.Errorf("Timeout = %v, want 60s", cfg.Timeout)
	}
	if !cfg.RewriteCDN {
		t.Error("RewriteCDN should default to true")
	}
}

func TestClassifyError(t *testing.T) {
	c := newTestClient(t, nil)

	tests := []struct {
		name     string
		status   int
		err      error
		expected ErrorClass
	}{
		{name: "network error", err: errors.New("dial tcp: refused"), expected: ErrorClassNetwork},
		{name: "not found", status: 404, expected: ErrorClassClient},
		{name: "forbidden", status: 403, expected: ErrorClassClient},
		{name: "too many requests", status: 429, expected: ErrorClassRateLimit},
		{name: "server error", status: 500, expected: ErrorClassServer},
		{name: "bad gateway", status: 502, expected: ErrorClassServer},
		{name: "ok", status: 200, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *http.Response
			if tt.err == nil {
				resp = &http.Response{StatusCode: tt.status}
			}
			if got := c.classifyError(resp, tt.err); got != tt.expected {
				t.Errorf("classifyError() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDo_HeadersSet(t *testing.T) {
	mock := testutil.NewMockArchive()
	defer mock.Close()
	mock.SetResponse("/ping", testutil.NewHealthyResponse(`{}`))

	c := newTestClient(t, func(cfg *Config) {
		cfg.AuthCookie = "__session=abc"
	})

	resp, err := c.Get(context.Background(), mock.URL()+"/ping", "test")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	h := mock.LastRequestHeader()
	if got := h.Get("User-Agent"); got != "TestApp/1.0.0 (test@example.com)" {
		t.Errorf("User-Agent = %q", got)
	}
	if got := h.Get("Cookie"); got != "__session=abc" {
		t.Errorf("Cookie = %q", got)
	}
}

func TestDo_CookieHosts(t *testing.T) {
	mock := testutil.NewMockArchive()
	defer mock.Close()
	mock.SetResponse("/ping", testutil.NewHealthyResponse(`{}`))

	c := newTestClient(t, func(cfg *Config) {
		cfg.AuthCookie = "__session=abc"
		cfg.CookieHosts = []string{"midjourney.com"}
	})

	resp, err := c.Get(context.Background(), mock.URL()+"/ping", "test")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	if got := mock.LastRequestHeader().Get("Cookie"); got != "" {
		t.Errorf("cookie leaked to foreign host: %q", got)
	}
	if !c.cookieHost("www.midjourney.com") || !c.cookieHost("midjourney.com") {
		t.Error("cookie should be sent to the configured domain and its subdomains")
	}
}

func TestDo_RetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	c := newTestClient(t, nil)
	resp, err := c.Get(context.Background(), server.URL, "test")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestDo_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := newTestClient(t, nil)
	resp, err := c.Get(context.Background(), server.URL, "test")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", resp.StatusCode)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestDo_RetryExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newTestClient(t, nil)
	_, err := c.Get(context.Background(), server.URL, "test")

	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("error = %v, want ErrRetryExhausted", err)
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected *HTTPError with status 503 in chain, got %v", err)
	}
}

func TestDo_ReplaysBodyOnRetry(t *testing.T) {
	var calls atomic.Int32
	var lastBody atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		lastBody.Store(string(b))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := newTestClient(t, nil)
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.PostJSON(context.Background(), server.URL, "test", map[string]string{"a": "b"}, &out); err != nil {
		t.Fatalf("PostJSON() error = %v", err)
	}
	if !out.OK {
		t.Error("response not decoded")
	}
	if got := lastBody.Load().(string); got != `{"a":"b"}` {
		t.Errorf("replayed body = %q", got)
	}
}

func TestPostJSON_ClientError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"bad payload"}`))
	}))
	defer server.Close()

	c := newTestClient(t, nil)
	err := c.PostJSON(context.Background(), server.URL, "test", struct{}{}, nil)

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error = %v, want *HTTPError", err)
	}
	if httpErr.ErrorClass != ErrorClassClient {
		t.Errorf("ErrorClass = %q, want client", httpErr.ErrorClass)
	}
	if !strings.Contains(httpErr.Message, "bad payload") {
		t.Errorf("Message = %q, want response snippet", httpErr.Message)
	}
}

func TestDo_RateLimiterUpdatedFromHeaders(t *testing.T) {
	mock := testutil.NewMockArchive()
	defer mock.Close()
	mock.SetResponse("/low", testutil.MockResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			ratelimit.HeaderRemaining: "1",
			ratelimit.HeaderReset:     "3600",
		},
	})

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := ratelimit.NewTracker(ratelimit.NewMemoryStore(), logger)
	c := newTestClient(t, func(cfg *Config) { cfg.RateLimiter = tracker })

	resp, err := c.Get(context.Background(), mock.URL()+"/low", "test")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	// The next request must wait for the window reset and give up with ctx.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := c.Get(ctx, mock.URL()+"/low", "test"); err == nil {
		t.Error("expected the rate limiter to hold the request")
	}
	if got := mock.RequestCount("/low"); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}
