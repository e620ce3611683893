package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/transfix-export/pkg/enumerate"
	"github.com/Sternrassler/transfix-export/pkg/job"
	"github.com/Sternrassler/transfix-export/pkg/ratelimit"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Archive API paths.
const (
	PathDays    = "/api/app/archive/days"
	PathDay     = "/api/app/archive/day"
	PathDetails = "/api/app/job-status/"
)

var (
	// ErrUnauthorized is returned when the archive rejects the session.
	ErrUnauthorized = errors.New("archive session rejected")
)

// StatusError is returned for unexpected HTTP statuses.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Config holds the archive API configuration.
type Config struct {
	// BaseURL of the archive API (REQUIRED)
	BaseURL string

	// UserAgent header (REQUIRED)
	UserAgent string

	// AuthCookie is sent with every request
	AuthCookie string

	// Timeout per request
	Timeout time.Duration

	// RateLimiter gates every request (optional)
	RateLimiter *ratelimit.Tracker
}

// DefaultConfig returns the default archive API configuration.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		Timeout:   30 * time.Second,
	}
}

// HTTPStore is the archive API client.
type HTTPStore struct {
	r       *resty.Client
	limiter *ratelimit.Tracker
	logger  zerolog.Logger
}

var (
	_ enumerate.RecordStore = (*HTTPStore)(nil)
	_ enumerate.DayLister   = (*HTTPStore)(nil)
)

// NewHTTPStore creates an archive API client.
func NewHTTPStore(cfg Config) (*HTTPStore, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	r := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json")
	if cfg.AuthCookie != "" {
		r.SetHeader("Cookie", cfg.AuthCookie)
	}

	return &HTTPStore{
		r:       r,
		limiter: cfg.RateLimiter,
		logger:  log.With().Str("component", "store").Logger(),
	}, nil
}

// Client returns the underlying resty client.
func (s *HTTPStore) Client() *resty.Client {
	return s.r
}

// FetchDay implements enumerate.RecordStore.
func (s *HTTPStore) FetchDay(ctx context.Context, day time.Time, filter enumerate.DayFilter) ([]job.RecordStub, error) {
	req := s.r.R().
		SetQueryParams(filter).
		SetQueryParam("day", day.UTC().Format(enumerate.DayLayout))

	resp, err := s.execute(ctx, req, http.MethodGet, PathDay, "day")
	if err != nil {
		return nil, err
	}

	var stubs []job.RecordStub
	if err := json.Unmarshal(resp.Body(), &stubs); err != nil {
		return nil, fmt.Errorf("decode day listing: %w", err)
	}

	s.logger.Debug().
		Str("day", day.Format(enumerate.DayLayout)).
		Int("stubs", len(stubs)).
		Msg("Day listing fetched")
	return stubs, nil
}

// FetchDetails implements enumerate.RecordStore. The archive answers a
// single id with a bare object; both shapes are returned as a slice.
func (s *HTTPStore) FetchDetails(ctx context.Context, ids []string) ([]job.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	req := s.r.R().
		SetHeader("Content-Type", "application/json").
		SetBody(map[string][]string{"jobIds": ids})

	resp, err := s.execute(ctx, req, http.MethodPost, PathDetails, "details")
	if err != nil {
		return nil, err
	}

	records, err := decodeRecords(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("decode details: %w", err)
	}
	recordsCached.WithLabelValues("remote").Add(float64(len(records)))
	return records, nil
}

// ListDays implements enumerate.DayLister.
func (s *HTTPStore) ListDays(ctx context.Context) ([]time.Time, error) {
	resp, err := s.execute(ctx, s.r.R(), http.MethodGet, PathDays, "days")
	if err != nil {
		return nil, err
	}

	var body struct {
		Days []string `json:"days"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("decode day list: %w", err)
	}

	days := make([]time.Time, 0, len(body.Days))
	for _, d := range body.Days {
		t, err := enumerate.ParseDay(d)
		if err != nil {
			return nil, fmt.Errorf("decode day list: %w", err)
		}
		days = append(days, t)
	}
	return days, nil
}

// execute runs req once under the rate limiter and checks the status.
func (s *HTTPStore) execute(ctx context.Context, req *resty.Request, method, path, operation string) (*resty.Response, error) {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s: rate limit wait: %w", operation, err)
		}
	}

	resp, err := req.SetContext(ctx).Execute(method, path)
	if err != nil {
		requestsTotal.WithLabelValues(operation, "network_error").Inc()
		return nil, fmt.Errorf("%s: %w", operation, err)
	}

	if s.limiter != nil {
		if err := s.limiter.UpdateFromHeaders(ctx, resp.Header()); err != nil {
			s.logger.Debug().Err(err).Msg("No rate limit headers")
		}
	}

	status := resp.StatusCode()
	requestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, fmt.Errorf("%s: %w (status %d)", operation, ErrUnauthorized, status)
	case status != http.StatusOK:
		return nil, &StatusError{
			Operation:  operation,
			StatusCode: status,
			Body:       snippet(resp.Body()),
		}
	}
	return resp, nil
}

func decodeRecords(body []byte) ([]job.Record, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}

	if body[0] == '{' {
		var rec job.Record
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, err
		}
		return []job.Record{rec}, nil
	}

	var records []job.Record
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func snippet(body []byte) string {
	const max = 256
	b := bytes.TrimSpace(body)
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
