// Package testutil provides test servers for the archive API, the payload
// CDN and the enrichment service.
package testutil

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines a canned response for a path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockJob is a job served by MockArchive.
type MockJob struct {
	ID          string
	Type        string
	Username    string
	Prompt      string
	Images      int
	EnqueueTime string
}

// MockArchive is an httptest server speaking the archive API, serving
// payloads and answering enrichment calls.
//
//	GET  /api/app/archive/days
//	GET  /api/app/archive/day?day=YYYY-MM-DD
//	POST /api/app/job-status/        {"jobIds": [...]}
//	GET  /images/<id>/<n>.png
//	POST /enrich
type MockArchive struct {
	server *httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	days     map[string][]MockJob
	jobs     map[string]MockJob

	missingPayload map[string]bool
	failEnrich     map[string]bool

	requests      map[string]int
	detailBatches [][]string
	lastHeader    http.Header
}

// NewMockArchive starts a mock archive server.
func NewMockArchive() *MockArchive {
	m := &MockArchive{
		handlers:       make(map[string]http.HandlerFunc),
		days:           make(map[string][]MockJob),
		jobs:           make(map[string]MockJob),
		missingPayload: make(map[string]bool),
		failEnrich:     make(map[string]bool),
		requests:       make(map[string]int),
	}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requests[r.URL.Path]++
		m.lastHeader = r.Header.Clone()
		handler, ok := m.handlers[r.URL.Path]
		m.mu.Unlock()

		if ok {
			handler(w, r)
			return
		}
		m.route(w, r)
	}))
	return m
}

// URL returns the mock server URL.
func (m *MockArchive) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockArchive) Close() {
	m.server.Close()
}

// AddJob lists j under day and makes it resolvable.
func (m *MockArchive) AddJob(day string, j MockJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.Images == 0 {
		j.Images = 1
	}
	if j.Type == "" {
		j.Type = "upscale"
	}
	if j.EnqueueTime == "" {
		j.EnqueueTime = day + " 12:00:00.000000"
	}
	m.days[day] = append(m.days[day], j)
	m.jobs[j.ID] = j
}

// MissingPayload makes every payload of job id answer 404.
func (m *MockArchive) MissingPayload(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.missingPayload[id] = true
}

// FailEnrichment makes enrichment of job id answer 500.
func (m *MockArchive) FailEnrichment(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failEnrich[id] = true
}

// SetHandler sets a custom handler for a path, overriding the built-in route.
func (m *MockArchive) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a canned response for a path.
func (m *MockArchive) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// RequestCount returns the number of requests made to path.
func (m *MockArchive) RequestCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[path]
}

// DetailBatches returns the id lists of every detail request in order.
func (m *MockArchive) DetailBatches() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.detailBatches))
	copy(out, m.detailBatches)
	return out
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockArchive) LastRequestHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeader
}

// ImageURL returns the payload locator of image n of job id.
func (m *MockArchive) ImageURL(id string, n int) string {
	return fmt.Sprintf("%s/images/%s/%d.png", m.server.URL, id, n)
}

// Payload returns the bytes served for image n of job id.
func Payload(id string, n int) []byte {
	return []byte(fmt.Sprintf("PNG:%s:%d", id, n))
}

// EnrichedMarker is appended to payloads by the mock enrichment service.
const EnrichedMarker = "|enriched"

func (m *MockArchive) route(w http.ResponseWriter, r *http.Request) {
	setBudgetHeaders(w, "100", "60")

	switch {
	case r.URL.Path == "/api/app/archive/days":
		m.serveDays(w)
	case r.URL.Path == "/api/app/archive/day":
		m.serveDay(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/app/job-status"):
		m.serveDetails(w, r)
	case strings.HasPrefix(r.URL.Path, "/images/"):
		m.servePayload(w, r)
	case r.URL.Path == "/enrich":
		m.serveEnrich(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (m *MockArchive) serveDays(w http.ResponseWriter) {
	m.mu.Lock()
	days := make([]string, 0, len(m.days))
	for d := range m.days {
		days = append(days, d)
	}
	m.mu.Unlock()
	sort.Strings(days)
	writeJSON(w, http.StatusOK, map[string]any{"days": days})
}

func (m *MockArchive) serveDay(w http.ResponseWriter, r *http.Request) {
	day := r.URL.Query().Get("day")
	m.mu.Lock()
	jobs := m.days[day]
	m.mu.Unlock()

	stubs := make([]map[string]string, 0, len(jobs))
	for _, j := range jobs {
		stubs = append(stubs, map[string]string{"id": j.ID, "type": j.Type})
	}
	writeJSON(w, http.StatusOK, stubs)
}

func (m *MockArchive) serveDetails(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		JobIDs []string `json:"jobIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	m.mu.Lock()
	m.detailBatches = append(m.detailBatches, req.JobIDs)
	var records []map[string]any
	for _, id := range req.JobIDs {
		j, ok := m.jobs[id]
		if !ok {
			continue
		}
		records = append(records, m.record(j))
	}
	m.mu.Unlock()

	// A single job is answered with a bare object.
	if len(records) == 1 {
		writeJSON(w, http.StatusOK, records[0])
		return
	}
	if records == nil {
		records = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (m *MockArchive) record(j MockJob) map[string]any {
	paths := make([]string, j.Images)
	for i := range paths {
		paths[i] = m.ImageURL(j.ID, i)
	}
	return map[string]any{
		"id":               j.ID,
		"type":             j.Type,
		"image_paths":      paths,
		"username":         j.Username,
		"prompt":           j.Prompt,
		"full_command":     j.Prompt + " --v 5",
		"reference_job_id": "",
		"enqueue_time":     j.EnqueueTime,
	}
}

func (m *MockArchive) servePayload(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/images/"), "/")
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	n, err := strconv.Atoi(strings.TrimSuffix(parts[1], ".png"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	m.mu.Lock()
	missing := m.missingPayload[id]
	m.mu.Unlock()
	if missing {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(Payload(id, n))
}

// EnrichRequest is the enrichment call body as seen by the mock.
type EnrichRequest struct {
	Unit struct {
		ID         string         `json:"id"`
		Key        string         `json:"key"`
		Locator    string         `json:"locator"`
		SplitIndex *int           `json:"split_index,omitempty"`
		Metadata   map[string]any `json:"metadata"`
	} `json:"unit"`
	ArchiveName  string            `json:"archive_name"`
	LastModified time.Time         `json:"last_modified"`
	Fields       map[string]string `json:"fields"`
	Payload      string            `json:"payload"`
}

func (m *MockArchive) serveEnrich(w http.ResponseWriter, r *http.Request) {
	var req EnrichRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"res": "error", "error": err.Error()})
		return
	}

	m.mu.Lock()
	fail := m.failEnrich[req.Unit.ID]
	m.mu.Unlock()
	if fail {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"res": "error", "error": "embed failed"})
		return
	}

	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"res": "error", "error": err.Error()})
		return
	}
	enriched := append(payload, []byte(EnrichedMarker)...)

	writeJSON(w, http.StatusOK, map[string]any{
		"res":      "ok",
		"filename": req.ArchiveName,
		"mtime":    req.LastModified,
		"enriched": base64.StdEncoding.EncodeToString(enriched),
	})
}

func setBudgetHeaders(w http.ResponseWriter, remaining, reset string) {
	w.Header().Set("X-RateLimit-Remaining", remaining)
	w.Header().Set("X-RateLimit-Reset", reset)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// NewHealthyResponse creates a 200 OK JSON response with budget headers.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"X-RateLimit-Remaining": "100",
			"X-RateLimit-Reset":     "60",
			"Content-Type":          "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"X-RateLimit-Remaining": "0",
			"X-RateLimit-Reset":     "1",
			"Content-Type":          "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"X-RateLimit-Remaining": "95",
			"X-RateLimit-Reset":     "60",
			"Content-Type":          "application/json; charset=utf-8",
		},
	}
}
