package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pbrresearch/datalogger/internal/infrastructure/config"
	"github.com/pbrresearch/datalogger/internal/infrastructure/logging"
	"github.com/pbrresearch/datalogger/internal/queue"
)

// fakeQueue implements QueueInspector with canned data.
type fakeQueue struct {
	stats     queue.Stats
	statsErr  error
	letters   []queue.DeadLetter
	lastLimit int
}

func (f *fakeQueue) GetStats(_ context.Context) (queue.Stats, error) {
	return f.stats, f.statsErr
}

func (f *fakeQueue) DeadLetters(_ context.Context, limit int) ([]queue.DeadLetter, error) {
	f.lastLimit = limit
	return f.letters, nil
}

// fakeCheck implements HealthChecker with a fixed result.
type fakeCheck struct{ err error }

func (f fakeCheck) HealthCheck(_ context.Context) error { return f.err }

// newTestServer builds a server whose router is exercised via httptest.
func newTestServer(t *testing.T, q QueueInspector, checks map[string]HealthChecker) *Server {
	t.Helper()

	s, err := New(Deps{
		Config:  config.APIConfig{Host: "127.0.0.1", Port: 0},
		Logger:  logging.Default(),
		Queue:   q,
		Checks:  checks,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func doRequest(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// Constructor Tests
// =============================================================================

func TestNewRequiresLogger(t *testing.T) {
	_, err := New(Deps{Queue: &fakeQueue{}})
	if err == nil {
		t.Error("New() without logger should fail")
	}
}

func TestNewRequiresQueue(t *testing.T) {
	_, err := New(Deps{Logger: logging.Default()})
	if err == nil {
		t.Error("New() without queue should fail")
	}
}

// =============================================================================
// Health Tests
// =============================================================================

func TestHealthAllOK(t *testing.T) {
	s := newTestServer(t, &fakeQueue{}, map[string]HealthChecker{
		"mqtt":     fakeCheck{},
		"database": fakeCheck{},
	})

	rec := doRequest(s, http.MethodGet, "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Status     string            `json:"status"`
		Version    string            `json:"version"`
		Components map[string]string `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if body.Version != "test" {
		t.Errorf("version = %q, want test", body.Version)
	}
	if body.Components["mqtt"] != "ok" || body.Components["database"] != "ok" {
		t.Errorf("components = %v", body.Components)
	}
}

func TestHealthDegraded(t *testing.T) {
	s := newTestServer(t, &fakeQueue{}, map[string]HealthChecker{
		"mqtt":     fakeCheck{err: errors.New("mqtt: client not connected")},
		"database": fakeCheck{},
	})

	rec := doRequest(s, http.MethodGet, "/api/v1/health")
	// A degraded datalogger still buffers; health stays 200 and the body
	// carries the detail.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded", body.Status)
	}
	if body.Components["mqtt"] == "ok" {
		t.Error("mqtt component should carry the failure")
	}
}

// =============================================================================
// Stats Tests
// =============================================================================

func TestStats(t *testing.T) {
	s := newTestServer(t, &fakeQueue{stats: queue.Stats{Depth: 42, DeadLetters: 3}}, nil)

	rec := doRequest(s, http.MethodGet, "/api/v1/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var stats queue.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if stats.Depth != 42 || stats.DeadLetters != 3 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestStatsError(t *testing.T) {
	s := newTestServer(t, &fakeQueue{statsErr: errors.New("database locked")}, nil)

	rec := doRequest(s, http.MethodGet, "/api/v1/stats")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

// =============================================================================
// Dead Letter Tests
// =============================================================================

func TestDeadLetters(t *testing.T) {
	fq := &fakeQueue{letters: []queue.DeadLetter{
		{
			Seq:      7,
			Topic:    "sensors/aq-01/environment",
			DeviceID: "aq-01",
			Payload:  `{"temp":23.4}`,
			Attempts: 8,
			Reason:   "retries exhausted",
			FailedAt: time.Date(2026, 2, 13, 21, 0, 0, 0, time.UTC),
		},
	}}
	s := newTestServer(t, fq, nil)

	rec := doRequest(s, http.MethodGet, "/api/v1/deadletters")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Count       int                `json:"count"`
		DeadLetters []queue.DeadLetter `json:"dead_letters"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Count != 1 {
		t.Errorf("count = %d, want 1", body.Count)
	}
	if body.DeadLetters[0].DeviceID != "aq-01" {
		t.Errorf("dead_letters[0] = %+v", body.DeadLetters[0])
	}
}

func TestDeadLettersLimit(t *testing.T) {
	fq := &fakeQueue{}
	s := newTestServer(t, fq, nil)

	if rec := doRequest(s, http.MethodGet, "/api/v1/deadletters?limit=25"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if fq.lastLimit != 25 {
		t.Errorf("limit passed = %d, want 25", fq.lastLimit)
	}

	// Oversized limits are capped, not rejected.
	if rec := doRequest(s, http.MethodGet, "/api/v1/deadletters?limit=99999"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if fq.lastLimit != maxDeadLetterLimit {
		t.Errorf("limit passed = %d, want %d", fq.lastLimit, maxDeadLetterLimit)
	}
}

func TestDeadLettersInvalidLimit(t *testing.T) {
	s := newTestServer(t, &fakeQueue{}, nil)

	rec := doRequest(s, http.MethodGet, "/api/v1/deadletters?limit=banana")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	rec = doRequest(s, http.MethodGet, "/api/v1/deadletters?limit=-1")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// =============================================================================
// Middleware Tests
// =============================================================================

func TestRequestIDEchoed(t *testing.T) {
	s := newTestServer(t, &fakeQueue{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want req-42", got)
	}
}

func TestRequestIDGenerated(t *testing.T) {
	s := newTestServer(t, &fakeQueue{}, nil)

	rec := doRequest(s, http.MethodGet, "/api/v1/stats")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID should be generated when absent")
	}
}
