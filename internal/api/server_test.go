package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/commsight/commsight/internal/config"
	"github.com/commsight/commsight/internal/contacts"
	"github.com/commsight/commsight/internal/store"
	"github.com/commsight/commsight/internal/threads"
	"github.com/commsight/commsight/internal/timeline"
)

// testLogger returns a logger for tests that discards output
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockScheduler implements RunScheduler for tests.
type mockScheduler struct {
	scheduled map[string]bool
	running   bool
	statuses  []UserStatus
	triggerFn func(email string) error
}

func newMockScheduler() *mockScheduler {
	return &mockScheduler{
		scheduled: make(map[string]bool),
		running:   true,
	}
}

func (m *mockScheduler) IsScheduled(email string) bool {
	return m.scheduled[email]
}

func (m *mockScheduler) TriggerRun(email string) error {
	if m.triggerFn != nil {
		return m.triggerFn(email)
	}
	return nil
}

func (m *mockScheduler) Status() []UserStatus {
	return m.statuses
}

func (m *mockScheduler) IsRunning() bool {
	return m.running
}

// mockStore implements InsightStore for tests.
type mockStore struct {
	stats     *store.Stats
	users     []*store.User
	contacts  []*contacts.Profile
	threads   []*threads.Thread
	abandoned []*threads.Thread
	events    []timeline.Event
	daily     []store.DailyMetric
	hourly    []store.HourlyMetric
	runs      []*store.PipelineRun
}

func (m *mockStore) GetStats() (*store.Stats, error) {
	if m.stats == nil {
		return &store.Stats{}, nil
	}
	return m.stats, nil
}

func (m *mockStore) GetUser(email string) (*store.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, store.ErrUserNotFound
}

func (m *mockStore) ListUsers() ([]*store.User, error) {
	return m.users, nil
}

func (m *mockStore) ListContacts(userID int64) ([]*contacts.Profile, error) {
	return m.contacts, nil
}

func (m *mockStore) ListThreads(userID int64, limit int) ([]*threads.Thread, error) {
	if limit > 0 && limit < len(m.threads) {
		return m.threads[:limit], nil
	}
	return m.threads, nil
}

func (m *mockStore) ListAbandonedThreads(userID int64) ([]*threads.Thread, error) {
	return m.abandoned, nil
}

func (m *mockStore) ListEvents(userID int64, from, to time.Time) ([]timeline.Event, error) {
	var out []timeline.Event
	for _, e := range m.events {
		if !from.IsZero() && e.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && !e.Timestamp.Before(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *mockStore) ListDailyMetrics(userID int64, fromDay, toDay string) ([]store.DailyMetric, error) {
	return m.daily, nil
}

func (m *mockStore) ListHourlyMetrics(userID int64, day string) ([]store.HourlyMetric, error) {
	return m.hourly, nil
}

func (m *mockStore) ListRuns(userID int64, limit int) ([]*store.PipelineRun, error) {
	if limit > 0 && limit < len(m.runs) {
		return m.runs[:limit], nil
	}
	return m.runs, nil
}

func TestHealthEndpoint(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{APIPort: 8080},
	}
	sched := newMockScheduler()
	srv := NewServer(cfg, &mockStore{}, sched, testLogger())

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("health status = %q, want 'ok'", resp["status"])
	}
}

func TestAuthMiddleware(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			APIPort: 8080,
			APIKey:  "secret-key",
		},
	}
	sched := newMockScheduler()
	srv := NewServer(cfg, &mockStore{}, sched, testLogger())

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"no auth", "", http.StatusUnauthorized},
		{"wrong key", "wrong-key", http.StatusUnauthorized},
		{"correct key", "secret-key", http.StatusOK},
		{"bearer prefix", "Bearer secret-key", http.StatusOK},
		{"x-api-key header", "secret-key", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/stats", nil)
			if tt.authHeader != "" {
				if tt.name == "x-api-key header" {
					req.Header.Set("X-API-Key", tt.authHeader)
				} else {
					req.Header.Set("Authorization", tt.authHeader)
				}
			}
			w := httptest.NewRecorder()

			srv.Router().ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestAuthMiddlewareNoKeyConfigured(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			APIPort: 8080,
			APIKey:  "", // No key configured
		},
	}
	sched := newMockScheduler()
	srv := NewServer(cfg, &mockStore{}, sched, testLogger())

	// Should allow access without auth when no key is configured
	req := httptest.NewRequest("GET", "/api/v1/users", nil)
	w := httptest.NewRecorder()

	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d when no API key configured", w.Code, http.StatusOK)
	}
}

func TestSchedulerStatusEndpoint(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{APIPort: 8080},
	}
	sched := newMockScheduler()
	sched.running = true
	sched.statuses = []UserStatus{
		{
			Email:    "me@acme.com",
			Running:  false,
			Schedule: "0 2 * * *",
			NextRun:  time.Now().Add(time.Hour),
		},
	}

	srv := NewServer(cfg, &mockStore{}, sched, testLogger())

	req := httptest.NewRequest("GET", "/api/v1/scheduler/status", nil)
	w := httptest.NewRecorder()

	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp SchedulerStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if !resp.Running {
		t.Error("expected scheduler to be running")
	}
	if len(resp.Users) != 1 {
		t.Errorf("expected 1 user, got %d", len(resp.Users))
	}
}

func TestSchedulerStatusNotRunning(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{APIPort: 8080},
	}
	sched := newMockScheduler()
	sched.running = false

	srv := NewServer(cfg, &mockStore{}, sched, testLogger())

	req := httptest.NewRequest("GET", "/api/v1/scheduler/status", nil)
	w := httptest.NewRecorder()

	srv.Router().ServeHTTP(w, req)

	var resp SchedulerStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Running {
		t.Error("expected scheduler to NOT be running")
	}
}

func TestNilSchedulerStatus(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{APIPort: 8080},
	}
	srv := NewServer(cfg, &mockStore{}, nil, testLogger())

	req := httptest.NewRequest("GET", "/api/v1/scheduler/status", nil)
	w := httptest.NewRecorder()

	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp SchedulerStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Running {
		t.Error("expected not running with no scheduler wired")
	}
	if resp.Users == nil {
		t.Error("expected empty users array, not null")
	}
}
