package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/commsight/commsight/internal/contacts"
	"github.com/commsight/commsight/internal/store"
	"github.com/commsight/commsight/internal/threads"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   errType,
		Message: message,
	})
}

// userFromPath resolves the {email} path parameter to a stored user.
// Writes a 404 and returns nil when the user is unknown.
func (s *Server) userFromPath(w http.ResponseWriter, r *http.Request) *store.User {
	email := chi.URLParam(r, "email")
	user, err := s.store.GetUser(email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "User not found: "+email)
			return nil
		}
		s.logger.Error("failed to get user", "email", email, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to get user")
		return nil
	}
	return user
}

// limitParam parses the limit query parameter, clamped to 1..maxLimit.
// Returns def when the parameter is absent or unparsable.
func limitParam(r *http.Request, def, maxLimit int) int {
	limit := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			limit = n
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}

// StatsResponse contains database statistics.
type StatsResponse struct {
	Users        int64 `json:"users"`
	Contacts     int64 `json:"contacts"`
	Threads      int64 `json:"threads"`
	Events       int64 `json:"events"`
	Runs         int64 `json:"runs"`
	DatabaseSize int64 `json:"database_size_bytes"`
}

// handleStats returns database statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats()
	if err != nil {
		s.logger.Error("failed to get stats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to get statistics")
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		Users:        stats.UserCount,
		Contacts:     stats.ContactCount,
		Threads:      stats.ThreadCount,
		Events:       stats.EventCount,
		Runs:         stats.RunCount,
		DatabaseSize: stats.DatabaseSize,
	})
}

// UserResponse is one analyzed mailbox owner.
type UserResponse struct {
	ID          int64      `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name,omitempty"`
	Watermark   *time.Time `json:"watermark,omitempty"`
	Scheduled   bool       `json:"scheduled"`
}

// handleListUsers returns all users known to the store.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers()
	if err != nil {
		s.logger.Error("failed to list users", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list users")
		return
	}

	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		resp := UserResponse{
			ID:          u.ID,
			Email:       u.Email,
			DisplayName: u.DisplayName,
			Scheduled:   s.scheduler != nil && s.scheduler.IsScheduled(u.Email),
		}
		if !u.Watermark.IsZero() {
			wm := u.Watermark
			resp.Watermark = &wm
		}
		out = append(out, resp)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": out,
		"total": len(out),
	})
}

// ContactResponse is one canonical contact profile.
type ContactResponse struct {
	CanonicalEmail string     `json:"canonical_email"`
	DisplayName    string     `json:"display_name,omitempty"`
	Addresses      []string   `json:"addresses"`
	Domain         string     `json:"domain"`
	IsInternal     bool       `json:"is_internal"`
	Relationship   string     `json:"relationship"`
	Weight         float64    `json:"weight"`
	FirstSeen      *time.Time `json:"first_seen,omitempty"`
	LastSeen       *time.Time `json:"last_seen,omitempty"`
}

func contactResponse(p *contacts.Profile) ContactResponse {
	resp := ContactResponse{
		CanonicalEmail: p.CanonicalEmail,
		DisplayName:    p.DisplayName,
		Addresses:      p.Addresses,
		Domain:         p.Domain,
		IsInternal:     p.IsInternal,
		Relationship:   p.Relationship,
		Weight:         p.Weight,
	}
	if !p.FirstSeen.IsZero() {
		t := p.FirstSeen
		resp.FirstSeen = &t
	}
	if !p.LastSeen.IsZero() {
		t := p.LastSeen
		resp.LastSeen = &t
	}
	return resp
}

// handleListContacts returns a user's contacts, optionally filtered by
// relationship.
func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	user := s.userFromPath(w, r)
	if user == nil {
		return
	}

	profiles, err := s.store.ListContacts(user.ID)
	if err != nil {
		s.logger.Error("failed to list contacts", "email", user.Email, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list contacts")
		return
	}

	relationship := r.URL.Query().Get("relationship")

	out := make([]ContactResponse, 0, len(profiles))
	for _, p := range profiles {
		if relationship != "" && p.Relationship != relationship {
			continue
		}
		out = append(out, contactResponse(p))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"contacts": out,
		"total":    len(out),
	})
}

// ThreadResponse is one reconstructed conversation thread.
type ThreadResponse struct {
	ID                 string    `json:"id"`
	Subject            string    `json:"subject"`
	MessageIDs         []string  `json:"message_ids"`
	MessageCount       int       `json:"message_count"`
	HasReplied         bool      `json:"has_replied"`
	LastReceived       string    `json:"last_received,omitempty"`
	MedianResponseSecs *int64    `json:"median_response_secs,omitempty"`
	IsAbandoned        bool      `json:"is_abandoned"`
	LastActivity       time.Time `json:"last_activity"`
}

func threadResponse(t *threads.Thread) ThreadResponse {
	resp := ThreadResponse{
		ID:           t.ID,
		Subject:      t.Subject,
		MessageIDs:   t.MessageIDs,
		MessageCount: len(t.MessageIDs),
		HasReplied:   t.HasReplied,
		LastReceived: t.LastReceived,
		IsAbandoned:  t.IsAbandoned,
		LastActivity: t.LastActivity,
	}
	if t.HasResponseStat {
		secs := int64(t.MedianResponse.Seconds())
		resp.MedianResponseSecs = &secs
	}
	return resp
}

// handleListThreads returns a user's threads, newest activity first.
// abandoned=true restricts to abandoned threads, oldest first.
func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	user := s.userFromPath(w, r)
	if user == nil {
		return
	}

	var (
		list []*threads.Thread
		err  error
	)
	if r.URL.Query().Get("abandoned") == "true" {
		list, err = s.store.ListAbandonedThreads(user.ID)
	} else {
		list, err = s.store.ListThreads(user.ID, limitParam(r, 50, 500))
	}
	if err != nil {
		s.logger.Error("failed to list threads", "email", user.Email, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list threads")
		return
	}

	out := make([]ThreadResponse, 0, len(list))
	for _, t := range list {
		out = append(out, threadResponse(t))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"threads": out,
		"total":   len(out),
	})
}

// EventResponse is one unified timeline entry.
type EventResponse struct {
	SourceID        string    `json:"source_id"`
	Type            string    `json:"type"`
	Timestamp       time.Time `json:"timestamp"`
	Participants    []string  `json:"participants"`
	Subject         string    `json:"subject,omitempty"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	Context         string    `json:"context"`
}

// handleTimeline returns a user's timeline events in a time window.
// from and to are optional RFC 3339 timestamps; absent bounds are open.
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	user := s.userFromPath(w, r)
	if user == nil {
		return
	}

	var from, to time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "from must be an RFC 3339 timestamp")
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "to must be an RFC 3339 timestamp")
			return
		}
		to = t
	}

	events, err := s.store.ListEvents(user.ID, from, to)
	if err != nil {
		s.logger.Error("failed to list events", "email", user.Email, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list timeline events")
		return
	}

	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, EventResponse{
			SourceID:        e.SourceID,
			Type:            string(e.Type),
			Timestamp:       e.Timestamp,
			Participants:    e.Participants,
			Subject:         e.Subject,
			DurationMinutes: e.DurationMinutes,
			Context:         e.Context,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": out,
		"total":  len(out),
	})
}

// DailyMetricResponse is one day of workload metrics.
type DailyMetricResponse struct {
	Day             string         `json:"day"`
	CognitiveLoad   float64        `json:"cognitive_load"`
	ContextSwitches int            `json:"context_switches"`
	MeetingCount    int            `json:"meeting_count"`
	MessageCount    int            `json:"message_count"`
	MeetingMinutes  int            `json:"meeting_minutes"`
	TimeByContext   map[string]int `json:"time_by_context"`
}

// dayParam validates an optional YYYY-MM-DD query parameter.
func dayParam(r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return "", true
	}
	if _, err := time.Parse("2006-01-02", v); err != nil {
		return "", false
	}
	return v, true
}

// handleDailyMetrics returns a user's daily metrics in a day range.
// from and to are optional YYYY-MM-DD bounds, inclusive.
func (s *Server) handleDailyMetrics(w http.ResponseWriter, r *http.Request) {
	user := s.userFromPath(w, r)
	if user == nil {
		return
	}

	fromDay, ok := dayParam(r, "from")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "from must be a YYYY-MM-DD day")
		return
	}
	toDay, ok := dayParam(r, "to")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "to must be a YYYY-MM-DD day")
		return
	}

	metrics, err := s.store.ListDailyMetrics(user.ID, fromDay, toDay)
	if err != nil {
		s.logger.Error("failed to list daily metrics", "email", user.Email, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list daily metrics")
		return
	}

	out := make([]DailyMetricResponse, 0, len(metrics))
	for _, m := range metrics {
		out = append(out, DailyMetricResponse{
			Day:             m.Day,
			CognitiveLoad:   m.CognitiveLoad,
			ContextSwitches: m.ContextSwitches,
			MeetingCount:    m.MeetingCount,
			MessageCount:    m.MessageCount,
			MeetingMinutes:  m.MeetingMinutes,
			TimeByContext:   m.TimeByContext,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": out,
		"total":   len(out),
	})
}

// HourlyMetricResponse is one hour of workload metrics.
type HourlyMetricResponse struct {
	Day             string  `json:"day"`
	Hour            int     `json:"hour"`
	CognitiveLoad   float64 `json:"cognitive_load"`
	ContextSwitches int     `json:"context_switches"`
}

// handleHourlyMetrics returns a user's hourly metrics for one day.
// The day query parameter is required.
func (s *Server) handleHourlyMetrics(w http.ResponseWriter, r *http.Request) {
	user := s.userFromPath(w, r)
	if user == nil {
		return
	}

	day := r.URL.Query().Get("day")
	if day == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "day query parameter is required")
		return
	}
	if _, err := time.Parse("2006-01-02", day); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "day must be a YYYY-MM-DD day")
		return
	}

	metrics, err := s.store.ListHourlyMetrics(user.ID, day)
	if err != nil {
		s.logger.Error("failed to list hourly metrics", "email", user.Email, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list hourly metrics")
		return
	}

	out := make([]HourlyMetricResponse, 0, len(metrics))
	for _, m := range metrics {
		out = append(out, HourlyMetricResponse{
			Day:             m.Day,
			Hour:            m.Hour,
			CognitiveLoad:   m.CognitiveLoad,
			ContextSwitches: m.ContextSwitches,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": out,
		"total":   len(out),
	})
}

// RunResponse is one pipeline run.
type RunResponse struct {
	ID               string     `json:"id"`
	Mode             string     `json:"mode"`
	Status           string     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	MessagesFetched  int        `json:"messages_fetched"`
	CalendarFetched  int        `json:"calendar_fetched"`
	ContactsUpserted int        `json:"contacts_upserted"`
	ThreadsUpserted  int        `json:"threads_upserted"`
	TimelineUpserted int        `json:"timeline_upserted"`
	MetricsUpserted  int        `json:"metrics_upserted"`
	ErrorsCount      int        `json:"errors_count"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	WatermarkAfter   *time.Time `json:"watermark_after,omitempty"`
}

func runResponse(run *store.PipelineRun) RunResponse {
	resp := RunResponse{
		ID:               run.ID,
		Mode:             run.Mode,
		Status:           run.Status,
		StartedAt:        run.StartedAt,
		MessagesFetched:  run.Counts.MessagesFetched,
		CalendarFetched:  run.Counts.CalendarFetched,
		ContactsUpserted: run.Counts.ContactsUpserted,
		ThreadsUpserted:  run.Counts.ThreadsUpserted,
		TimelineUpserted: run.Counts.TimelineUpserted,
		MetricsUpserted:  run.Counts.MetricsUpserted,
		ErrorsCount:      run.Counts.ErrorsCount,
		ErrorMessage:     run.ErrorMessage,
	}
	if !run.CompletedAt.IsZero() {
		t := run.CompletedAt
		resp.CompletedAt = &t
	}
	if !run.WatermarkAfter.IsZero() {
		t := run.WatermarkAfter
		resp.WatermarkAfter = &t
	}
	return resp
}

// handleListRuns returns a user's run history, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	user := s.userFromPath(w, r)
	if user == nil {
		return
	}

	runs, err := s.store.ListRuns(user.ID, limitParam(r, 20, 100))
	if err != nil {
		s.logger.Error("failed to list runs", "email", user.Email, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list runs")
		return
	}

	out := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, runResponse(run))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  out,
		"total": len(out),
	})
}

// handleTriggerRun triggers a pipeline run for a scheduled user.
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	user := s.userFromPath(w, r)
	if user == nil {
		return
	}

	if s.scheduler == nil || !s.scheduler.IsScheduled(user.Email) {
		writeError(w, http.StatusNotFound, "not_found", "User is not scheduled: "+user.Email)
		return
	}

	if err := s.scheduler.TriggerRun(user.Email); err != nil {
		writeError(w, http.StatusConflict, "conflict", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "run started",
		"email":  user.Email,
	})
}

// SchedulerStatusResponse contains scheduler status.
type SchedulerStatusResponse struct {
	Running bool         `json:"running"`
	Users   []UserStatus `json:"users"`
}

// handleSchedulerStatus returns the scheduler status.
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusOK, SchedulerStatusResponse{Running: false, Users: []UserStatus{}})
		return
	}

	statuses := s.scheduler.Status()
	if statuses == nil {
		statuses = []UserStatus{}
	}

	writeJSON(w, http.StatusOK, SchedulerStatusResponse{
		Running: s.scheduler.IsRunning(),
		Users:   statuses,
	})
}
