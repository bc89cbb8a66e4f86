// Package api provides the HTTP API server for commsight.
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/commsight/commsight/internal/config"
	"github.com/commsight/commsight/internal/contacts"
	"github.com/commsight/commsight/internal/scheduler"
	"github.com/commsight/commsight/internal/store"
	"github.com/commsight/commsight/internal/threads"
	"github.com/commsight/commsight/internal/timeline"
)

// InsightStore defines the store operations the API needs.
type InsightStore interface {
	GetStats() (*store.Stats, error)
	GetUser(email string) (*store.User, error)
	ListUsers() ([]*store.User, error)
	ListContacts(userID int64) ([]*contacts.Profile, error)
	ListThreads(userID int64, limit int) ([]*threads.Thread, error)
	ListAbandonedThreads(userID int64) ([]*threads.Thread, error)
	ListEvents(userID int64, from, to time.Time) ([]timeline.Event, error)
	ListDailyMetrics(userID int64, fromDay, toDay string) ([]store.DailyMetric, error)
	ListHourlyMetrics(userID int64, day string) ([]store.HourlyMetric, error)
	ListRuns(userID int64, limit int) ([]*store.PipelineRun, error)
}

// RunScheduler defines the scheduler operations the API needs.
type RunScheduler interface {
	IsScheduled(email string) bool
	TriggerRun(email string) error
	Status() []UserStatus
	IsRunning() bool
}

// UserStatus mirrors the scheduler's per-user status.
type UserStatus = scheduler.UserStatus

// Server represents the HTTP API server.
type Server struct {
	cfg         *config.Config
	store       InsightStore
	scheduler   RunScheduler
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, st InsightStore, sched RunScheduler, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		store:     st,
		scheduler: sched,
		logger:    logger,
	}
	s.router = s.setupRouter()
	return s
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	// Rate limiting (10 req/sec with burst of 20)
	s.rateLimiter = NewRateLimiter(10, 20)
	r.Use(RateLimitMiddleware(s.rateLimiter))

	// Health check (no auth required)
	r.Get("/health", s.handleHealth)

	// API routes (auth required)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/stats", s.handleStats)
		r.Get("/users", s.handleListUsers)

		r.Route("/users/{email}", func(r chi.Router) {
			r.Get("/contacts", s.handleListContacts)
			r.Get("/threads", s.handleListThreads)
			r.Get("/timeline", s.handleTimeline)
			r.Get("/metrics/daily", s.handleDailyMetrics)
			r.Get("/metrics/hourly", s.handleHourlyMetrics)
			r.Get("/runs", s.handleListRuns)
			r.Post("/runs", s.handleTriggerRun)
		})

		r.Get("/scheduler/status", s.handleSchedulerStatus)
	})

	return r
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(s.cfg.Server.APIPort))

	if s.cfg.Server.APIKey == "" {
		s.logger.Warn("API server running without authentication, set [server] api_key in config.toml")
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// loggerMiddleware logs HTTP requests.
func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// authMiddleware validates the API key.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key configured
		if s.cfg.Server.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			authHeader = r.Header.Get("X-API-Key")
		}

		// Strip "Bearer " prefix if present
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			authHeader = authHeader[7:]
		}

		if subtle.ConstantTimeCompare([]byte(authHeader), []byte(s.cfg.Server.APIKey)) != 1 {
			s.logger.Warn("unauthorized API request",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
