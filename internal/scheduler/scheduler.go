// Package scheduler provides cron-based scheduling for automated
// pipeline runs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/commsight/commsight/internal/config"
	"github.com/commsight/commsight/internal/pipeline"
)

// RunFunc is the callback invoked when a scheduled pipeline run fires.
type RunFunc func(ctx context.Context, email string, mode pipeline.Mode) error

// UserStatus represents the pipeline status of a scheduled user.
type UserStatus struct {
	Email     string    `json:"email"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run"`
	Schedule  string    `json:"schedule"`
	LastError string    `json:"last_error,omitempty"`
}

// Scheduler manages cron-based pipeline scheduling. Scheduled runs are
// incremental; a user with no watermark yet falls back to a full run.
type Scheduler struct {
	cron    *cron.Cron
	runFunc RunFunc
	logger  *slog.Logger

	mu        sync.RWMutex
	jobs      map[string]cron.EntryID // email -> cron entry ID
	schedules map[string]string       // email -> cron expression
	running   map[string]bool         // email -> run in flight
	lastRun   map[string]time.Time    // email -> last successful run
	lastErr   map[string]error        // email -> last error

	ctx     context.Context    // cancelled on Stop
	cancel  context.CancelFunc // cancels ctx
	wg      sync.WaitGroup     // tracks running pipeline goroutines
	started bool               // true after Start(), false after Stop()
	stopped bool               // true after Stop()
}

// New creates a new Scheduler with the given run callback.
func New(runFunc RunFunc) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		))),
		runFunc:   runFunc,
		logger:    slog.Default(),
		jobs:      make(map[string]cron.EntryID),
		schedules: make(map[string]string),
		running:   make(map[string]bool),
		lastRun:   make(map[string]time.Time),
		lastErr:   make(map[string]error),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// WithLogger sets the logger for the scheduler.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// AddUser schedules pipeline runs for a user using the given cron
// expression. Returns an error if the cron expression is invalid.
func (s *Scheduler) AddUser(email, cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Remove existing schedule if present
	if entryID, exists := s.jobs[email]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, email)
		delete(s.schedules, email)
	}

	entryID, err := s.cron.AddFunc(cronExpr, func() {
		s.mu.Lock()
		if s.stopped || s.running[email] {
			s.mu.Unlock()
			return
		}
		s.running[email] = true
		s.wg.Add(1)
		s.mu.Unlock()
		s.runPipeline(email)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	s.jobs[email] = entryID
	s.schedules[email] = cronExpr
	s.logger.Info("scheduled pipeline",
		"email", email,
		"schedule", cronExpr,
		"next_run", s.cron.Entry(entryID).Next)

	return nil
}

// AddUsersFromConfig adds all enabled users from the config.
// Returns the number of users scheduled and any errors encountered.
func (s *Scheduler) AddUsersFromConfig(cfg *config.Config) (int, []error) {
	var errs []error
	scheduled := 0

	for _, u := range cfg.ScheduledUsers() {
		if err := s.AddUser(u.Email, u.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u.Email, err))
		} else {
			scheduled++
		}
	}

	return scheduled, errs
}

// RemoveUser removes the schedule for a user.
func (s *Scheduler) RemoveUser(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, exists := s.jobs[email]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, email)
		delete(s.schedules, email)
		s.logger.Info("removed schedule", "email", email)
	}
}

// Start begins executing scheduled jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	s.stopped = false
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// IsRunning returns true if the scheduler has been started and not yet stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started && !s.stopped
}

// Stop gracefully stops the scheduler, cancels running pipeline jobs,
// and waits for them to finish. Returns a context that is done when all
// work completes.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel() // signal running jobs to stop

	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		close(done)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-done
		cancel()
	}()
	return ctx
}

// runPipeline executes a run for a user (called by cron or TriggerRun).
// The caller must have already called wg.Add(1) and set running[email].
func (s *Scheduler) runPipeline(email string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running[email] = false
		s.mu.Unlock()
	}()

	s.logger.Info("starting scheduled run", "email", email)
	start := time.Now()

	err := s.runFunc(s.ctx, email, pipeline.ModeIncremental)
	if errors.Is(err, pipeline.ErrNoWatermark) {
		s.logger.Info("no watermark yet, falling back to full run", "email", email)
		err = s.runFunc(s.ctx, email, pipeline.ModeFull)
	}

	s.mu.Lock()
	if err != nil {
		s.lastErr[email] = err
		s.logger.Error("scheduled run failed",
			"email", email,
			"duration", time.Since(start),
			"error", err)
	} else {
		s.lastRun[email] = time.Now()
		s.lastErr[email] = nil
		s.logger.Info("scheduled run completed",
			"email", email,
			"duration", time.Since(start))
	}
	s.mu.Unlock()
}

// IsScheduled returns true if the user has been added to the scheduler.
func (s *Scheduler) IsScheduled(email string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.jobs[email]
	return exists
}

// TriggerRun manually triggers a run for a user outside the schedule.
// Returns an error if a run is already in flight, the user is not
// scheduled, or the scheduler has been stopped.
func (s *Scheduler) TriggerRun(email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}

	if _, exists := s.jobs[email]; !exists {
		return fmt.Errorf("user %s is not scheduled", email)
	}
	if s.running[email] {
		return fmt.Errorf("run already in flight for %s", email)
	}

	s.running[email] = true
	s.wg.Add(1)
	go s.runPipeline(email)
	return nil
}

// Status returns the current status of all scheduled users.
func (s *Scheduler) Status() []UserStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var statuses []UserStatus
	for email, entryID := range s.jobs {
		entry := s.cron.Entry(entryID)
		status := UserStatus{
			Email:    email,
			Running:  s.running[email],
			LastRun:  s.lastRun[email],
			NextRun:  entry.Next,
			Schedule: s.schedules[email],
		}
		if err := s.lastErr[email]; err != nil {
			status.LastError = err.Error()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// ValidateCronExpr validates a cron expression without scheduling anything.
func ValidateCronExpr(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
