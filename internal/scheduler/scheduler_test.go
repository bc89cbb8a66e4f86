package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/commsight/commsight/internal/config"
	"github.com/commsight/commsight/internal/pipeline"
)

func noopRun(ctx context.Context, email string, mode pipeline.Mode) error {
	return nil
}

func TestNew(t *testing.T) {
	s := New(noopRun)

	if s == nil {
		t.Fatal("New() returned nil")
	}
	if s.cron == nil {
		t.Error("cron is nil")
	}
	if s.jobs == nil {
		t.Error("jobs map is nil")
	}
}

func TestAddUser(t *testing.T) {
	s := New(noopRun)

	if err := s.AddUser("me@acme.com", "0 2 * * *"); err != nil {
		t.Errorf("AddUser() with valid cron = %v, want nil", err)
	}

	s.mu.RLock()
	_, exists := s.jobs["me@acme.com"]
	s.mu.RUnlock()

	if !exists {
		t.Error("job was not added to jobs map")
	}
}

func TestAddUserInvalidCron(t *testing.T) {
	s := New(noopRun)

	if err := s.AddUser("me@acme.com", "invalid cron"); err == nil {
		t.Error("AddUser() with invalid cron = nil, want error")
	}
}

func TestAddUserReplacesExisting(t *testing.T) {
	s := New(noopRun)

	if err := s.AddUser("me@acme.com", "0 2 * * *"); err != nil {
		t.Fatalf("AddUser() = %v", err)
	}

	s.mu.RLock()
	firstID := s.jobs["me@acme.com"]
	s.mu.RUnlock()

	if err := s.AddUser("me@acme.com", "0 3 * * *"); err != nil {
		t.Fatalf("AddUser() replacement = %v", err)
	}

	s.mu.RLock()
	secondID := s.jobs["me@acme.com"]
	s.mu.RUnlock()

	if firstID == secondID {
		t.Error("job ID was not updated after replacement")
	}
}

func TestRemoveUser(t *testing.T) {
	s := New(noopRun)

	if err := s.AddUser("me@acme.com", "0 2 * * *"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	s.RemoveUser("me@acme.com")

	s.mu.RLock()
	_, exists := s.jobs["me@acme.com"]
	s.mu.RUnlock()

	if exists {
		t.Error("job still exists after RemoveUser()")
	}

	// Removing an unknown user should not panic.
	s.RemoveUser("nonexistent@acme.com")
}

func TestAddUsersFromConfig(t *testing.T) {
	s := New(noopRun)

	cfg := &config.Config{
		Users: []config.UserSchedule{
			{Email: "user1@acme.com", Schedule: "0 1 * * *", Enabled: true},
			{Email: "user2@acme.com", Schedule: "0 2 * * *", Enabled: true},
			{Email: "disabled@acme.com", Schedule: "0 3 * * *", Enabled: false},
			{Email: "noschedule@acme.com", Schedule: "", Enabled: true},
		},
	}

	scheduled, errs := s.AddUsersFromConfig(cfg)

	if len(errs) != 0 {
		t.Errorf("AddUsersFromConfig() errors = %v", errs)
	}
	if scheduled != 2 {
		t.Errorf("AddUsersFromConfig() scheduled = %d, want 2", scheduled)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.jobs["user1@acme.com"]; !ok {
		t.Error("user1@acme.com should be scheduled")
	}
	if _, ok := s.jobs["user2@acme.com"]; !ok {
		t.Error("user2@acme.com should be scheduled")
	}
	if _, ok := s.jobs["disabled@acme.com"]; ok {
		t.Error("disabled@acme.com should not be scheduled")
	}
	if _, ok := s.jobs["noschedule@acme.com"]; ok {
		t.Error("noschedule@acme.com should not be scheduled")
	}
}

func TestAddUsersFromConfigWithErrors(t *testing.T) {
	s := New(noopRun)

	cfg := &config.Config{
		Users: []config.UserSchedule{
			{Email: "valid@acme.com", Schedule: "0 1 * * *", Enabled: true},
			{Email: "invalid@acme.com", Schedule: "not a cron", Enabled: true},
		},
	}

	scheduled, errs := s.AddUsersFromConfig(cfg)

	if scheduled != 1 {
		t.Errorf("scheduled = %d, want 1", scheduled)
	}
	if len(errs) != 1 {
		t.Errorf("len(errs) = %d, want 1", len(errs))
	}
}

func TestStartStop(t *testing.T) {
	s := New(noopRun)

	s.Start()
	ctx := s.Stop()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("Stop() did not complete in time")
	}
}

func TestIsRunning(t *testing.T) {
	s := New(noopRun)

	if s.IsRunning() {
		t.Error("IsRunning() = true before Start()")
	}

	s.Start()
	if !s.IsRunning() {
		t.Error("IsRunning() = false after Start()")
	}

	ctx := s.Stop()
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop()")
	}

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("Stop() did not complete in time")
	}
}

func TestStopCancelsRunningJob(t *testing.T) {
	runStarted := make(chan struct{})
	s := New(func(ctx context.Context, email string, mode pipeline.Mode) error {
		close(runStarted)
		<-ctx.Done()
		return ctx.Err()
	})

	if err := s.AddUser("me@acme.com", "0 0 1 1 *"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if err := s.TriggerRun("me@acme.com"); err != nil {
		t.Fatalf("TriggerRun: %v", err)
	}

	select {
	case <-runStarted:
	case <-time.After(time.Second):
		t.Fatal("run did not start")
	}

	ctx := s.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Error("Stop() did not complete after cancelling the run")
	}

	statuses := s.Status()
	for _, status := range statuses {
		if status.Email == "me@acme.com" {
			if status.LastError == "" {
				t.Error("expected error after cancelled run")
			}
			return
		}
	}
	t.Error("me@acme.com not found in status")
}

func TestTriggerRun(t *testing.T) {
	var called atomic.Int32
	s := New(func(ctx context.Context, email string, mode pipeline.Mode) error {
		called.Add(1)
		time.Sleep(50 * time.Millisecond)
		return nil
	})

	if err := s.AddUser("me@acme.com", "0 0 1 1 *"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	if err := s.TriggerRun("me@acme.com"); err != nil {
		t.Errorf("TriggerRun() = %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	// Second trigger should fail (already in flight).
	if err := s.TriggerRun("me@acme.com"); err == nil {
		t.Error("TriggerRun() while in flight = nil, want error")
	}

	time.Sleep(100 * time.Millisecond)

	if called.Load() != 1 {
		t.Errorf("runFunc called %d times, want 1", called.Load())
	}
}

func TestTriggerRunPreventsDoubleRun(t *testing.T) {
	var concurrent atomic.Int32
	var maxConcurrent atomic.Int32

	s := New(func(ctx context.Context, email string, mode pipeline.Mode) error {
		c := concurrent.Add(1)
		if c > maxConcurrent.Load() {
			maxConcurrent.Store(c)
		}
		time.Sleep(50 * time.Millisecond)
		concurrent.Add(-1)
		return nil
	})

	if err := s.AddUser("me@acme.com", "0 0 1 1 *"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	for i := 0; i < 5; i++ {
		_ = s.TriggerRun("me@acme.com")
	}

	time.Sleep(200 * time.Millisecond)

	if maxConcurrent.Load() > 1 {
		t.Errorf("max concurrent = %d, want 1", maxConcurrent.Load())
	}
}

func TestFallsBackToFullRunWithoutWatermark(t *testing.T) {
	var modes []pipeline.Mode
	done := make(chan struct{})
	s := New(func(ctx context.Context, email string, mode pipeline.Mode) error {
		modes = append(modes, mode)
		if mode == pipeline.ModeIncremental {
			return pipeline.ErrNoWatermark
		}
		close(done)
		return nil
	})

	if err := s.AddUser("me@acme.com", "0 0 1 1 *"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if err := s.TriggerRun("me@acme.com"); err != nil {
		t.Fatalf("TriggerRun: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("full fallback did not run")
	}

	if len(modes) != 2 || modes[0] != pipeline.ModeIncremental || modes[1] != pipeline.ModeFull {
		t.Errorf("modes = %v, want incremental then full", modes)
	}

	time.Sleep(20 * time.Millisecond)
	for _, status := range s.Status() {
		if status.Email == "me@acme.com" && status.LastError != "" {
			t.Errorf("fallback run left error %q", status.LastError)
		}
	}
}

func TestStatus(t *testing.T) {
	s := New(noopRun)

	if err := s.AddUser("me@acme.com", "0 2 * * *"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if err := s.AddUser("other@acme.com", "0 3 * * *"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	s.Start()
	defer s.Stop()

	statuses := s.Status()
	if len(statuses) != 2 {
		t.Errorf("len(Status()) = %d, want 2", len(statuses))
	}

	var found bool
	for _, status := range statuses {
		if status.Email == "me@acme.com" {
			found = true
			if status.Running {
				t.Error("status.Running = true, want false")
			}
			if status.NextRun.IsZero() {
				t.Error("status.NextRun is zero")
			}
			break
		}
	}
	if !found {
		t.Error("me@acme.com not found in status")
	}
}

func TestStatusAfterRunSuccess(t *testing.T) {
	s := New(noopRun)

	if err := s.AddUser("me@acme.com", "0 0 1 1 *"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if err := s.TriggerRun("me@acme.com"); err != nil {
		t.Fatalf("TriggerRun: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	for _, status := range s.Status() {
		if status.Email == "me@acme.com" {
			if status.LastRun.IsZero() {
				t.Error("LastRun should be set after a successful run")
			}
			if status.LastError != "" {
				t.Errorf("LastError = %q, want empty", status.LastError)
			}
			return
		}
	}
	t.Error("me@acme.com not found in status")
}

func TestStatusAfterRunError(t *testing.T) {
	s := New(func(ctx context.Context, email string, mode pipeline.Mode) error {
		return errors.New("run failed")
	})

	if err := s.AddUser("me@acme.com", "0 0 1 1 *"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if err := s.TriggerRun("me@acme.com"); err != nil {
		t.Fatalf("TriggerRun: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	for _, status := range s.Status() {
		if status.Email == "me@acme.com" {
			if status.LastError == "" {
				t.Error("LastError should be set after a failed run")
			}
			return
		}
	}
	t.Error("me@acme.com not found in status")
}

func TestTriggerRunAfterStop(t *testing.T) {
	s := New(noopRun)

	if err := s.AddUser("me@acme.com", "0 0 1 1 *"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	ctx := s.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("Stop() did not complete in time")
	}

	if err := s.TriggerRun("me@acme.com"); err == nil {
		t.Error("TriggerRun() after Stop() = nil, want error")
	}
}

func TestValidateCronExpr(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 2 * * *", false},    // 2am daily
		{"*/15 * * * *", false}, // Every 15 minutes
		{"0 0 1 * *", false},    // Monthly on 1st
		{"0 0 * * 0", false},    // Weekly on Sunday
		{"invalid", true},
		{"* * * * * *", true}, // Too many fields
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := ValidateCronExpr(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCronExpr(%q) error = %v, wantErr = %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}
