package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Pipeline run statuses.
const (
	RunPending    = "pending"
	RunProcessing = "processing"
	RunCompleted  = "completed"
	RunFailed     = "failed"
	RunPartial    = "partial"
)

// RunCounts tallies what one pipeline run fetched and wrote.
type RunCounts struct {
	MessagesFetched  int
	CalendarFetched  int
	ContactsUpserted int
	ThreadsUpserted  int
	TimelineUpserted int
	MetricsUpserted  int
	ErrorsCount      int
}

// PipelineRun is one pipeline execution, in progress or finished.
type PipelineRun struct {
	ID           string
	UserID       int64
	Mode         string // "full" or "incremental"
	Status       string
	StartedAt    time.Time
	CompletedAt  time.Time
	Counts       RunCounts
	ErrorMessage string

	// WatermarkAfter is the watermark recorded when the run completed;
	// zero for failed and in-progress runs.
	WatermarkAfter time.Time
}

// CreateRun inserts a new pending run.
func (s *Store) CreateRun(id string, userID int64, mode string) error {
	_, err := s.db.Exec(`
		INSERT INTO pipeline_runs (id, user_id, mode, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, userID, mode, RunPending, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// MarkRunProcessing moves a pending run to processing.
func (s *Store) MarkRunProcessing(id string) error {
	_, err := s.db.Exec(`
		UPDATE pipeline_runs SET status = ? WHERE id = ? AND status = ?
	`, RunProcessing, id, RunPending)
	return err
}

// CompleteRun finishes a run as completed or partial, recording its
// counts and the watermark it established.
func (s *Store) CompleteRun(id, status string, counts RunCounts, watermark time.Time) error {
	_, err := s.db.Exec(`
		UPDATE pipeline_runs
		SET status = ?,
		    completed_at = ?,
		    messages_fetched = ?,
		    calendar_fetched = ?,
		    contacts_upserted = ?,
		    threads_upserted = ?,
		    timeline_upserted = ?,
		    metrics_upserted = ?,
		    errors_count = ?,
		    watermark_after = ?
		WHERE id = ?
	`, status, time.Now().Unix(),
		counts.MessagesFetched, counts.CalendarFetched,
		counts.ContactsUpserted, counts.ThreadsUpserted,
		counts.TimelineUpserted, counts.MetricsUpserted,
		counts.ErrorsCount, nullUnix(watermark), id)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// FailRun marks a run as failed with an error message.
func (s *Store) FailRun(id, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE pipeline_runs
		SET status = ?, completed_at = ?, error_message = ?
		WHERE id = ?
	`, RunFailed, time.Now().Unix(), errMsg, id)
	if err != nil {
		return fmt.Errorf("fail run: %w", err)
	}
	return nil
}

// GetActiveRun returns the newest pending or processing run for a user,
// or nil when none is active.
func (s *Store) GetActiveRun(userID int64) (*PipelineRun, error) {
	rows, err := s.db.Query(runSelect+`
		WHERE user_id = ? AND status IN (?, ?)
		ORDER BY started_at DESC
		LIMIT 1
	`, userID, RunPending, RunProcessing)
	if err != nil {
		return nil, fmt.Errorf("get active run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanRun(rows)
}

// FailStaleRuns marks runs stuck in pending or processing longer than
// maxAge as failed, so a crashed process doesn't block later runs
// forever. Returns the number of runs reaped.
func (s *Store) FailStaleRuns(userID int64, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	result, err := s.db.Exec(`
		UPDATE pipeline_runs
		SET status = ?, completed_at = ?, error_message = 'abandoned by a previous process'
		WHERE user_id = ? AND status IN (?, ?) AND started_at < ?
	`, RunFailed, time.Now().Unix(), userID, RunPending, RunProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("fail stale runs: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// GetRun returns one run by id, or nil if unknown.
func (s *Store) GetRun(id string) (*PipelineRun, error) {
	rows, err := s.db.Query(runSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanRun(rows)
}

// ListRuns returns a user's runs, newest first. limit <= 0 means no limit.
func (s *Store) ListRuns(userID int64, limit int) ([]*PipelineRun, error) {
	query := runSelect + `
		WHERE user_id = ?
		ORDER BY started_at DESC, id DESC
	`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

const runSelect = `
	SELECT id, user_id, mode, status, started_at, completed_at,
	       messages_fetched, calendar_fetched, contacts_upserted,
	       threads_upserted, timeline_upserted, metrics_upserted,
	       errors_count, error_message, watermark_after
	FROM pipeline_runs
`

func scanRun(rows *sql.Rows) (*PipelineRun, error) {
	var run PipelineRun
	var startedAt int64
	var completedAt, watermarkAfter sql.NullInt64

	err := rows.Scan(
		&run.ID, &run.UserID, &run.Mode, &run.Status, &startedAt, &completedAt,
		&run.Counts.MessagesFetched, &run.Counts.CalendarFetched, &run.Counts.ContactsUpserted,
		&run.Counts.ThreadsUpserted, &run.Counts.TimelineUpserted, &run.Counts.MetricsUpserted,
		&run.Counts.ErrorsCount, &run.ErrorMessage, &watermarkAfter,
	)
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.StartedAt = time.Unix(startedAt, 0).UTC()
	run.CompletedAt = timeFromNull(completedAt)
	run.WatermarkAfter = timeFromNull(watermarkAfter)
	return &run, nil
}
