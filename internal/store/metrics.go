package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// DailyMetric is the workload summary of one calendar day. Day is a
// YYYY-MM-DD string; TimeByContext maps category name to minutes.
type DailyMetric struct {
	Day             string
	CognitiveLoad   float64
	ContextSwitches int
	MeetingCount    int
	MessageCount    int
	MeetingMinutes  int
	TimeByContext   map[string]int
}

// HourlyMetric is the workload summary of one hour bucket of a day.
type HourlyMetric struct {
	Day             string
	Hour            int
	CognitiveLoad   float64
	ContextSwitches int
}

// UpsertDailyMetrics writes daily metrics for a user, replacing each
// touched day wholesale. A bad row is logged and skipped, not fatal to
// the batch.
func (s *Store) UpsertDailyMetrics(userID int64, metrics []DailyMetric) (written, skipped int, err error) {
	err = s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO daily_metrics (user_id, day, cognitive_load, context_switches,
			                           meeting_count, message_count, meeting_minutes, time_by_context)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, day) DO UPDATE SET
				cognitive_load = excluded.cognitive_load,
				context_switches = excluded.context_switches,
				meeting_count = excluded.meeting_count,
				message_count = excluded.message_count,
				meeting_minutes = excluded.meeting_minutes,
				time_by_context = excluded.time_by_context
		`)
		if err != nil {
			return fmt.Errorf("prepare daily metric upsert: %w", err)
		}
		defer stmt.Close()

		for _, m := range metrics {
			if m.Day == "" {
				s.logger.Warn("skipping daily metric row", "user_id", userID, "error", "empty day")
				skipped++
				continue
			}
			byContext, rowErr := json.Marshal(m.TimeByContext)
			if rowErr != nil {
				s.logger.Warn("skipping daily metric row", "day", m.Day, "error", rowErr)
				skipped++
				continue
			}
			_, rowErr = stmt.Exec(
				userID, m.Day, m.CognitiveLoad, m.ContextSwitches,
				m.MeetingCount, m.MessageCount, m.MeetingMinutes, string(byContext),
			)
			if rowErr != nil {
				s.logger.Warn("skipping daily metric row", "day", m.Day, "error", rowErr)
				skipped++
				continue
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return written, skipped, nil
}

// UpsertHourlyMetrics writes hourly metrics for a user. A bad row is
// logged and skipped, not fatal to the batch.
func (s *Store) UpsertHourlyMetrics(userID int64, metrics []HourlyMetric) (written, skipped int, err error) {
	err = s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO hourly_metrics (user_id, day, hour, cognitive_load, context_switches)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (user_id, day, hour) DO UPDATE SET
				cognitive_load = excluded.cognitive_load,
				context_switches = excluded.context_switches
		`)
		if err != nil {
			return fmt.Errorf("prepare hourly metric upsert: %w", err)
		}
		defer stmt.Close()

		for _, m := range metrics {
			if m.Day == "" || m.Hour < 0 || m.Hour > 23 {
				s.logger.Warn("skipping hourly metric row", "user_id", userID, "day", m.Day, "hour", m.Hour)
				skipped++
				continue
			}
			if _, rowErr := stmt.Exec(userID, m.Day, m.Hour, m.CognitiveLoad, m.ContextSwitches); rowErr != nil {
				s.logger.Warn("skipping hourly metric row", "day", m.Day, "hour", m.Hour, "error", rowErr)
				skipped++
				continue
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return written, skipped, nil
}

// ListDailyMetrics returns daily metrics within [fromDay, toDay],
// inclusive, ordered by day. Empty bounds are open-ended.
func (s *Store) ListDailyMetrics(userID int64, fromDay, toDay string) ([]DailyMetric, error) {
	query := `
		SELECT day, cognitive_load, context_switches,
		       meeting_count, message_count, meeting_minutes, time_by_context
		FROM daily_metrics
		WHERE user_id = ?
	`
	args := []any{userID}
	if fromDay != "" {
		query += " AND day >= ?"
		args = append(args, fromDay)
	}
	if toDay != "" {
		query += " AND day <= ?"
		args = append(args, toDay)
	}
	query += " ORDER BY day ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list daily metrics: %w", err)
	}
	defer rows.Close()

	var out []DailyMetric
	for rows.Next() {
		var m DailyMetric
		var byContext string
		err := rows.Scan(
			&m.Day, &m.CognitiveLoad, &m.ContextSwitches,
			&m.MeetingCount, &m.MessageCount, &m.MeetingMinutes, &byContext,
		)
		if err != nil {
			return nil, fmt.Errorf("scan daily metric: %w", err)
		}
		if err := json.Unmarshal([]byte(byContext), &m.TimeByContext); err != nil {
			return nil, fmt.Errorf("decode time by context for %s: %w", m.Day, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListHourlyMetrics returns the hourly metrics of one day, ordered by hour.
func (s *Store) ListHourlyMetrics(userID int64, day string) ([]HourlyMetric, error) {
	rows, err := s.db.Query(`
		SELECT day, hour, cognitive_load, context_switches
		FROM hourly_metrics
		WHERE user_id = ? AND day = ?
		ORDER BY hour ASC
	`, userID, day)
	if err != nil {
		return nil, fmt.Errorf("list hourly metrics: %w", err)
	}
	defer rows.Close()

	var out []HourlyMetric
	for rows.Next() {
		var m HourlyMetric
		if err := rows.Scan(&m.Day, &m.Hour, &m.CognitiveLoad, &m.ContextSwitches); err != nil {
			return nil, fmt.Errorf("scan hourly metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteMetrics removes every daily and hourly metric for a user, for
// full rebuilds.
func (s *Store) DeleteMetrics(userID int64) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM daily_metrics WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("delete daily metrics: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM hourly_metrics WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("delete hourly metrics: %w", err)
		}
		return nil
	})
}
