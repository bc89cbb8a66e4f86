package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/commsight/commsight/internal/timeline"
)

// UpsertEvents writes derived timeline events for a user, merging on the
// raw record's source id. A bad row is logged and skipped, not fatal to
// the batch.
func (s *Store) UpsertEvents(userID int64, events []timeline.Event) (written, skipped int, err error) {
	err = s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO timeline_events (user_id, source_id, event_type, occurred_at,
			                             participants, subject, duration_minutes, context)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, source_id) DO UPDATE SET
				event_type = excluded.event_type,
				occurred_at = excluded.occurred_at,
				participants = excluded.participants,
				subject = excluded.subject,
				duration_minutes = excluded.duration_minutes,
				context = excluded.context
		`)
		if err != nil {
			return fmt.Errorf("prepare event upsert: %w", err)
		}
		defer stmt.Close()

		for i := range events {
			e := &events[i]
			if e.SourceID == "" {
				s.logger.Warn("skipping timeline row", "user_id", userID, "error", "empty source id")
				skipped++
				continue
			}
			participants, rowErr := json.Marshal(e.Participants)
			if rowErr != nil {
				s.logger.Warn("skipping timeline row", "source_id", e.SourceID, "error", rowErr)
				skipped++
				continue
			}
			_, rowErr = stmt.Exec(
				userID, e.SourceID, string(e.Type), e.Timestamp.Unix(),
				string(participants), e.Subject, e.DurationMinutes, e.Context,
			)
			if rowErr != nil {
				s.logger.Warn("skipping timeline row", "source_id", e.SourceID, "error", rowErr)
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

// ListEvents returns a user's timeline events within [from, to), oldest
// first. Zero bounds are open-ended.
func (s *Store) ListEvents(userID int64, from, to time.Time) ([]timeline.Event, error) {
	query := `
		SELECT source_id, event_type, occurred_at, participants,
		       subject, duration_minutes, context
		FROM timeline_events
		WHERE user_id = ?
	`
	args := []any{userID}
	if !from.IsZero() {
		query += " AND occurred_at >= ?"
		args = append(args, from.Unix())
	}
	if !to.IsZero() {
		query += " AND occurred_at < ?"
		args = append(args, to.Unix())
	}
	query += " ORDER BY occurred_at ASC, id ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []timeline.Event
	for rows.Next() {
		var e timeline.Event
		var typ, participants string
		var occurredAt int64

		err := rows.Scan(
			&e.SourceID, &typ, &occurredAt, &participants,
			&e.Subject, &e.DurationMinutes, &e.Context,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(participants), &e.Participants); err != nil {
			return nil, fmt.Errorf("decode participants for %s: %w", e.SourceID, err)
		}
		e.Type = timeline.EventType(typ)
		e.Timestamp = time.Unix(occurredAt, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteEvents removes every timeline event for a user, for full rebuilds.
func (s *Store) DeleteEvents(userID int64) error {
	_, err := s.db.Exec(`DELETE FROM timeline_events WHERE user_id = ?`, userID)
	return err
}
