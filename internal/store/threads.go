package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/commsight/commsight/internal/threads"
)

// UpsertThreads writes reconstructed threads for a user, merging on the
// thread key. Threads are fully derived, so every column is replaced on
// conflict. A bad row is logged and skipped, not fatal to the batch.
func (s *Store) UpsertThreads(userID int64, ths []*threads.Thread) (written, skipped int, err error) {
	err = s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO threads (user_id, thread_key, subject, message_ids, message_count,
			                     has_replied, last_received_id, median_response_secs,
			                     is_abandoned, last_activity)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, thread_key) DO UPDATE SET
				subject = excluded.subject,
				message_ids = excluded.message_ids,
				message_count = excluded.message_count,
				has_replied = excluded.has_replied,
				last_received_id = excluded.last_received_id,
				median_response_secs = excluded.median_response_secs,
				is_abandoned = excluded.is_abandoned,
				last_activity = excluded.last_activity
		`)
		if err != nil {
			return fmt.Errorf("prepare thread upsert: %w", err)
		}
		defer stmt.Close()

		for _, th := range ths {
			if th.ID == "" {
				s.logger.Warn("skipping thread row", "user_id", userID, "error", "empty thread key")
				skipped++
				continue
			}
			ids, rowErr := json.Marshal(th.MessageIDs)
			if rowErr != nil {
				s.logger.Warn("skipping thread row", "thread", th.ID, "error", rowErr)
				skipped++
				continue
			}
			var median sql.NullInt64
			if th.HasResponseStat {
				median = sql.NullInt64{Int64: int64(th.MedianResponse.Seconds()), Valid: true}
			}
			_, rowErr = stmt.Exec(
				userID, th.ID, th.Subject, string(ids), len(th.MessageIDs),
				th.HasReplied, th.LastReceived, median,
				th.IsAbandoned, nullUnix(th.LastActivity),
			)
			if rowErr != nil {
				s.logger.Warn("skipping thread row", "thread", th.ID, "error", rowErr)
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

// ListThreads returns a user's threads, newest activity first. limit <= 0
// means no limit.
func (s *Store) ListThreads(userID int64, limit int) ([]*threads.Thread, error) {
	query := `
		SELECT thread_key, subject, message_ids, has_replied,
		       last_received_id, median_response_secs, is_abandoned, last_activity
		FROM threads
		WHERE user_id = ?
		ORDER BY last_activity DESC
	`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var out []*threads.Thread
	for rows.Next() {
		th, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, th)
	}
	return out, rows.Err()
}

// ListAbandonedThreads returns a user's abandoned threads, oldest
// activity first, so the longest-waiting correspondents surface first.
func (s *Store) ListAbandonedThreads(userID int64) ([]*threads.Thread, error) {
	rows, err := s.db.Query(`
		SELECT thread_key, subject, message_ids, has_replied,
		       last_received_id, median_response_secs, is_abandoned, last_activity
		FROM threads
		WHERE user_id = ? AND is_abandoned = 1
		ORDER BY last_activity ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list abandoned threads: %w", err)
	}
	defer rows.Close()

	var out []*threads.Thread
	for rows.Next() {
		th, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, th)
	}
	return out, rows.Err()
}

// DeleteThreads removes every thread for a user, for full rebuilds.
func (s *Store) DeleteThreads(userID int64) error {
	_, err := s.db.Exec(`DELETE FROM threads WHERE user_id = ?`, userID)
	return err
}

func scanThread(rows *sql.Rows) (*threads.Thread, error) {
	var th threads.Thread
	var ids string
	var median, lastActivity sql.NullInt64

	err := rows.Scan(
		&th.ID, &th.Subject, &ids, &th.HasReplied,
		&th.LastReceived, &median, &th.IsAbandoned, &lastActivity,
	)
	if err != nil {
		return nil, fmt.Errorf("scan thread: %w", err)
	}
	if err := json.Unmarshal([]byte(ids), &th.MessageIDs); err != nil {
		return nil, fmt.Errorf("decode message ids for %s: %w", th.ID, err)
	}
	if median.Valid {
		th.MedianResponse = time.Duration(median.Int64) * time.Second
		th.HasResponseStat = true
	}
	th.LastActivity = timeFromNull(lastActivity)
	return &th, nil
}
