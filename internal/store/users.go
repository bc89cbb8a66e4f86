package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrUserNotFound is returned when a lookup by email matches no user.
var ErrUserNotFound = errors.New("user not found")

// User is one analyzed mailbox owner. Watermark is the timestamp of the
// newest record covered by the last completed run; the zero time means
// no completed run yet.
type User struct {
	ID          int64
	Email       string
	DisplayName string
	Watermark   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// GetOrCreateUser gets or creates a user by email.
func (s *Store) GetOrCreateUser(email string) (*User, error) {
	u, err := s.GetUser(email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	now := time.Now().Unix()
	result, err := s.db.Exec(`
		INSERT INTO users (email, created_at, updated_at)
		VALUES (?, ?, ?)
	`, email, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, _ := result.LastInsertId()
	return &User{
		ID:        id,
		Email:     email,
		CreatedAt: time.Unix(now, 0).UTC(),
		UpdatedAt: time.Unix(now, 0).UTC(),
	}, nil
}

// GetUser returns the user with the given email, or ErrUserNotFound.
func (s *Store) GetUser(email string) (*User, error) {
	row := s.db.QueryRow(`
		SELECT id, email, display_name, watermark, created_at, updated_at
		FROM users
		WHERE email = ?
	`, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// ListUsers returns all users ordered by email.
func (s *Store) ListUsers() ([]*User, error) {
	rows, err := s.db.Query(`
		SELECT id, email, display_name, watermark, created_at, updated_at
		FROM users
		ORDER BY email
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetWatermark records the newest covered record timestamp for a user.
// Only completed runs should advance it.
func (s *Store) SetWatermark(userID int64, watermark time.Time) error {
	_, err := s.db.Exec(`
		UPDATE users
		SET watermark = ?, updated_at = ?
		WHERE id = ?
	`, nullUnix(watermark), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return nil
}

// SetUserDisplayName updates the user's display name.
func (s *Store) SetUserDisplayName(userID int64, name string) error {
	_, err := s.db.Exec(`
		UPDATE users
		SET display_name = ?, updated_at = ?
		WHERE id = ?
	`, name, time.Now().Unix(), userID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var displayName sql.NullString
	var watermark sql.NullInt64
	var createdAt, updatedAt int64

	if err := row.Scan(&u.ID, &u.Email, &displayName, &watermark, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	u.DisplayName = displayName.String
	u.Watermark = timeFromNull(watermark)
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	u.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &u, nil
}
