package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/commsight/commsight/internal/contacts"
)

// UpsertContacts writes contact profiles for a user, merging on the
// canonical email. Relationship and weight keep any manually assigned
// value on conflict; observation fields are refreshed from the run.
// A bad row is logged and skipped, not fatal to the batch; the skipped
// count reports how many were dropped.
func (s *Store) UpsertContacts(userID int64, profiles []*contacts.Profile) (written, skipped int, err error) {
	err = s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO contacts (user_id, canonical_email, display_name, addresses,
			                      domain, is_internal, relationship, weight, first_seen, last_seen)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, canonical_email) DO UPDATE SET
				display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE display_name END,
				addresses = excluded.addresses,
				domain = excluded.domain,
				is_internal = excluded.is_internal,
				first_seen = COALESCE(MIN(first_seen, excluded.first_seen), excluded.first_seen, first_seen),
				last_seen = COALESCE(MAX(last_seen, excluded.last_seen), excluded.last_seen, last_seen)
		`)
		if err != nil {
			return fmt.Errorf("prepare contact upsert: %w", err)
		}
		defer stmt.Close()

		for _, p := range profiles {
			if p.CanonicalEmail == "" {
				s.logger.Warn("skipping contact row", "user_id", userID, "error", "empty canonical email")
				skipped++
				continue
			}
			addrs, rowErr := json.Marshal(p.Addresses)
			if rowErr != nil {
				s.logger.Warn("skipping contact row", "contact", p.CanonicalEmail, "error", rowErr)
				skipped++
				continue
			}
			_, rowErr = stmt.Exec(
				userID, p.CanonicalEmail, p.DisplayName, string(addrs),
				p.Domain, p.IsInternal, p.Relationship, p.Weight,
				nullUnix(p.FirstSeen), nullUnix(p.LastSeen),
			)
			if rowErr != nil {
				s.logger.Warn("skipping contact row", "contact", p.CanonicalEmail, "error", rowErr)
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

// ListContacts returns all contact profiles for a user, in insertion
// order. The result can seed a Normalizer for an incremental run.
func (s *Store) ListContacts(userID int64) ([]*contacts.Profile, error) {
	rows, err := s.db.Query(`
		SELECT canonical_email, display_name, addresses, domain,
		       is_internal, relationship, weight, first_seen, last_seen
		FROM contacts
		WHERE user_id = ?
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var out []*contacts.Profile
	for rows.Next() {
		p, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetContact returns one contact profile, or nil if unknown.
func (s *Store) GetContact(userID int64, canonicalEmail string) (*contacts.Profile, error) {
	rows, err := s.db.Query(`
		SELECT canonical_email, display_name, addresses, domain,
		       is_internal, relationship, weight, first_seen, last_seen
		FROM contacts
		WHERE user_id = ? AND canonical_email = ?
	`, userID, canonicalEmail)
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanContact(rows)
}

// SetContactRelationship tags a stored contact with a relationship type.
func (s *Store) SetContactRelationship(userID int64, canonicalEmail, relationship string) error {
	result, err := s.db.Exec(`
		UPDATE contacts SET relationship = ?
		WHERE user_id = ? AND canonical_email = ?
	`, relationship, userID, canonicalEmail)
	if err != nil {
		return fmt.Errorf("set relationship: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("unknown contact %q", canonicalEmail)
	}
	return nil
}

// SetContactWeight assigns an importance weight to a stored contact.
func (s *Store) SetContactWeight(userID int64, canonicalEmail string, weight float64) error {
	result, err := s.db.Exec(`
		UPDATE contacts SET weight = ?
		WHERE user_id = ? AND canonical_email = ?
	`, weight, userID, canonicalEmail)
	if err != nil {
		return fmt.Errorf("set weight: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("unknown contact %q", canonicalEmail)
	}
	return nil
}

// DeleteContacts removes every contact for a user. Used only by an
// explicit purge, never by a full pipeline rebuild.
func (s *Store) DeleteContacts(userID int64) error {
	_, err := s.db.Exec(`DELETE FROM contacts WHERE user_id = ?`, userID)
	return err
}

func scanContact(rows *sql.Rows) (*contacts.Profile, error) {
	var p contacts.Profile
	var addresses string
	var firstSeen, lastSeen sql.NullInt64

	err := rows.Scan(
		&p.CanonicalEmail, &p.DisplayName, &addresses, &p.Domain,
		&p.IsInternal, &p.Relationship, &p.Weight, &firstSeen, &lastSeen,
	)
	if err != nil {
		return nil, fmt.Errorf("scan contact: %w", err)
	}
	if err := json.Unmarshal([]byte(addresses), &p.Addresses); err != nil {
		return nil, fmt.Errorf("decode addresses for %s: %w", p.CanonicalEmail, err)
	}
	p.FirstSeen = timeFromNull(firstSeen)
	p.LastSeen = timeFromNull(lastSeen)
	return &p, nil
}
