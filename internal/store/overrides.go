package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/spinwatch/spinwatch/internal/normalize"
)

// SetOverride pins a name to a CAID, replacing any previous pin for the
// same normalized name.
func (db *DB) SetOverride(name, caid string, verified bool, notes *string) (*ManualOverride, error) {
	name = normalize.Name(name)
	if name == "" || caid == "" {
		return nil, fmt.Errorf("override name and caid are required")
	}
	if IsPending(caid) {
		return nil, fmt.Errorf("override caid must not be a placeholder")
	}
	key := normalize.Key(name)
	_, err := db.conn.Exec(`
		INSERT INTO manual_overrides (name_key, name_original, caid, verified, notes)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name_key) DO UPDATE SET
			name_original = excluded.name_original,
			caid = excluded.caid,
			verified = excluded.verified,
			notes = excluded.notes`,
		key, name, caid, verified, notes)
	if err != nil {
		return nil, fmt.Errorf("setting override %q: %w", name, err)
	}
	return db.GetOverride(name)
}

// GetOverride looks up a pin by name (normalized before lookup).
func (db *DB) GetOverride(name string) (*ManualOverride, error) {
	row := db.conn.QueryRow(`
		SELECT id, name_key, name_original, caid, verified, notes, created_at
		FROM manual_overrides WHERE name_key = ?`, normalize.Key(name))
	o, err := scanOverride(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("override %q: %w", name, ErrNotFound)
	}
	return o, err
}

// ListOverrides returns all pins ordered by original name.
func (db *DB) ListOverrides() ([]*ManualOverride, error) {
	rows, err := db.conn.Query(`
		SELECT id, name_key, name_original, caid, verified, notes, created_at
		FROM manual_overrides ORDER BY name_original COLLATE NOCASE`)
	if err != nil {
		return nil, fmt.Errorf("querying overrides: %w", err)
	}
	defer rows.Close()

	var overrides []*ManualOverride
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// RemoveOverride deletes a pin. Artists already resolved through it keep
// their CAID.
func (db *DB) RemoveOverride(name string) error {
	res, err := db.conn.Exec(
		"DELETE FROM manual_overrides WHERE name_key = ?", normalize.Key(name))
	if err != nil {
		return fmt.Errorf("removing override %q: %w", name, err)
	}
	return requireRow(res, "override "+name)
}

// MarkOverrideVerified records that the pinned CAID was confirmed against
// the identity service.
func (db *DB) MarkOverrideVerified(name string) error {
	res, err := db.conn.Exec(
		"UPDATE manual_overrides SET verified = 1 WHERE name_key = ?", normalize.Key(name))
	if err != nil {
		return fmt.Errorf("verifying override %q: %w", name, err)
	}
	return requireRow(res, "override "+name)
}

func scanOverride(row rowScanner) (*ManualOverride, error) {
	var o ManualOverride
	var created string
	err := row.Scan(&o.ID, &o.NameKey, &o.NameOriginal, &o.CAID, &o.Verified, &o.Notes, &created)
	if err != nil {
		return nil, err
	}
	o.CreatedAt = parseTime(created)
	return &o, nil
}
