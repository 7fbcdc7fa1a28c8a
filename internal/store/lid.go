package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// MergeLIDMap upserts mappings; a known LID is re-pointed to the new phone.
func (db *DB) MergeLIDMap(mappings []LIDMapping) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range mappings {
		if m.LID == "" || m.PN == "" {
			continue
		}
		if _, err := tx.Exec(`
			INSERT INTO lid_map (lid, pn) VALUES (?, ?)
			ON CONFLICT(lid) DO UPDATE SET pn = excluded.pn`, m.LID, m.PN); err != nil {
			return fmt.Errorf("upsert lid_map %q: %w", m.LID, err)
		}
	}
	return tx.Commit()
}

// LookupPN returns the phone user mapped to lid.
func (db *DB) LookupPN(lid string) (string, bool, error) {
	var pn string
	err := db.QueryRow(`SELECT pn FROM lid_map WHERE lid = ?`, lid).Scan(&pn)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return pn, true, nil
}

// LIDMappings returns every stored mapping.
func (db *DB) LIDMappings() ([]LIDMapping, error) {
	rows, err := db.Query(`SELECT lid, pn FROM lid_map ORDER BY lid`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []LIDMapping
	for rows.Next() {
		var m LIDMapping
		if err := rows.Scan(&m.LID, &m.PN); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
