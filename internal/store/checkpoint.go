package store

import (
	"database/sql"
	"errors"
	"time"
)

// SetCheckpoint upserts a sync checkpoint value.
func (db *DB) SetCheckpoint(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// Checkpoint returns a sync checkpoint value and whether it exists.
func (db *DB) Checkpoint(key string) (string, bool, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// ListCheckpoints returns every checkpoint ordered by key.
func (db *DB) ListCheckpoints() ([]SyncCheckpoint, error) {
	rows, err := db.Query(`SELECT key, value, updated_at FROM sync_state ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []SyncCheckpoint
	for rows.Next() {
		var c SyncCheckpoint
		var ts int64
		if err := rows.Scan(&c.Key, &c.Value, &ts); err != nil {
			return nil, err
		}
		c.UpdatedAt = time.UnixMilli(ts)
		out = append(out, c)
	}
	return out, rows.Err()
}
