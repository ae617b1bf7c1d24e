package store

import (
	"database/sql"
	"errors"
	"time"
)

// PutUserLookup stores a username <-> user id pair.
func (db *DB) PutUserLookup(u UserLookup) error {
	_, err := db.Exec(`
		INSERT INTO user_lookup (username, user_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			user_id = excluded.user_id,
			updated_at = excluded.updated_at`,
		u.Username, u.UserID, time.Now().UnixMilli())
	return err
}

// UserIDByName returns the cached user id for username, or "" if unknown.
func (db *DB) UserIDByName(username string) (string, error) {
	var id string
	err := db.QueryRow(`SELECT user_id FROM user_lookup WHERE username = ?`, username).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

// UsernameByID returns the cached username for a user id, or "" if unknown.
func (db *DB) UsernameByID(userID string) (string, error) {
	var name string
	err := db.QueryRow(`
		SELECT username FROM user_lookup WHERE user_id = ?
		ORDER BY updated_at DESC LIMIT 1`, userID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return name, err
}

// ListUserLookups returns every cached pair.
func (db *DB) ListUserLookups() ([]UserLookup, error) {
	rows, err := db.Query(`SELECT username, user_id FROM user_lookup ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []UserLookup
	for rows.Next() {
		var u UserLookup
		if err := rows.Scan(&u.Username, &u.UserID); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
