package store

import "time"

// UserLookup is a cached username <-> user id pair.
type UserLookup struct {
	Username string
	UserID   string
}

// SyncCheckpoint is one stored sync_state row.
type SyncCheckpoint struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}
