package store

import (
	"time"

	"github.com/matheus3301/dmsync/internal/model"
)

// InsertPendingOp persists a queued send. Inserting the same client message
// id twice keeps the first entry.
func (db *DB) InsertPendingOp(op model.PendingOp) error {
	ts := op.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO pending_ops (client_message_id, recipient, content, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(client_message_id) DO NOTHING`,
		op.ClientMessageID, op.Recipient, op.Content, ts.UnixMilli())
	return err
}

// DeletePendingOp removes the queued send with the given client message id.
// Returns whether a row was removed.
func (db *DB) DeletePendingOp(clientMsgID string) (bool, error) {
	res, err := db.Exec(`DELETE FROM pending_ops WHERE client_message_id = ?`, clientMsgID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListPendingOps returns queued sends oldest first.
func (db *DB) ListPendingOps() ([]model.PendingOp, error) {
	rows, err := db.Query(`
		SELECT client_message_id, recipient, content, created_at
		FROM pending_ops ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ops []model.PendingOp
	for rows.Next() {
		var op model.PendingOp
		var ts int64
		if err := rows.Scan(&op.ClientMessageID, &op.Recipient, &op.Content, &ts); err != nil {
			return nil, err
		}
		op.Timestamp = time.UnixMilli(ts)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// CountPendingOps returns the number of queued sends.
func (db *DB) CountPendingOps() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pending_ops`).Scan(&n)
	return n, err
}

// ClearPendingOps drops every queued send.
func (db *DB) ClearPendingOps() error {
	_, err := db.Exec(`DELETE FROM pending_ops`)
	return err
}
