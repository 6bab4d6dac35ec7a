package store

import (
	"database/sql"
	"time"
)

// UpsertEvent inserts the full event row, or replaces it in place if the event
// id is already cached (duplicate deliveries are idempotent).
func (t *Txn) UpsertEvent(e *Event) error {
	_, err := t.tx.Exec(`
		INSERT INTO events (event_id, room_id, timestamp, sender, type, unsigned, content, prev_content, state_key, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			room_id = excluded.room_id,
			timestamp = excluded.timestamp,
			sender = excluded.sender,
			type = excluded.type,
			unsigned = excluded.unsigned,
			content = excluded.content,
			prev_content = excluded.prev_content,
			state_key = excluded.state_key,
			status = excluded.status`,
		e.ID, e.RoomID, e.Timestamp, e.Sender, e.Type, e.Unsigned, e.Content,
		e.PrevContent, e.StateKey, e.Status)
	return err
}

// RekeyPendingEvent resolves a pending send in place: the row whose event id is
// still the client transaction id takes on the server-assigned event id and
// the new status, keeping its position and every other field. Returns false
// without touching anything when no such row exists or its current status does
// not admit the transition (stale or out-of-order status updates).
func (t *Txn) RekeyPendingEvent(txnID, eventID string, status DeliveryStatus) (bool, error) {
	var current DeliveryStatus
	err := t.tx.QueryRow(`SELECT status FROM events WHERE event_id = ?`, txnID).Scan(&current)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !current.CanTransition(status) {
		return false, nil
	}
	if eventID == "" {
		// A rejected send carries no server event id; the row keeps its
		// transaction id as identity.
		eventID = txnID
	}
	_, err = t.tx.Exec(`UPDATE events SET event_id = ?, status = ? WHERE event_id = ?`,
		eventID, status, txnID)
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteEvent removes an event row by id. Used to drop the optimistic
// placeholder once the authoritative row landed through a sync echo.
func (t *Txn) DeleteEvent(eventID string) error {
	_, err := t.tx.Exec(`DELETE FROM events WHERE event_id = ?`, eventID)
	return err
}

const eventColumns = `event_id, room_id, timestamp, sender, type, unsigned, content, prev_content, state_key, status`

// GetEvent returns a single event by (event id, room), or nil if not cached.
func (db *DB) GetEvent(eventID, roomID string) (*Event, error) {
	var e Event
	err := db.QueryRow(`SELECT `+eventColumns+` FROM events WHERE event_id = ? AND room_id = ?`,
		eventID, roomID).
		Scan(&e.ID, &e.RoomID, &e.Timestamp, &e.Sender, &e.Type, &e.Unsigned,
			&e.Content, &e.PrevContent, &e.StateKey, &e.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListRoomEvents returns events of a room ordered by timestamp descending,
// using keyset pagination by timestamp. Event ids are unique by schema, so the
// result carries no duplicates.
func (db *DB) ListRoomEvents(roomID string, beforeTS int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTS <= 0 {
		beforeTS = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT `+eventColumns+`
		FROM events
		WHERE room_id = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, roomID, beforeTS, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.RoomID, &e.Timestamp, &e.Sender, &e.Type,
			&e.Unsigned, &e.Content, &e.PrevContent, &e.StateKey, &e.Status); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// PendingSends returns events still in Sending status, oldest first. The
// outbox sender drains these.
func (db *DB) PendingSends() ([]Event, error) {
	rows, err := db.Query(`
		SELECT `+eventColumns+`
		FROM events
		WHERE status = ?
		ORDER BY timestamp ASC`, StatusSending)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.RoomID, &e.Timestamp, &e.Sender, &e.Type,
			&e.Unsigned, &e.Content, &e.PrevContent, &e.StateKey, &e.Status); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkSendFailed transitions a single pending row to Failed after a rejected
// or errored send, when no server echo will re-key it.
func (t *Txn) MarkSendFailed(txnID string) error {
	_, err := t.tx.Exec(`UPDATE events SET status = ? WHERE event_id = ? AND status = ?`,
		StatusFailed, txnID, StatusSending)
	return err
}

// RequeueFailedSend transitions a failed row back to Sending for another
// attempt. Returns false if the row is gone or not in Failed status.
func (t *Txn) RequeueFailedSend(txnID string) (bool, error) {
	res, err := t.tx.Exec(`UPDATE events SET status = ? WHERE event_id = ? AND status = ?`,
		StatusSending, txnID, StatusFailed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
