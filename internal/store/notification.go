package store

// AddNotificationRef records a delivered notification, linking its room and
// event, and returns the assigned numeric id.
func (db *DB) AddNotificationRef(roomID, eventID string) (int64, error) {
	res, err := db.Exec(`INSERT INTO notifications_cache (room_id, event_id) VALUES (?, ?)`,
		roomID, eventID)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// NotificationRefs returns the recorded notifications for a room.
func (db *DB) NotificationRefs(roomID string) ([]NotificationRef, error) {
	rows, err := db.Query(`SELECT id, room_id, event_id FROM notifications_cache WHERE room_id = ?`, roomID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var refs []NotificationRef
	for rows.Next() {
		var r NotificationRef
		if err := rows.Scan(&r.ID, &r.RoomID, &r.EventID); err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// ClearNotificationRefs drops all recorded notifications for a room, returning
// how many were cleared.
func (db *DB) ClearNotificationRefs(roomID string) (int64, error) {
	res, err := db.Exec(`DELETE FROM notifications_cache WHERE room_id = ?`, roomID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
