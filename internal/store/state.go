package store

import "database/sql"

// EventTypeMember is the state event type carrying room membership.
const EventTypeMember = "m.room.member"

// UpsertStateEntry stores the current value for one (room, state key, type)
// triple, replacing any previous value. Latest state wins.
func (t *Txn) UpsertStateEntry(e *StateEntry) error {
	_, err := t.tx.Exec(`
		INSERT INTO room_states (room_id, state_key, type, event_id, timestamp, sender, unsigned, prev_content, content)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_id, state_key, type) DO UPDATE SET
			event_id = excluded.event_id,
			timestamp = excluded.timestamp,
			sender = excluded.sender,
			unsigned = excluded.unsigned,
			prev_content = excluded.prev_content,
			content = excluded.content`,
		e.RoomID, e.StateKey, e.Type, e.EventID, e.Timestamp, e.Sender,
		e.Unsigned, e.PrevContent, e.Content)
	return err
}

// UpsertAccountData stores the latest global account data value per type.
func (t *Txn) UpsertAccountData(eventType, content string) error {
	_, err := t.tx.Exec(`
		INSERT INTO account_data (type, content) VALUES (?, ?)
		ON CONFLICT(type) DO UPDATE SET content = excluded.content`,
		eventType, content)
	return err
}

// UpsertRoomAccountData stores the latest room-scoped account data value per
// (type, room).
func (t *Txn) UpsertRoomAccountData(eventType, roomID, content string) error {
	_, err := t.tx.Exec(`
		INSERT INTO room_account_data (type, room_id, content) VALUES (?, ?, ?)
		ON CONFLICT(type, room_id) DO UPDATE SET content = excluded.content`,
		eventType, roomID, content)
	return err
}

// UpsertPresence stores the latest known presence per sender.
func (t *Txn) UpsertPresence(sender, content string) error {
	_, err := t.tx.Exec(`
		INSERT INTO presences (sender, content) VALUES (?, ?)
		ON CONFLICT(sender) DO UPDATE SET content = excluded.content`,
		sender, content)
	return err
}

const stateColumns = `room_id, state_key, type, event_id, timestamp, sender, unsigned, prev_content, content`

// GetStateEntry returns one state triple of a room, or nil if not cached.
func (db *DB) GetStateEntry(roomID, stateKey, eventType string) (*StateEntry, error) {
	var e StateEntry
	err := db.QueryRow(`SELECT `+stateColumns+` FROM room_states WHERE room_id = ? AND state_key = ? AND type = ?`,
		roomID, stateKey, eventType).
		Scan(&e.RoomID, &e.StateKey, &e.Type, &e.EventID, &e.Timestamp,
			&e.Sender, &e.Unsigned, &e.PrevContent, &e.Content)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// RoomStateEntries returns all accumulated state rows of a room. Used to
// hydrate rooms and their members.
func (db *DB) RoomStateEntries(roomID string) ([]StateEntry, error) {
	rows, err := db.Query(`SELECT `+stateColumns+` FROM room_states WHERE room_id = ?`, roomID)
	if err != nil {
		return nil, err
	}
	return collectStateEntries(rows)
}

// RoomMembers returns the member-type state rows of a room, ordered by state
// key.
func (db *DB) RoomMembers(roomID string) ([]StateEntry, error) {
	rows, err := db.Query(`
		SELECT `+stateColumns+` FROM room_states
		WHERE room_id = ? AND type = ?
		ORDER BY state_key ASC`, roomID, EventTypeMember)
	if err != nil {
		return nil, err
	}
	return collectStateEntries(rows)
}

// ContactEntries returns one member state row per distinct user across all
// rooms except excludeRoomID, excluding localUserID, ordered by state key.
func (db *DB) ContactEntries(excludeRoomID, localUserID string) ([]StateEntry, error) {
	rows, err := db.Query(`
		SELECT `+stateColumns+` FROM room_states
		WHERE type = ? AND room_id != ? AND state_key != ?
		GROUP BY state_key
		ORDER BY state_key ASC`, EventTypeMember, excludeRoomID, localUserID)
	if err != nil {
		return nil, err
	}
	return collectStateEntries(rows)
}

// AccountDataMap returns all global account data as a type to content map.
func (db *DB) AccountDataMap() (map[string]string, error) {
	return db.keyValueMap(`SELECT type, content FROM account_data`)
}

// PresenceMap returns the latest presence content per sender.
func (db *DB) PresenceMap() (map[string]string, error) {
	return db.keyValueMap(`SELECT sender, content FROM presences`)
}

// GetRoomAccountData returns room-scoped account data content, or empty string
// if not cached.
func (db *DB) GetRoomAccountData(eventType, roomID string) (string, error) {
	var content string
	err := db.QueryRow(`SELECT content FROM room_account_data WHERE type = ? AND room_id = ?`,
		eventType, roomID).Scan(&content)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return content, nil
}

func (db *DB) keyValueMap(query string) (map[string]string, error) {
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func collectStateEntries(rows *sql.Rows) ([]StateEntry, error) {
	defer func() { _ = rows.Close() }()

	var entries []StateEntry
	for rows.Next() {
		var e StateEntry
		if err := rows.Scan(&e.RoomID, &e.StateKey, &e.Type, &e.EventID,
			&e.Timestamp, &e.Sender, &e.Unsigned, &e.PrevContent, &e.Content); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
