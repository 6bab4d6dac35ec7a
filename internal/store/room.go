package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// EnsureRoom inserts a room row with default fields if none exists yet, tagging
// its initial membership. Rooms are created lazily on first sight.
func (t *Txn) EnsureRoom(roomID, membership string) error {
	if membership == "" {
		membership = MembershipUnknown
	}
	_, err := t.tx.Exec(`
		INSERT INTO rooms (room_id, membership) VALUES (?, ?)
		ON CONFLICT(room_id) DO NOTHING`,
		roomID, membership)
	return err
}

// ApplyRoomPatch overwrites membership and the counters unconditionally and
// the optional summary fields only when the patch carries them. The room row
// must already exist (EnsureRoom).
func (t *Txn) ApplyRoomPatch(p *RoomPatch) error {
	sets := []string{"membership = ?", "highlight_count = ?", "notification_count = ?"}
	args := []any{p.Membership, p.HighlightCount, p.NotificationCount}

	if p.JoinedCount != nil {
		sets = append(sets, "joined_count = ?")
		args = append(args, *p.JoinedCount)
	}
	if p.InvitedCount != nil {
		sets = append(sets, "invited_count = ?")
		args = append(args, *p.InvitedCount)
	}
	if p.Heroes != nil {
		heroes, err := json.Marshal(p.Heroes)
		if err != nil {
			return fmt.Errorf("marshal heroes: %w", err)
		}
		sets = append(sets, "heroes = ?")
		args = append(args, string(heroes))
	}
	if p.PrevBatch != nil {
		sets = append(sets, "prev_batch = ?")
		args = append(args, *p.PrevBatch)
	}

	args = append(args, p.ID)
	_, err := t.tx.Exec(`UPDATE rooms SET `+strings.Join(sets, ", ")+` WHERE room_id = ?`, args...)
	return err
}

// ClearRoomTimeline deletes every cached event of a room. Used when the server
// signals a gap in the timeline: cached events are no longer contiguous with
// history and would produce a false view if kept.
func (t *Txn) ClearRoomTimeline(roomID string) error {
	_, err := t.tx.Exec(`DELETE FROM events WHERE room_id = ?`, roomID)
	return err
}

// RoomFilter selects rooms for ListRooms. Left filters on membership;
// DirectOnly and GroupOnly are mutually exclusive — requesting both yields an
// empty result by contract.
type RoomFilter struct {
	Left       bool
	DirectOnly bool
	GroupOnly  bool
}

const roomColumns = `room_id, membership, highlight_count, notification_count, prev_batch, joined_count, invited_count, heroes`

// GetRoom returns a single room by id, or nil if not cached.
func (db *DB) GetRoom(roomID string) (*Room, error) {
	row := db.QueryRow(`SELECT `+roomColumns+` FROM rooms WHERE room_id = ?`, roomID)
	r, err := scanRoom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListRooms returns rooms matching the filter, ordered by room id.
func (db *DB) ListRooms(f RoomFilter) ([]Room, error) {
	if f.DirectOnly && f.GroupOnly {
		return nil, nil
	}

	q := `SELECT ` + roomColumns + ` FROM rooms WHERE membership `
	if f.Left {
		q += `= ?`
	} else {
		q += `!= ?`
	}
	args := []any{MembershipLeave}

	// A direct room has exactly two members counting invites.
	if f.DirectOnly {
		q += ` AND joined_count + invited_count = 2`
	} else if f.GroupOnly {
		q += ` AND joined_count + invited_count != 2`
	}
	q += ` ORDER BY room_id ASC`

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*Room, error) {
	var r Room
	var heroes string
	if err := row.Scan(&r.ID, &r.Membership, &r.HighlightCount, &r.NotificationCount,
		&r.PrevBatch, &r.JoinedCount, &r.InvitedCount, &heroes); err != nil {
		return nil, err
	}
	if heroes != "" {
		if err := json.Unmarshal([]byte(heroes), &r.Heroes); err != nil {
			return nil, fmt.Errorf("unmarshal heroes: %w", err)
		}
	}
	return &r, nil
}
