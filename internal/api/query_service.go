// Package api exposes read-only query services over the committed store state
// for UI surfaces. Queries never open a write scope.
package api

import (
	"encoding/json"
	"fmt"

	"github.com/lbrandao/mtx/internal/store"
)

// User is a room member hydrated from its cached member state row.
type User struct {
	ID          string
	Displayname string
	AvatarURL   string
	Membership  string
}

// memberContent mirrors the JSON content of a member state event.
type memberContent struct {
	Membership  string `json:"membership"`
	Displayname string `json:"displayname"`
	AvatarURL   string `json:"avatar_url"`
}

// QueryService reconstructs rooms, events, users, account data, presence and
// notification records from stored rows.
type QueryService struct {
	db     *store.DB
	client string
}

// NewQueryService creates a query service for the named client session.
func NewQueryService(db *store.DB, client string) *QueryService {
	return &QueryService{db: db, client: client}
}

// Member returns a single user by (user id, room), or nil if not cached.
func (s *QueryService) Member(userID, roomID string) (*User, error) {
	entry, err := s.db.GetStateEntry(roomID, userID, store.EventTypeMember)
	if err != nil {
		return nil, fmt.Errorf("member %q: %w", userID, err)
	}
	if entry == nil {
		return nil, nil
	}
	u := userFromState(entry)
	return &u, nil
}

// Contacts lists distinct users across all rooms except excludeRoomID,
// excluding the local user, alphabetically ordered by user id.
func (s *QueryService) Contacts(excludeRoomID string) ([]User, error) {
	localUser := ""
	client, err := s.db.GetClient(s.client)
	if err != nil {
		return nil, fmt.Errorf("load client: %w", err)
	}
	if client != nil {
		localUser = client.UserID
	}

	entries, err := s.db.ContactEntries(excludeRoomID, localUser)
	if err != nil {
		return nil, fmt.Errorf("contacts: %w", err)
	}
	return usersFromState(entries), nil
}

// Participants lists all members of a room.
func (s *QueryService) Participants(roomID string) ([]User, error) {
	entries, err := s.db.RoomMembers(roomID)
	if err != nil {
		return nil, fmt.Errorf("participants of %q: %w", roomID, err)
	}
	return usersFromState(entries), nil
}

// Timeline returns events of a room, newest first, with keyset pagination.
func (s *QueryService) Timeline(roomID string, beforeTS int64, limit int) ([]store.Event, error) {
	return s.db.ListRoomEvents(roomID, beforeTS, limit)
}

// Event returns a single event by (event id, room), or nil if not cached.
func (s *QueryService) Event(eventID, roomID string) (*store.Event, error) {
	return s.db.GetEvent(eventID, roomID)
}

// Rooms lists rooms matching the filter. Requesting DirectOnly and GroupOnly
// together yields an empty list by contract.
func (s *QueryService) Rooms(f store.RoomFilter) ([]store.Room, error) {
	return s.db.ListRooms(f)
}

// Room returns a single room by id, or nil if not cached.
func (s *QueryService) Room(roomID string) (*store.Room, error) {
	return s.db.GetRoom(roomID)
}

// RoomState returns the accumulated state rows of a room.
func (s *QueryService) RoomState(roomID string) ([]store.StateEntry, error) {
	return s.db.RoomStateEntries(roomID)
}

// AccountData returns all global account data as a type to content map.
func (s *QueryService) AccountData() (map[string]string, error) {
	return s.db.AccountDataMap()
}

// Presence returns the latest presence content per sender.
func (s *QueryService) Presence() (map[string]string, error) {
	return s.db.PresenceMap()
}

// Notifications returns the recorded notifications of a room.
func (s *QueryService) Notifications(roomID string) ([]store.NotificationRef, error) {
	return s.db.NotificationRefs(roomID)
}

// ClearNotifications drops the recorded notifications of a room so delivered
// notifications can be cancelled.
func (s *QueryService) ClearNotifications(roomID string) (int64, error) {
	return s.db.ClearNotificationRefs(roomID)
}

func userFromState(entry *store.StateEntry) User {
	u := User{ID: entry.StateKey}
	var content memberContent
	// Malformed content degrades to an id-only user rather than failing
	// the query.
	if err := json.Unmarshal([]byte(entry.Content), &content); err == nil {
		u.Displayname = content.Displayname
		u.AvatarURL = content.AvatarURL
		u.Membership = content.Membership
	}
	return u
}

func usersFromState(entries []store.StateEntry) []User {
	var users []User
	for i := range entries {
		users = append(users, userFromState(&entries[i]))
	}
	return users
}
