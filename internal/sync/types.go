package sync

import "github.com/lbrandao/mtx/internal/store"

// UpdateKind distinguishes where an event delta came from.
type UpdateKind string

const (
	// KindTimeline is a live event on the forward edge of a room timeline.
	KindTimeline UpdateKind = "timeline"
	// KindHistory is a backfilled event; history never touches current state.
	KindHistory UpdateKind = "history"
)

// UserUpdateKind discriminates the two user-scoped update flavors.
type UserUpdateKind string

const (
	UserAccountData UserUpdateKind = "account_data"
	UserPresence    UserUpdateKind = "presence"
)

// Batch is one delta delivered by the external sync loop per cycle. The whole
// batch is applied inside a single transaction scope.
type Batch struct {
	// NextBatch is the pagination cursor to resume the following sync from.
	NextBatch string

	Rooms  []*RoomUpdate
	Events []*EventUpdate
	Users  []*UserUpdate
}

// RoomUpdate carries room-level counters, membership and the sparse summary
// fields. Nil optional fields were not present in the delta and leave the
// stored values untouched.
type RoomUpdate struct {
	RoomID            string
	Membership        string
	HighlightCount    int
	NotificationCount int
	JoinedCount       *int
	InvitedCount      *int
	Heroes            []string

	// Limited signals a timeline gap: the server could not supply a
	// contiguous delta. Cached events of the room are invalidated and
	// PrevBatch becomes the room's new pagination cursor.
	Limited   bool
	PrevBatch string
}

// EventUpdate carries one event delta. TransactionID correlates a server echo
// or send acknowledgement back to the locally stored pending row. A nil Status
// means the event arrived through a plain sync and defaults to Synced.
type EventUpdate struct {
	Kind        UpdateKind
	RoomID      string
	EventID     string
	Type        string
	StateKey    string
	Sender      string
	Timestamp   int64
	Content     string
	PrevContent string
	Unsigned    string

	TransactionID string
	Status        *store.DeliveryStatus
}

// UserUpdate carries global account data or presence, discriminated by Kind.
type UserUpdate struct {
	Kind UserUpdateKind

	// Type is the account data event type (account_data kind).
	Type string
	// Sender is the presence owner (presence kind).
	Sender  string
	Content string
}
