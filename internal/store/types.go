package store

// Membership values as delivered by the server.
const (
	MembershipJoin    = "join"
	MembershipInvite  = "invite"
	MembershipLeave   = "leave"
	MembershipBan     = "ban"
	MembershipKnock   = "knock"
	MembershipUnknown = "unknown"
)

// Client is one local client identity: credentials, homeserver, device
// identity and the pagination cursor the next incremental sync resumes from.
type Client struct {
	Name           string
	AccessToken    string
	Homeserver     string
	UserID         string
	DeviceID       string
	DeviceName     string
	PrevBatch      string
	ServerVersions []string
	LazyLoading    bool
}

// Room is the cached view of one room the client has ever seen.
type Room struct {
	ID                string
	Membership        string
	HighlightCount    int
	NotificationCount int
	PrevBatch         string
	JoinedCount       int
	InvitedCount      int
	Heroes            []string
}

// Event is one cached timeline event. ID is unique; a pending row keyed by its
// client transaction id is re-keyed in place once the server echoes the send.
type Event struct {
	ID          string
	RoomID      string
	Timestamp   int64
	Sender      string
	Type        string
	Unsigned    string
	Content     string
	PrevContent string
	StateKey    string
	Status      DeliveryStatus
}

// StateEntry is the current value of one piece of room state, unique per
// (room, state key, type). Overwritten, never appended.
type StateEntry struct {
	RoomID      string
	StateKey    string
	Type        string
	EventID     string
	Timestamp   int64
	Sender      string
	Unsigned    string
	PrevContent string
	Content     string
}

// NotificationRef links a delivered notification to its room and event so it
// can be cleared later.
type NotificationRef struct {
	ID      int64
	RoomID  string
	EventID string
}

// RoomPatch is a sparse room update. Membership and the counters are always
// overwritten; the optional fields are applied only when present (non-nil),
// absent fields are left untouched.
type RoomPatch struct {
	ID                string
	Membership        string
	HighlightCount    int
	NotificationCount int
	JoinedCount       *int
	InvitedCount      *int
	Heroes            []string // nil = absent, empty slice = clear
	PrevBatch         *string
}
