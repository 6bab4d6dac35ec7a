package bus

import "time"

// Event is a domain event published on the bus. Kind is a dot-separated name
// whose leading segments act as a namespace, e.g. "net.batch" (inbound sync
// batches), "sync.batch_applied", "room.timeline_reset", "event.pending",
// "event.send_ack", "event.send_failed", "session.status_changed".
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
