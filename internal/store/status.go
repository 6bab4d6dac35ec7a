package store

import "slices"

// DeliveryStatus tracks how far an event has travelled: composed locally,
// acknowledged by the server, or received through a sync batch.
type DeliveryStatus int

const (
	StatusFailed  DeliveryStatus = -1
	StatusSending DeliveryStatus = 0
	StatusSent    DeliveryStatus = 1
	StatusSynced  DeliveryStatus = 2
)

// validTransitions defines the allowed delivery status transitions. A pending
// send is resolved by the server ack (Sent), a rejection (Failed) or the sync
// echo arriving first (Synced); a sent event is confirmed by its echo; a
// failed send may be queued again.
var validTransitions = map[DeliveryStatus][]DeliveryStatus{
	StatusSending: {StatusSent, StatusFailed, StatusSynced},
	StatusSent:    {StatusSynced},
	StatusFailed:  {StatusSending},
	StatusSynced:  {},
}

// CanTransition reports whether moving from s to next is a valid delivery
// status transition.
func (s DeliveryStatus) CanTransition(next DeliveryStatus) bool {
	return slices.Contains(validTransitions[s], next)
}

func (s DeliveryStatus) String() string {
	switch s {
	case StatusFailed:
		return "failed"
	case StatusSending:
		return "sending"
	case StatusSent:
		return "sent"
	case StatusSynced:
		return "synced"
	}
	return "unknown"
}
