package audit

import "time"

// Event is an immutable, append-only record of one call state change.
//
// Invariants:
// - Events are never updated or deleted.
// - call_id and type are required.
// - actor and ip capture are best-effort; transitions never block on audit failures.
//
// ActorUserID is empty for system actors (the stale-call sweep).
type Event struct {
	ID     string    `json:"id" db:"id"`
	CallID string    `json:"call_id" db:"call_id"`
	Type   EventType `json:"type" db:"type"`

	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	FromStatus string `json:"from_status,omitempty" db:"from_status"`
	ToStatus   string `json:"to_status" db:"to_status"`

	Message  string `json:"message,omitempty" db:"message"`
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeInitiated EventType = "call_initiated"
	EventTypeAccepted  EventType = "call_accepted"
	EventTypeRejected  EventType = "call_rejected"
	EventTypeEnded     EventType = "call_ended"
	EventTypeSwept     EventType = "call_swept"
)
