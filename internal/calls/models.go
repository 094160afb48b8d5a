package calls

import (
	"encoding/json"
	"time"
)

// Call is one audio/video session between two users.
//
// Invariants:
// - CallerID != ReceiverID.
// - Type is fixed at creation.
// - Status only changes through guarded transitions (see Plan) and a
//   terminal call is never mutated again.
// - Rows are never deleted; terminal calls are history.
//
// StartedAt is set only when the call is accepted. EndedAt is set on entry
// into a terminal status. Duration (whole seconds) is set only when a call
// that had started is ended.
type Call struct {
	ID         string   `json:"id"`
	RoomID     string   `json:"room_id"`
	CallerID   string   `json:"caller_id"`
	ReceiverID string   `json:"receiver_id"`
	Type       CallType `json:"call_type"`
	Status     Status   `json:"status"`

	StartedAt *time.Time `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`
	Duration  *int       `json:"duration"`

	// Metadata is opaque to the core. Always a JSON object.
	Metadata json.RawMessage `json:"metadata"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsParticipant reports whether userID is the caller or the receiver.
func (c Call) IsParticipant(userID string) bool {
	return userID != "" && (userID == c.CallerID || userID == c.ReceiverID)
}

// Counterpart returns the other participant, or "" if userID is not one.
func (c Call) Counterpart(userID string) string {
	switch userID {
	case c.CallerID:
		return c.ReceiverID
	case c.ReceiverID:
		return c.CallerID
	default:
		return ""
	}
}

type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

type Status string

const (
	StatusInitiated Status = "initiated"
	// StatusRinging is reserved for an out-of-band ringing signal. Nothing produces it yet.
	StatusRinging  Status = "ringing"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusEnded    Status = "ended"
	// StatusMissed is reserved. The stale-call sweep ends calls as StatusEnded.
	StatusMissed Status = "missed"
)

// ActiveStatuses are the non-terminal statuses.
var ActiveStatuses = []Status{StatusInitiated, StatusRinging, StatusAccepted}

func (s Status) IsActive() bool {
	switch s {
	case StatusInitiated, StatusRinging, StatusAccepted:
		return true
	default:
		return false
	}
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusEnded, StatusMissed:
		return true
	default:
		return false
	}
}

// Patch is the set of columns a transition writes.
// Nil pointers leave the stored value unchanged.
type Patch struct {
	Status    Status
	StartedAt *time.Time
	EndedAt   *time.Time
	Duration  *int
	UpdatedAt time.Time
}

// Apply returns c with p written over it.
func (p Patch) Apply(c Call) Call {
	c.Status = p.Status
	if p.StartedAt != nil {
		c.StartedAt = p.StartedAt
	}
	if p.EndedAt != nil {
		c.EndedAt = p.EndedAt
	}
	if p.Duration != nil {
		c.Duration = p.Duration
	}
	c.UpdatedAt = p.UpdatedAt
	return c
}

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Page selects a slice of a newest-first listing. Page numbers start at 1.
type Page struct {
	Page    int
	PerPage int
}

// Normalize clamps the page into its valid range.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage <= 0 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

func (p Page) Offset() int {
	return (p.Page - 1) * p.PerPage
}

type PageResult struct {
	Data    []Call `json:"data"`
	Page    int    `json:"page"`
	PerPage int    `json:"per_page"`
	Total   int    `json:"total"`
}
