package calls

import "time"

type Transition string

const (
	TransitionInitiate Transition = "initiate"
	TransitionAccept   Transition = "accept"
	TransitionReject   Transition = "reject"
	TransitionEnd      Transition = "end"
)

// Actor is whoever asks for a transition: an authenticated user or the
// system housekeeping sweep.
type Actor struct {
	UserID string
	System bool
}

func UserActor(id string) Actor { return Actor{UserID: id} }

// SystemActor may only end calls.
var SystemActor = Actor{System: true}

// Decision is what a legal transition will write.
// Noop means the call is already in the target state and nothing is written.
type Decision struct {
	From  Status
	Patch Patch
	Noop  bool
}

// legalFrom lists the statuses each transition may leave.
var legalFrom = map[Transition][]Status{
	TransitionAccept: {StatusInitiated},
	TransitionReject: {StatusInitiated, StatusRinging},
	TransitionEnd:    {StatusInitiated, StatusRinging, StatusAccepted},
}

// Plan decides whether actor may apply t to c at now. It checks the actor
// first and the status second, so a non-participant never learns the status.
func Plan(t Transition, c Call, actor Actor, now time.Time) (Decision, error) {
	if err := authorize(t, c, actor); err != nil {
		return Decision{}, err
	}

	if t == TransitionEnd && c.Status == StatusEnded {
		return Decision{From: c.Status, Noop: true}, nil
	}
	if !statusIn(c.Status, legalFrom[t]) {
		return Decision{}, ErrInvalidTransition
	}

	now = now.UTC()
	d := Decision{From: c.Status, Patch: Patch{UpdatedAt: now}}
	switch t {
	case TransitionAccept:
		d.Patch.Status = StatusAccepted
		d.Patch.StartedAt = &now
	case TransitionReject:
		d.Patch.Status = StatusRejected
		d.Patch.EndedAt = &now
	case TransitionEnd:
		d.Patch.Status = StatusEnded
		d.Patch.EndedAt = &now
		if c.StartedAt != nil {
			secs := wholeSeconds(now.Sub(*c.StartedAt))
			d.Patch.Duration = &secs
		}
	}
	return d, nil
}

func authorize(t Transition, c Call, actor Actor) error {
	switch t {
	case TransitionAccept, TransitionReject:
		if actor.System || actor.UserID != c.ReceiverID {
			return ErrUnauthorized
		}
	case TransitionEnd:
		if !actor.System && !c.IsParticipant(actor.UserID) {
			return ErrUnauthorized
		}
	default:
		return ErrInvalidTransition
	}
	return nil
}

func statusIn(s Status, set []Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func wholeSeconds(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}
