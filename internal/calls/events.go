package calls

import "context"

type EventKind string

const (
	EventInitiated EventKind = "call.initiated"
	EventAccepted  EventKind = "call.accepted"
	EventRejected  EventKind = "call.rejected"
	EventEnded     EventKind = "call.ended"
)

// TransitionEvent describes one committed transition. ActorID caused it and
// TargetID (always the other participant) is the one to notify.
type TransitionEvent struct {
	Kind     EventKind
	Call     Call
	ActorID  string
	TargetID string
}

// Notifier fans a committed transition out to the counterpart.
// Implementations must not fail the transition: Dispatch has no error.
type Notifier interface {
	Dispatch(ctx context.Context, ev TransitionEvent)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev TransitionEvent)

func (f NotifierFunc) Dispatch(ctx context.Context, ev TransitionEvent) { f(ctx, ev) }

type noopNotifier struct{}

func (noopNotifier) Dispatch(context.Context, TransitionEvent) {}

func eventKindFor(t Transition) EventKind {
	switch t {
	case TransitionInitiate:
		return EventInitiated
	case TransitionAccept:
		return EventAccepted
	case TransitionReject:
		return EventRejected
	default:
		return EventEnded
	}
}
