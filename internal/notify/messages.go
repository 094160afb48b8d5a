package notify

import (
	"fmt"

	"call-signaling/internal/calls"
	"call-signaling/internal/identity"
	"call-signaling/internal/push"
)

// message is everything one transition sends to its target.
type message struct {
	Channel string
	Event   string
	Payload map[string]any
	Push    push.Notification
}

// unknownName stands in when the actor cannot be looked up.
const unknownName = "Someone"

func photo(u identity.User) any {
	if u.PhotoURL == "" {
		return nil
	}
	return u.PhotoURL
}

// compose builds the broadcast and push for ev. actor is the user who caused
// the transition.
func compose(ev calls.TransitionEvent, actor identity.User) (message, error) {
	c := ev.Call
	name := actor.Name
	if name == "" {
		name = unknownName
	}
	m := message{Channel: userChannel(ev.TargetID), Event: string(ev.Kind)}

	switch ev.Kind {
	case calls.EventInitiated:
		m.Payload = map[string]any{
			"call_id":   c.ID,
			"room_id":   c.RoomID,
			"call_type": string(c.Type),
			"caller": map[string]any{
				"id":                actor.ID,
				"name":              actor.Name,
				"profile_photo_url": photo(actor),
			},
		}
		m.Push = push.Notification{
			Kind:  push.KindIncomingCall,
			Title: "Incoming Call",
			Body:  name + " is calling you...",
			Data: map[string]any{
				"call_id":      c.ID,
				"room_id":      c.RoomID,
				"call_type":    string(c.Type),
				"caller_id":    c.CallerID,
				"caller_name":  actor.Name,
				"caller_photo": photo(actor),
			},
		}
	case calls.EventAccepted:
		m.Payload = map[string]any{
			"call_id":   c.ID,
			"room_id":   c.RoomID,
			"call_type": string(c.Type),
			"caller_id": c.CallerID,
		}
		m.Push = push.Notification{
			Kind:  push.KindCallAccepted,
			Title: "Call Accepted",
			Body:  name + " accepted your call",
			Data:  map[string]any{"call_id": c.ID, "room_id": c.RoomID},
		}
	case calls.EventRejected:
		m.Payload = map[string]any{"call_id": c.ID}
		m.Push = push.Notification{
			Kind:  push.KindCallRejected,
			Title: "Call Declined",
			Body:  name + " declined your call",
			Data:  map[string]any{"call_id": c.ID},
		}
	case calls.EventEnded:
		m.Payload = map[string]any{"call_id": c.ID}
		m.Push = push.Notification{
			Kind:  push.KindCallEnded,
			Title: "Call Ended",
			Body:  "Call with " + name + " has ended",
			Data:  map[string]any{"call_id": c.ID},
		}
	default:
		return message{}, fmt.Errorf("notify: unknown event kind %q", ev.Kind)
	}
	return m, nil
}
